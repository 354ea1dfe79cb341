// Package ingest turns an uploaded PDF into a stored, summarized document
// and queues its podcast.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/papercast/internal/docstore"
	"github.com/loqalabs/papercast/internal/pdftext"
)

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Submitter interface {
	Submit(ctx context.Context, documentID int64, summary string) (docstore.Job, error)
}

// Upload is a PDF saved to a scratch location. Ingest owns the file and
// removes it when done.
type Upload struct {
	Filename string
	Path     string
}

type Result struct {
	Document docstore.Document `json:"document"`
	Job      *docstore.Job     `json:"job,omitempty"`
	// PodcastError is set when the document was stored but its podcast
	// could not be queued.
	PodcastError string `json:"podcast_error,omitempty"`
}

type Service struct {
	summarizer Summarizer
	store      *docstore.Store
	podcasts   Submitter
	extract    func(path string) (string, error)
	logger     *slog.Logger
}

// New builds the ingest path. podcasts may be nil when podcast generation is
// turned off.
func New(summarizer Summarizer, store *docstore.Store, podcasts Submitter, logger *slog.Logger) *Service {
	return &Service{
		summarizer: summarizer,
		store:      store,
		podcasts:   podcasts,
		extract:    pdftext.Extract,
		logger:     logger.With(slog.String("component", "ingest")),
	}
}

// Ingest extracts, summarizes and stores one upload. The document is
// written only when extraction and summarization both succeed; a podcast
// handoff failure is reported but never undoes the document.
func (s *Service) Ingest(ctx context.Context, up Upload) (Result, error) {
	defer func() {
		if err := os.Remove(up.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove upload", slog.String("path", up.Path), slog.String("error", err.Error()))
		}
	}()
	start := time.Now()

	text, err := s.extract(up.Path)
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", up.Filename, err)
	}
	summary, err := s.summarizer.Summarize(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("summarize %s: %w", up.Filename, err)
	}
	doc, err := s.store.InsertDocument(ctx, up.Filename, text, summary)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("document stored",
		slog.Int64("document_id", doc.ID),
		slog.String("filename", doc.Filename),
		slog.Int("text_chars", len(text)),
		slog.Duration("elapsed", time.Since(start)))

	res := Result{Document: doc}
	if s.podcasts == nil {
		return res, nil
	}
	job, err := s.podcasts.Submit(ctx, doc.ID, doc.Summary)
	if err != nil {
		s.logger.Warn("podcast handoff failed", slog.Int64("document_id", doc.ID), slog.String("error", err.Error()))
		res.PodcastError = err.Error()
		return res, nil
	}
	res.Job = &job
	return res, nil
}
