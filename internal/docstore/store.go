// Package docstore persists summarized documents and podcast jobs in a
// single SQLite file.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/papercast/internal/config"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// timestamps are stored as fixed-width UTC text so that ordering by the
// column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Document is a summarized upload. Rows are written once and never updated.
type Document struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	OriginalText string    `json:"original_text,omitempty"`
	Summary      string    `json:"summary"`
	UploadDate   time.Time `json:"upload_date"`
}

// Store wraps the SQLite database.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store path required")
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	if cfg.ResetOnStart {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(cfg.Path + suffix); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reset database: %w", err)
			}
		}
		log.Info("document store reset", slog.String("path", cfg.Path))
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("document store vacuum failed", slog.String("error", err.Error()))
		}
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    filename TEXT NOT NULL,
    original_text TEXT NOT NULL,
    summary TEXT NOT NULL,
    upload_date TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_upload_date ON documents(upload_date);
CREATE INDEX IF NOT EXISTS idx_documents_filename ON documents(filename);
CREATE TABLE IF NOT EXISTS podcast_jobs (
    id TEXT PRIMARY KEY,
    document_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    audio_path TEXT NOT NULL DEFAULT '',
    turns INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_podcast_jobs_document ON podcast_jobs(document_id, created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertDocument stores a new document and returns it with its id and
// upload date filled in.
func (s *Store) InsertDocument(ctx context.Context, filename, originalText, summary string) (Document, error) {
	doc := Document{
		Filename:     filename,
		OriginalText: originalText,
		Summary:      summary,
		UploadDate:   s.now(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(filename, original_text, summary, upload_date) VALUES(?, ?, ?, ?)`,
		doc.Filename, doc.OriginalText, doc.Summary, formatTime(doc.UploadDate))
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	if doc.ID, err = res.LastInsertId(); err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// GetDocument returns the document with the given id.
func (s *Store) GetDocument(ctx context.Context, id int64) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, original_text, summary, upload_date FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// FindDocumentByFilename returns the most recent document uploaded under
// filename.
func (s *Store) FindDocumentByFilename(ctx context.Context, filename string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, original_text, summary, upload_date FROM documents
		 WHERE filename = ? ORDER BY upload_date DESC, id DESC LIMIT 1`, filename)
	return scanDocument(row)
}

// ListDocuments returns documents newest first. The original text is not
// loaded.
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, summary, upload_date FROM documents
		 ORDER BY upload_date DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var uploaded string
		if err := rows.Scan(&d.ID, &d.Filename, &d.Summary, &uploaded); err != nil {
			return nil, err
		}
		d.UploadDate = parseTime(uploaded)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var d Document
	var uploaded string
	if err := row.Scan(&d.ID, &d.Filename, &d.OriginalText, &d.Summary, &uploaded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	d.UploadDate = parseTime(uploaded)
	return d, nil
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts
	}
	return time.Time{}
}
