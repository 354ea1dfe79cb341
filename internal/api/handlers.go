package api

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/loqalabs/papercast/internal/docstore"
	"github.com/loqalabs/papercast/internal/ingest"
	"github.com/loqalabs/papercast/internal/upstream"
)

var documentPage = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Filename}}</title></head>
<body>
<h1>{{.Filename}}</h1>
<p>Uploaded {{.Uploaded}}</p>
<article>{{.Summary}}</article>
</body>
</html>
`))

func (s *Server) uploadDocument(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no file part")
	}
	if fh.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no selected file")
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "allowed file type is PDF")
	}
	if fh.Size > s.opts.MaxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	name := SecureFilename(fh.Filename)
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid file name")
	}

	path, err := s.saveUpload(fh)
	if err != nil {
		return err
	}
	res, err := s.ingester.Ingest(c.Request().Context(), ingest.Upload{Filename: name, Path: path})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	defer src.Close()

	dst, err := os.CreateTemp(s.opts.UploadDir, "upload-*.pdf")
	if err != nil {
		return "", err
	}
	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func (s *Server) listDocuments(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	docs, err := s.store.ListDocuments(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) getDocument(c echo.Context) error {
	doc, err := s.document(c)
	if err != nil {
		return err
	}
	if c.QueryParam("format") != "html" {
		return c.JSON(http.StatusOK, doc)
	}
	var summary bytes.Buffer
	if err := s.md.Convert([]byte(doc.Summary), &summary); err != nil {
		return err
	}
	// goldmark escapes raw HTML in the source, so the output is trusted
	var page bytes.Buffer
	err = documentPage.Execute(&page, map[string]any{
		"Filename": doc.Filename,
		"Uploaded": doc.UploadDate.Format(time.RFC1123),
		"Summary":  template.HTML(summary.String()),
	})
	if err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, page.Bytes())
}

func (s *Server) regeneratePodcast(c echo.Context) error {
	if s.podcasts == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "podcast generation disabled")
	}
	doc, err := s.document(c)
	if err != nil {
		return err
	}
	job, err := s.podcasts.Submit(c.Request().Context(), doc.ID, doc.Summary)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, job)
}

func (s *Server) listDocumentPodcasts(c echo.Context) error {
	doc, err := s.document(c)
	if err != nil {
		return err
	}
	jobs, err := s.store.ListJobsForDocument(c.Request().Context(), doc.ID)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []docstore.Job{}
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getPodcast(c echo.Context) error {
	job, err := s.store.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

type statusResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (s *Server) status(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()
	err := s.checker.Check(ctx)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, statusResponse{OK: true, Message: "API key is configured and working"})
	case errors.Is(err, upstream.ErrCredentialMissing):
		return c.JSON(http.StatusOK, statusResponse{Message: "API key not found in environment variables"})
	default:
		return c.JSON(http.StatusOK, statusResponse{Message: "API key validation failed: " + err.Error()})
	}
}

func (s *Server) finalPodcast(c echo.Context) error {
	if _, err := os.Stat(s.opts.FinalAudioPath); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no podcast generated yet")
	}
	return c.File(s.opts.FinalAudioPath)
}

func (s *Server) document(c echo.Context) (docstore.Document, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return docstore.Document{}, echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	return s.store.GetDocument(c.Request().Context(), id)
}
