package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loqalabs/papercast/internal/docstore"
	"github.com/loqalabs/papercast/internal/pdftext"
	"github.com/loqalabs/papercast/internal/podcast"
	"github.com/loqalabs/papercast/internal/summarizer"
	"github.com/loqalabs/papercast/internal/upstream"
)

type errorResponse struct {
	Error string `json:"error"`
}

// StatusFor maps a pipeline error to the HTTP status reported to clients.
func StatusFor(err error) int {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, upstream.ErrCredentialMissing):
		return http.StatusServiceUnavailable
	case upstream.IsUpstream(err):
		return http.StatusBadGateway
	case errors.Is(err, pdftext.ErrUnreadable), errors.Is(err, summarizer.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, podcast.ErrDisabled), errors.Is(err, podcast.ErrQueueFull), errors.Is(err, podcast.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := StatusFor(err)
	msg := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			slog.String("path", c.Path()),
			slog.Int("status", code),
			slog.String("error", err.Error()))
		if code == http.StatusInternalServerError {
			msg = http.StatusText(code)
		}
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Warn("failed to write error response", slog.String("error", err.Error()))
	}
}
