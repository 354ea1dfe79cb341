// Package api exposes documents, podcast jobs and the final podcast over
// HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/loqalabs/papercast/internal/docstore"
	"github.com/loqalabs/papercast/internal/ingest"
)

type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (ingest.Result, error)
}

type Submitter interface {
	Submit(ctx context.Context, documentID int64, summary string) (docstore.Job, error)
}

// Checker reports whether the summarization service is usable.
type Checker interface {
	Check(ctx context.Context) error
}

type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	// FinalAudioPath is the podcast artifact served at /audio/final_podcast.
	FinalAudioPath string
}

type Server struct {
	echo     *echo.Echo
	opts     Options
	store    *docstore.Store
	ingester Ingester
	podcasts Submitter
	checker  Checker
	md       goldmark.Markdown
	logger   *slog.Logger
}

// New wires the routes. podcasts may be nil when podcast generation is off.
func New(opts Options, store *docstore.Store, ingester Ingester, podcasts Submitter, checker Checker, logger *slog.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 16 << 20
	}
	s := &Server{
		echo:     echo.New(),
		opts:     opts,
		store:    store,
		ingester: ingester,
		podcasts: podcasts,
		checker:  checker,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:   logger.With(slog.String("component", "api")),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
				if v.Status >= http.StatusInternalServerError {
					level = slog.LevelWarn
				}
			}
			s.logger.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	}))

	// multipart overhead on top of the file itself
	limit := fmt.Sprintf("%dK", (opts.MaxUploadBytes+64<<10)>>10)
	e.POST("/api/documents", s.uploadDocument, middleware.BodyLimit(limit))
	e.GET("/api/documents", s.listDocuments)
	e.GET("/api/documents/:id", s.getDocument)
	e.POST("/api/documents/:id/podcast", s.regeneratePodcast)
	e.GET("/api/documents/:id/podcasts", s.listDocumentPodcasts)
	e.GET("/api/podcasts/:id", s.getPodcast)
	e.GET("/api/status", s.status)
	e.GET("/audio/final_podcast", s.finalPodcast)
	return s
}

// Echo exposes the router so the runtime can mount health and metrics
// endpoints.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
