package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/loqalabs/papercast/internal/api"
	"github.com/loqalabs/papercast/internal/audio"
	"github.com/loqalabs/papercast/internal/bus"
	"github.com/loqalabs/papercast/internal/config"
	"github.com/loqalabs/papercast/internal/docstore"
	"github.com/loqalabs/papercast/internal/inbox"
	"github.com/loqalabs/papercast/internal/ingest"
	"github.com/loqalabs/papercast/internal/llm"
	"github.com/loqalabs/papercast/internal/natsserver"
	"github.com/loqalabs/papercast/internal/podcast"
	"github.com/loqalabs/papercast/internal/script"
	"github.com/loqalabs/papercast/internal/summarizer"
	"github.com/loqalabs/papercast/internal/tts"
)

type Runtime struct {
	cfg            config.Config
	version        string
	logger         *slog.Logger
	httpServer     *http.Server
	telemetryClose func(context.Context) error
	natsServer     *natsserver.EmbeddedServer
	bus            *bus.Client
	store          *docstore.Store
	podcasts       *podcast.Service
	inbox          *inbox.Watcher
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start brings up every component, serves HTTP and blocks until ctx is
// done, then shuts down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	defer r.stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	if err := r.startBus(ctx); err != nil {
		return err
	}

	r.store, err = docstore.Open(ctx, r.cfg.Store, r.logger.With(slog.String("component", "docstore")))
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}

	server, err := r.assemble(ctx)
	if err != nil {
		return err
	}
	e := server.Echo()
	e.GET("/healthz", r.handleHealth)
	e.GET("/readyz", r.handleReady)
	if metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			serveErr <- err
		}
	}()

	if r.inbox != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.inbox.Run(ctx); err != nil {
				r.logger.Error("inbox watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("version", r.version))

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return err
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats")))
		if err != nil {
			return err
		}
		r.natsServer = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

// assemble builds the pipeline from config and returns the HTTP surface.
func (r *Runtime) assemble(ctx context.Context) (*api.Server, error) {
	gen, err := llm.FromConfig(r.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm backend: %w", err)
	}
	reducer := summarizer.New(gen, summarizer.OptionsFromConfig(r.cfg.LLM, r.cfg.Summarizer), r.logger)

	synth, err := tts.FromConfig(r.cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("tts backend: %w", err)
	}
	assembler, err := audio.New(synth, audio.OptionsFromConfig(r.cfg.Podcast, r.cfg.TTS), r.logger)
	if err != nil {
		return nil, fmt.Errorf("audio assembler: %w", err)
	}

	writer := script.NewGenerator(gen, script.OptionsFromConfig(r.cfg.Podcast), r.logger)
	r.podcasts = podcast.NewService(ctx, r.cfg.Podcast, r.bus, r.store, writer, assembler, r.logger)
	if err := r.podcasts.Start(); err != nil {
		return nil, fmt.Errorf("start podcast service: %w", err)
	}

	var (
		ingestSubmitter ingest.Submitter
		apiSubmitter    api.Submitter
	)
	if r.cfg.Podcast.Enabled {
		ingestSubmitter = r.podcasts
		apiSubmitter = r.podcasts
	}
	ingester := ingest.New(reducer, r.store, ingestSubmitter, r.logger)

	if r.cfg.Inbox.Enabled {
		r.inbox, err = inbox.New(r.cfg.Inbox.Dir, func(ctx context.Context, path string) error {
			_, err := ingester.Ingest(ctx, ingest.Upload{Filename: api.SecureFilename(filepath.Base(path)), Path: path})
			return err
		}, r.logger, r.cfg.Inbox.MaxConcurrent)
		if err != nil {
			return nil, err
		}
	}

	return api.New(api.Options{
		UploadDir:      r.cfg.Uploads.Dir,
		MaxUploadBytes: int64(r.cfg.HTTP.MaxUploadMB) << 20,
		FinalAudioPath: assembler.FinalPath(),
	}, r.store, ingester, apiSubmitter, reducer, r.logger), nil
}

func (r *Runtime) stop() {
	grace := time.Duration(r.cfg.HTTP.ShutdownGrace) * time.Millisecond
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	if r.inbox != nil {
		_ = r.inbox.Close()
	}
	if r.podcasts != nil {
		r.podcasts.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.natsServer.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("document store close error", slog.String("error", err.Error()))
		}
	}
	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (r *Runtime) handleReady(c echo.Context) error {
	ready := r.ready.Load() &&
		r.store.Ping(c.Request().Context()) == nil &&
		(r.bus == nil || r.bus.Healthy()) &&
		r.podcasts.Healthy()
	if ready {
		return c.String(http.StatusOK, "ready")
	}
	return c.String(http.StatusServiceUnavailable, "not ready")
}
