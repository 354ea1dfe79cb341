// Package podcast runs the asynchronous summary-to-audio pipeline: it queues
// requests, turns each summary into a dialogue script and voices it.
package podcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/papercast/internal/audio"
	"github.com/loqalabs/papercast/internal/bus"
	"github.com/loqalabs/papercast/internal/config"
	"github.com/loqalabs/papercast/internal/docstore"
	"github.com/loqalabs/papercast/internal/protocol"
	"github.com/loqalabs/papercast/internal/script"
)

const (
	instrumentation = "github.com/loqalabs/papercast/internal/podcast"
	consumerName    = "papercast-podcast"
)

var (
	ErrDisabled  = errors.New("podcast generation disabled")
	ErrQueueFull = errors.New("podcast queue full")
	ErrClosed    = errors.New("podcast service closed")
)

// ScriptWriter produces a dialogue for a summary.
type ScriptWriter interface {
	Generate(ctx context.Context, summary string) (script.Script, error)
}

// Voicer renders a dialogue into one audio file.
type Voicer interface {
	Assemble(ctx context.Context, turns []script.Turn) (audio.Result, error)
}

type work struct {
	req protocol.PodcastRequest
	msg *nats.Msg
}

// Service accepts podcast requests and processes them one at a time. With a
// bus the requests travel through a JetStream work queue; without one they
// go straight to the in-process queue.
type Service struct {
	cfg    config.PodcastConfig
	bus    *bus.Client
	store  *docstore.Store
	writer ScriptWriter
	voicer Voicer
	queue  chan work
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool
	// mu orders in-process sends against Close so nothing lands in the
	// queue after it has been drained.
	mu     sync.Mutex
	closed bool
	logger *slog.Logger
	tracer trace.Tracer
	jobs   metric.Int64Counter
}

func NewService(parent context.Context, cfg config.PodcastConfig, busClient *bus.Client, store *docstore.Store, writer ScriptWriter, voicer Voicer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	jobs, _ := otel.Meter(instrumentation).Int64Counter("papercast.podcast.jobs",
		metric.WithDescription("Podcast job state transitions"))
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		store:  store,
		writer: writer,
		voicer: voicer,
		queue:  make(chan work, size),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "podcast-service")),
		tracer: otel.Tracer(instrumentation),
		jobs:   jobs,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.bus != nil {
		if err := s.bus.EnsureWorkQueue(protocol.StreamPodcast, protocol.SubjectPodcastRequest); err != nil {
			return err
		}
		// one unacked request at a time; the stream is the backlog
		sub, err := s.bus.JetStream().QueueSubscribe(protocol.SubjectPodcastRequest, consumerName, s.handleRequest,
			nats.ManualAck(),
			nats.MaxAckPending(1),
			nats.AckWait(s.jobTimeout()+30*time.Second),
		)
		if err != nil {
			return fmt.Errorf("subscribe podcast requests: %w", err)
		}
		s.sub = sub
	}

	s.wg.Add(1)
	go s.worker()
	s.ready.Store(true)
	return nil
}

// Close stops the worker. Requests still waiting in the queue are failed,
// or handed back to the stream when they came from the bus.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
	s.ready.Store(false)
	s.drain()
}

func (s *Service) drain() {
	for {
		select {
		case w := <-s.queue:
			if w.msg != nil {
				_ = w.msg.Nak()
				continue
			}
			s.fail(s.ctx, w.req, ErrClosed)
		default:
			return
		}
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready.Load()
}

// Submit records a queued job for a stored document and hands it to the
// worker. It returns as soon as the request is queued.
func (s *Service) Submit(ctx context.Context, documentID int64, summary string) (docstore.Job, error) {
	if !s.cfg.Enabled {
		return docstore.Job{}, ErrDisabled
	}
	if s.isClosed() {
		return docstore.Job{}, ErrClosed
	}
	job, err := s.store.CreateJob(ctx, uuid.NewString(), documentID)
	if err != nil {
		return docstore.Job{}, err
	}
	req := protocol.PodcastRequest{
		JobID:       job.ID,
		DocumentID:  documentID,
		Summary:     summary,
		TraceID:     job.ID,
		RequestedAt: time.Now().UTC(),
	}
	s.transition(ctx, req, docstore.JobUpdate{Status: docstore.JobQueued})

	if err := s.enqueue(ctx, req); err != nil {
		s.fail(ctx, req, err)
		return docstore.Job{}, err
	}
	s.logger.Info("podcast job queued", slog.String("job_id", job.ID), slog.Int64("document_id", documentID))
	return job, nil
}

func (s *Service) enqueue(ctx context.Context, req protocol.PodcastRequest) error {
	if s.bus != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		if _, err := s.bus.JetStream().Publish(protocol.SubjectPodcastRequest, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish podcast request: %w", err)
		}
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- work{req: req}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.PodcastRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode podcast request", slogError(err))
		_ = msg.Term()
		return
	}
	select {
	case s.queue <- work{req: req, msg: msg}:
	case <-s.ctx.Done():
		_ = msg.Nak()
	}
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case w := <-s.queue:
			s.handle(w)
		}
	}
}

func (s *Service) handle(w work) {
	if w.msg != nil {
		// redelivery of a job that already finished
		if job, err := s.store.GetJob(s.ctx, w.req.JobID); err == nil && job.Terminal() {
			_ = w.msg.Ack()
			return
		}
	}
	_, _ = s.Process(s.ctx, w.req)
	if w.msg != nil {
		// failures are recorded on the job; nothing is retried
		if err := w.msg.Ack(); err != nil {
			s.logger.Warn("failed to ack podcast request", slog.String("job_id", w.req.JobID), slogError(err))
		}
	}
}

// Process runs one job to completion and records the outcome.
func (s *Service) Process(ctx context.Context, req protocol.PodcastRequest) (audio.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout())
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "podcast.job", trace.WithAttributes(
		attribute.String("job.id", req.JobID),
		attribute.Int64("document.id", req.DocumentID),
	))
	defer span.End()

	start := time.Now()
	s.transition(ctx, req, docstore.JobUpdate{Status: docstore.JobRunning})

	sc, err := s.writer.Generate(ctx, req.Summary)
	if err != nil {
		span.RecordError(err)
		s.fail(ctx, req, err)
		return audio.Result{}, err
	}
	res, err := s.voicer.Assemble(ctx, sc.Turns)
	if err != nil {
		span.RecordError(err)
		s.fail(ctx, req, err)
		return audio.Result{}, err
	}

	s.transition(ctx, req, docstore.JobUpdate{
		Status:    docstore.JobCompleted,
		AudioPath: res.Path,
		Turns:     len(res.Segments),
	})
	s.logger.Info("podcast job completed",
		slog.String("job_id", req.JobID),
		slog.String("path", res.Path),
		slog.Int("turns", len(res.Segments)),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (s *Service) fail(ctx context.Context, req protocol.PodcastRequest, cause error) {
	s.logger.Warn("podcast job failed", slog.String("job_id", req.JobID), slogError(cause))
	s.transition(ctx, req, docstore.JobUpdate{Status: docstore.JobFailed, Error: cause.Error()})
}

// transition persists the new state and broadcasts it. The write survives
// cancellation of the job context.
func (s *Service) transition(ctx context.Context, req protocol.PodcastRequest, upd docstore.JobUpdate) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.UpdateJob(ctx, req.JobID, upd); err != nil {
		s.logger.Warn("failed to update podcast job", slog.String("job_id", req.JobID), slogError(err))
	}
	if s.jobs != nil {
		s.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", upd.Status)))
	}
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(protocol.PodcastStatus{
		JobID:      req.JobID,
		DocumentID: req.DocumentID,
		Status:     upd.Status,
		AudioPath:  upd.AudioPath,
		Turns:      upd.Turns,
		Error:      upd.Error,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectPodcastStatus, data); err != nil {
		s.logger.Warn("failed to publish podcast status", slogError(err))
	}
}

func (s *Service) jobTimeout() time.Duration {
	if s.cfg.JobTimeoutMS <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.cfg.JobTimeoutMS) * time.Millisecond
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
