// Package summarizer turns arbitrary-length document text into one summary
// by digesting each chunk and optionally unifying the digests.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/papercast/internal/chunker"
	"github.com/loqalabs/papercast/internal/config"
	"github.com/loqalabs/papercast/internal/llm"
)

const instrumentation = "github.com/loqalabs/papercast/internal/summarizer"

// ErrEmptyDocument is returned when the text has no words to summarize.
var ErrEmptyDocument = errors.New("document contains no text")

const (
	chunkPrompt = `Please provide a concise summary of the following text. Focus on the main points and key information:

%s

Provide the summary in a clear, professional style.`

	unifyPrompt = `Please provide a unified summary of these related text segments:

%s

Create a coherent, flowing summary that captures the main points from all segments.`

	separator = "\n\n"
)

// Options tunes the chunk budget, the unify threshold and the model call
// made for every chunk.
type Options struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemPrompt   string
	ChunkChars     int
	UnifyThreshold int
	Parallelism    int
	Probe          bool
}

// OptionsFromConfig takes the model settings from the llm section and the
// chunking settings from the summarizer section.
func OptionsFromConfig(llmCfg config.LLMConfig, cfg config.SummarizerConfig) Options {
	return Options{
		Model:          llmCfg.Model,
		Temperature:    llmCfg.Temperature,
		MaxTokens:      llmCfg.MaxTokens,
		SystemPrompt:   cfg.SystemPrompt,
		ChunkChars:     cfg.ChunkChars,
		UnifyThreshold: cfg.UnifyThreshold,
		Parallelism:    cfg.Parallelism,
		Probe:          cfg.Probe,
	}
}

// Reducer summarizes text with one generation call per chunk plus at most
// one unification call.
type Reducer struct {
	gen    llm.Generator
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
	calls  metric.Int64Counter
}

// New returns a Reducer over gen. A non-positive chunk budget falls back to
// chunker.DefaultMaxChars and parallelism defaults to one call at a time.
func New(gen llm.Generator, opts Options, logger *slog.Logger) *Reducer {
	if opts.ChunkChars < 1 {
		opts.ChunkChars = chunker.DefaultMaxChars
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	calls, _ := otel.Meter(instrumentation).Int64Counter("papercast.llm.calls",
		metric.WithDescription("Chat completion calls issued by the summarizer"))
	return &Reducer{
		gen:    gen,
		opts:   opts,
		logger: logger.With(slog.String("component", "summarizer")),
		tracer: otel.Tracer(instrumentation),
		calls:  calls,
	}
}

// Check verifies the credential and, when probing is enabled, that the
// generation service answers.
func (r *Reducer) Check(ctx context.Context) error {
	if !r.opts.Probe {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "summarize.probe")
	defer span.End()
	if err := r.gen.Ping(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Summarize returns the summary of text. Any failed call aborts the whole
// operation; nothing is retried.
func (r *Reducer) Summarize(ctx context.Context, text string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "summarize")
	defer span.End()

	chunks := chunker.Split(text, r.opts.ChunkChars)
	if len(chunks) == 0 {
		return "", ErrEmptyDocument
	}
	span.SetAttributes(attribute.Int("summarize.chunks", len(chunks)))

	if err := r.Check(ctx); err != nil {
		span.RecordError(err)
		return "", err
	}

	summaries, err := r.digest(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if len(summaries) == 1 {
		r.logger.Info("summarization complete", slog.Int("chunks", 1), slog.Bool("unified", false))
		return summaries[0], nil
	}

	combined := strings.Join(summaries, separator)
	if utf8.RuneCountInString(combined) <= r.opts.UnifyThreshold {
		r.logger.Info("summarization complete", slog.Int("chunks", len(chunks)), slog.Bool("unified", false))
		return combined, nil
	}

	uctx, uspan := r.tracer.Start(ctx, "summarize.unify")
	unified, err := r.complete(uctx, "unify", fmt.Sprintf(unifyPrompt, combined))
	uspan.End()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("unify summaries: %w", err)
	}
	r.logger.Info("summarization complete", slog.Int("chunks", len(chunks)), slog.Bool("unified", true))
	return unified, nil
}

// digest summarizes every chunk. Results keep chunk order regardless of
// parallelism, and the first failure cancels the calls still pending.
func (r *Reducer) digest(ctx context.Context, chunks []string) ([]string, error) {
	summaries := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cctx, span := r.tracer.Start(gctx, "summarize.chunk", trace.WithAttributes(attribute.Int("chunk.index", i)))
			defer span.End()
			out, err := r.complete(cctx, "chunk", fmt.Sprintf(chunkPrompt, chunk))
			if err != nil {
				span.RecordError(err)
				return fmt.Errorf("summarize chunk %d of %d: %w", i+1, len(chunks), err)
			}
			summaries[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *Reducer) complete(ctx context.Context, stage, prompt string) (string, error) {
	if r.calls != nil {
		r.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
	msgs := make([]llm.Message, 0, 2)
	if r.opts.SystemPrompt != "" {
		msgs = append(msgs, llm.System(r.opts.SystemPrompt))
	}
	msgs = append(msgs, llm.User(prompt))
	out, err := r.gen.Generate(ctx, llm.Request{
		Model:       r.opts.Model,
		Messages:    msgs,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: r.opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	return out.Content, nil
}
