// Package audio voices a dialogue line by line and concatenates the
// per-line files, in turn order, into one podcast file.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/papercast/internal/config"
	"github.com/loqalabs/papercast/internal/script"
	"github.com/loqalabs/papercast/internal/tts"
)

const instrumentation = "github.com/loqalabs/papercast/internal/audio"

var (
	ErrUnknownSpeaker     = errors.New("unknown speaker")
	ErrSynthesisFailed    = errors.New("synthesis failed")
	ErrNoSegmentsProduced = errors.New("no segments produced")
)

// Options places the output files and maps speaker labels to voices.
type Options struct {
	OutputDir       string
	FinalName       string
	Format          string
	Parallelism     int
	Stability       float64
	SimilarityBoost float64
	Speakers        []config.SpeakerProfile
}

// OptionsFromConfig combines the podcast layout with the voice settings of
// the tts section.
func OptionsFromConfig(podcast config.PodcastConfig, voice config.TTSConfig) Options {
	return Options{
		OutputDir:       podcast.OutputDir,
		FinalName:       podcast.FinalName,
		Format:          podcast.Format,
		Parallelism:     podcast.Parallelism,
		Stability:       voice.Stability,
		SimilarityBoost: voice.SimilarityBoost,
		Speakers:        podcast.Speakers,
	}
}

// Segment locates one turn inside the final file. Start and End are
// measured in Result.Unit.
type Segment struct {
	Index   int    `json:"index"`
	Speaker string `json:"speaker"`
	File    string `json:"file"`
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
}

// Result describes the written podcast and where each turn sits in it.
type Result struct {
	Path     string    `json:"path"`
	Format   string    `json:"format"`
	Unit     string    `json:"unit"`
	Segments []Segment `json:"segments"`
}

// Assembler owns the output directory: runs are serialized.
type Assembler struct {
	synth    tts.Synthesizer
	opts     Options
	joiner   joiner
	profiles map[string]config.SpeakerProfile
	mu       sync.Mutex
	logger   *slog.Logger
	tracer   trace.Tracer
	segments metric.Int64Counter
}

// New validates the format and returns an Assembler writing into
// opts.OutputDir. The directory is created on the first run.
func New(synth tts.Synthesizer, opts Options, logger *slog.Logger) (*Assembler, error) {
	j, err := joinerFor(opts.Format)
	if err != nil {
		return nil, err
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output dir required")
	}
	if opts.FinalName == "" {
		opts.FinalName = "final_podcast"
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	profiles := make(map[string]config.SpeakerProfile, len(opts.Speakers))
	for _, sp := range opts.Speakers {
		profiles[sp.Label] = sp
	}
	segments, _ := otel.Meter(instrumentation).Int64Counter("papercast.tts.segments",
		metric.WithDescription("Dialogue lines synthesized"))
	return &Assembler{
		synth:    synth,
		opts:     opts,
		joiner:   j,
		profiles: profiles,
		logger:   logger.With(slog.String("component", "assembler")),
		tracer:   otel.Tracer(instrumentation),
		segments: segments,
	}, nil
}

// FinalPath is where the combined podcast is written.
func (a *Assembler) FinalPath() string {
	return filepath.Join(a.opts.OutputDir, a.opts.FinalName+"."+a.opts.Format)
}

// SegmentPath is the per-line file for the 1-based turn index.
func (a *Assembler) SegmentPath(index int) string {
	return filepath.Join(a.opts.OutputDir, fmt.Sprintf("audio_line_%d.%s", index, a.opts.Format))
}

// Assemble synthesizes every turn and writes the combined file. The final
// file is replaced only when every turn succeeded.
func (a *Assembler) Assemble(ctx context.Context, turns []script.Turn) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, span := a.tracer.Start(ctx, "assemble", trace.WithAttributes(attribute.Int("assemble.turns", len(turns))))
	defer span.End()

	if len(turns) == 0 {
		return Result{}, ErrNoSegmentsProduced
	}
	if err := os.MkdirAll(a.opts.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	a.removeStaleSegments()

	start := time.Now()
	files, err := a.synthesizeAll(ctx, turns)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	extents, err := a.writeFinal(files)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	res := Result{Path: a.FinalPath(), Format: a.opts.Format, Unit: a.joiner.unit()}
	for i, turn := range turns {
		res.Segments = append(res.Segments, Segment{
			Index:   i + 1,
			Speaker: turn.Speaker,
			File:    files[i],
			Start:   extents[i].start,
			End:     extents[i].end,
		})
	}
	a.logger.Info("podcast assembled",
		slog.String("path", res.Path),
		slog.Int("segments", len(res.Segments)),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// synthesizeAll dispatches turns in order. A speaker is resolved before its
// turn is dispatched, so an unknown label stops the run before that turn is
// voiced; turns already dispatched finish and keep their files. A
// cancellation between dispatches is returned as the context error.
func (a *Assembler) synthesizeAll(ctx context.Context, turns []script.Turn) ([]string, error) {
	files := make([]string, len(turns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Parallelism)

	var dispatchErr error
	for i, turn := range turns {
		index := i + 1
		profile, ok := a.profiles[turn.Speaker]
		if !ok {
			dispatchErr = fmt.Errorf("%w: turn %d references %q", ErrUnknownSpeaker, index, turn.Speaker)
			break
		}
		if err := gctx.Err(); err != nil {
			dispatchErr = err
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := a.SegmentPath(index)
			if err := a.synthesizeTurn(gctx, index, turn, profile, path); err != nil {
				return err
			}
			files[index-1] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if dispatchErr != nil {
		return nil, dispatchErr
	}
	return files, nil
}

func (a *Assembler) synthesizeTurn(ctx context.Context, index int, turn script.Turn, profile config.SpeakerProfile, path string) error {
	ctx, span := a.tracer.Start(ctx, "assemble.turn", trace.WithAttributes(
		attribute.Int("turn.index", index),
		attribute.String("turn.speaker", turn.Speaker),
	))
	defer span.End()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create segment file: %w", err)
	}
	written, err := tts.Stream(ctx, a.synth, tts.SynthRequest{
		Text:            turn.Text,
		Voice:           profile.VoiceID,
		Stability:       a.opts.Stability,
		SimilarityBoost: a.opts.SimilarityBoost,
	}, f)
	closeErr := f.Close()
	if err == nil && written == 0 {
		err = errors.New("empty audio")
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		span.RecordError(err)
		_ = os.Remove(path)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: turn %d (%s): %w", ErrSynthesisFailed, index, turn.Speaker, err)
	}
	if a.segments != nil {
		a.segments.Add(ctx, 1)
	}
	a.logger.Debug("segment synthesized", slog.Int("index", index), slog.Int64("bytes", written))
	return nil
}

// writeFinal joins into a temporary file and renames it over the final
// artifact, so a failed join leaves the previous podcast intact.
func (a *Assembler) writeFinal(files []string) ([]extent, error) {
	tmp, err := os.CreateTemp(a.opts.OutputDir, a.opts.FinalName+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp output: %w", err)
	}
	tmpPath := tmp.Name()
	extents, err := a.joiner.join(files, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("concatenate segments: %w", err)
	}
	if err := os.Rename(tmpPath, a.FinalPath()); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("replace final podcast: %w", err)
	}
	return extents, nil
}

func (a *Assembler) removeStaleSegments() {
	matches, err := filepath.Glob(filepath.Join(a.opts.OutputDir, "audio_line_*."+a.opts.Format))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("failed to remove stale segment", slog.String("file", m), slog.String("error", err.Error()))
		}
	}
}
