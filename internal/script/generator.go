package script

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/papercast/internal/config"
	"github.com/loqalabs/papercast/internal/llm"
)

type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Speakers    []config.SpeakerProfile
}

func OptionsFromConfig(cfg config.PodcastConfig) Options {
	return Options{
		Model:       cfg.ScriptModel,
		Temperature: cfg.ScriptTemperature,
		MaxTokens:   cfg.ScriptMaxTokens,
		Speakers:    cfg.Speakers,
	}
}

// Script is a generated dialogue together with the model output it came from.
type Script struct {
	Raw   string
	Turns []Turn
}

// Generator asks the chat model for a dialogue about a summary.
type Generator struct {
	gen    llm.Generator
	opts   Options
	logger *slog.Logger
}

func NewGenerator(gen llm.Generator, opts Options, logger *slog.Logger) *Generator {
	return &Generator{gen: gen, opts: opts, logger: logger.With(slog.String("component", "script"))}
}

func (g *Generator) Generate(ctx context.Context, summary string) (Script, error) {
	out, err := g.gen.Generate(ctx, llm.Request{
		Model:       g.opts.Model,
		Messages:    []llm.Message{llm.User(BuildPrompt(summary, g.opts.Speakers))},
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		return Script{}, fmt.Errorf("generate script: %w", err)
	}
	turns, err := Parse(out.Content)
	if err != nil {
		g.logger.Warn("model output did not contain a usable script",
			slog.Int("output_chars", len(out.Content)), slog.String("error", err.Error()))
		return Script{Raw: out.Content}, err
	}
	g.logger.Info("script generated", slog.Int("turns", len(turns)))
	return Script{Raw: out.Content, Turns: turns}, nil
}

// BuildPrompt renders the script request for a summary.
func BuildPrompt(summary string, speakers []config.SpeakerProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a podcast script between %d people. The podcast should be restricted as follows:\n", len(speakers))
	b.WriteString("- The script dialogue should not contain the names of the speakers.\n")
	b.WriteString("- The podcast should be interactive but informative of the topic.\n")
	b.WriteString("- The podcast should cover extensively the content of the summary below.\n")
	b.WriteString("\nSpeakers:\n")
	labels := make([]string, 0, len(speakers))
	for _, sp := range speakers {
		labels = append(labels, fmt.Sprintf("%q", sp.Label))
		if sp.Personality != "" {
			fmt.Fprintf(&b, "- %s: %s\n", sp.Label, sp.Personality)
		} else {
			fmt.Fprintf(&b, "- %s\n", sp.Label)
		}
	}
	b.WriteString("\nRespond with only a JSON array of objects with the keys \"speaker\" and \"text\". ")
	fmt.Fprintf(&b, "The \"speaker\" value must be exactly one of %s.\n", strings.Join(labels, ", "))
	b.WriteString("\nSummary:\n")
	b.WriteString(summary)
	return b.String()
}
