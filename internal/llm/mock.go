package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type mockGenerator struct {
	delay time.Duration
}

// NewMockGenerator returns a backend that answers without any network.
// Prompts that ask for a podcast script get a small two-speaker JSON
// dialogue so the whole pipeline runs offline.
func NewMockGenerator() Generator { return &mockGenerator{delay: 5 * time.Millisecond} }

func (m *mockGenerator) Generate(ctx context.Context, req Request) (Completion, error) {
	select {
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	case <-time.After(m.delay):
	}
	var prompt string
	if n := len(req.Messages); n > 0 {
		prompt = req.Messages[n-1].Content
	}
	if strings.Contains(prompt, "JSON array") {
		return Completion{
			Content: `Here is the script:
[
  {"speaker": "Speaker 1", "text": "Welcome back. Today we are digging into a fresh document."},
  {"speaker": "Speaker 2", "text": "Thanks. The short version is that the summary covers the main ideas."},
  {"speaker": "Speaker 1", "text": "Great, let us walk through them."}
]`,
			Latency: m.delay,
		}, nil
	}
	words := strings.Fields(prompt)
	if len(words) > 12 {
		words = words[:12]
	}
	return Completion{
		Content: fmt.Sprintf("[mock summary of %d chars: %s]", len(prompt), strings.Join(words, " ")),
		Latency: m.delay,
	}, nil
}

func (m *mockGenerator) Ping(context.Context) error { return nil }
