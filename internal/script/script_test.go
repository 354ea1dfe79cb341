package script

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/papercast/internal/config"
	"github.com/loqalabs/papercast/internal/llm"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
		err  error
	}{
		{
			name: "preamble and trailer",
			raw:  `some preamble [ {"speaker":"Speaker 1","text":"hi"} ] trailing`,
			want: `[ {"speaker":"Speaker 1","text":"hi"} ]`,
		},
		{name: "bare", raw: `[]`, want: `[]`},
		{name: "no brackets", raw: "I could not write a script today.", err: ErrExtractionFailed},
		{name: "only open", raw: "[ unterminated", err: ErrExtractionFailed},
		{name: "reversed", raw: "] backwards [", err: ErrExtractionFailed},
		{
			name: "greedy across arrays",
			raw:  `[{"speaker":"A","text":"x"}] and [{"speaker":"B","text":"y"}]`,
			want: `[{"speaker":"A","text":"x"}] and [{"speaker":"B","text":"y"}]`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.raw)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		turns int
		err   error
	}{
		{
			name:  "fenced",
			raw:   "Sure!\n```json\n[{\"speaker\":\"Speaker 1\",\"text\":\"Hello\"},{\"speaker\":\"Speaker 2\",\"text\":\"Hi [laughs]\"}]\n```",
			turns: 2,
		},
		{name: "empty array", raw: "[]", turns: 0},
		{name: "no array", raw: "nothing here", err: ErrExtractionFailed},
		{name: "malformed", raw: `[{"speaker": "Speaker 1", "text": }]`, err: ErrParseFailed},
		{name: "two arrays", raw: `[{"speaker":"A","text":"x"}] then [{"speaker":"B","text":"y"}]`, err: ErrParseFailed},
		{name: "two adjacent arrays", raw: `[{"speaker":"A","text":"x"}][{"speaker":"B","text":"y"}]`, err: ErrParseFailed},
		{name: "commentary brackets", raw: `[note] here is the script: [{"speaker":"A","text":"x"}]`, err: ErrParseFailed},
		{name: "missing speaker", raw: `[{"text":"x"}]`, err: ErrParseFailed},
		{name: "blank text", raw: `[{"speaker":"A","text":"  "}]`, err: ErrParseFailed},
		{name: "not objects", raw: `[1, 2, 3]`, err: ErrParseFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			turns, err := Parse(tc.raw)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(turns) != tc.turns {
				t.Fatalf("expected %d turns, got %d", tc.turns, len(turns))
			}
		})
	}
}

func TestParsePreservesOrder(t *testing.T) {
	turns, err := Parse(`[{"speaker":"Speaker 1","text":"a"},{"speaker":"Speaker 2","text":"b"},{"speaker":"Speaker 1","text":"c"}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var got []string
	for _, turn := range turns {
		got = append(got, turn.Speaker+":"+turn.Text)
	}
	if strings.Join(got, ",") != "Speaker 1:a,Speaker 2:b,Speaker 1:c" {
		t.Fatalf("unexpected order %v", got)
	}
}

type stubGenerator struct {
	content string
	last    llm.Request
}

func (s *stubGenerator) Generate(_ context.Context, req llm.Request) (llm.Completion, error) {
	s.last = req
	return llm.Completion{Content: s.content}, nil
}

func (s *stubGenerator) Ping(context.Context) error { return nil }

func TestGeneratorGenerate(t *testing.T) {
	stub := &stubGenerator{content: `Here you go: [{"speaker":"Host","text":"Welcome"},{"speaker":"Guest","text":"Thanks"}] Enjoy!`}
	opts := Options{
		Model:    "llama3-8b-8192",
		Speakers: []config.SpeakerProfile{{Label: "Host", Personality: "curious"}, {Label: "Guest"}},
	}
	g := NewGenerator(stub, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))

	s, err := g.Generate(context.Background(), "Gravity bends spacetime.")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(s.Turns) != 2 || s.Turns[0].Speaker != "Host" {
		t.Fatalf("unexpected turns %+v", s.Turns)
	}
	prompt := stub.last.Messages[0].Content
	for _, want := range []string{`"Host", "Guest"`, "Host: curious", "Gravity bends spacetime.", "JSON array"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if stub.last.Model != "llama3-8b-8192" {
		t.Fatalf("unexpected model %q", stub.last.Model)
	}
}

func TestGeneratorReportsExtractionFailure(t *testing.T) {
	stub := &stubGenerator{content: "Sorry, I cannot help with that."}
	g := NewGenerator(stub, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s, err := g.Generate(context.Background(), "summary")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected extraction failure, got %v", err)
	}
	if s.Raw == "" {
		t.Fatal("raw output should be kept for diagnostics")
	}
}
