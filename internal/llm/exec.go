package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs a local command per completion. The command reads a
// JSON request on stdin and prints a JSON response on stdout.
type execGenerator struct {
	cmd   []string
	model string
	mu    sync.Mutex
}

type execRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type execResponse struct {
	Content          string `json:"content"`
	Error            string `json:"error,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command, model string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{cmd: args, model: model}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request) (Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	model := req.Model
	if model == "" {
		model = g.model
	}
	input, err := json.Marshal(execRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Completion{}, err
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Completion{}, fmt.Errorf("llm exec command failed: %w: %s", err, msg)
		}
		return Completion{}, fmt.Errorf("llm exec command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Completion{}, fmt.Errorf("decode llm exec response: %w", err)
	}
	if resp.Error != "" {
		return Completion{}, fmt.Errorf("llm exec command reported: %s", resp.Error)
	}
	return Completion{
		Content:          resp.Content,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          time.Since(start),
	}, nil
}

// Ping checks that the command resolves on PATH.
func (g *execGenerator) Ping(context.Context) error {
	if _, err := exec.LookPath(g.cmd[0]); err != nil {
		return fmt.Errorf("llm command unavailable: %w", err)
	}
	return nil
}
