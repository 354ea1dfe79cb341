package llm

import (
	"context"
	"time"
)

// Message is one role-tagged entry of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

// Request describes a chat completion call.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Completion is the generated text plus usage accounting.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable chat-completion backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (Completion, error)
	// Ping checks credentials and reachability with the cheapest request
	// the backend supports.
	Ping(ctx context.Context) error
}
