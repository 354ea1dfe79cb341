package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/loqalabs/papercast/internal/upstream"
)

const openAIService = "chat-completion"

// openAIGenerator talks to any OpenAI-compatible chat completion endpoint
// (Groq by default).
type openAIGenerator struct {
	client openai.Client
	model  string
	hasKey bool
}

func NewOpenAIGenerator(baseURL, apiKey, model string, timeout time.Duration) Generator {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &openAIGenerator{
		client: openai.NewClient(opts...),
		model:  model,
		hasKey: strings.TrimSpace(apiKey) != "",
	}
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request) (Completion, error) {
	if !g.hasKey {
		return Completion{}, upstream.ErrCredentialMissing
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, translateOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, &upstream.Error{Service: openAIService, StatusCode: 200, Body: "empty choices"}
	}
	return Completion{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Latency:          time.Since(start),
	}, nil
}

func (g *openAIGenerator) Ping(ctx context.Context) error {
	if !g.hasKey {
		return upstream.ErrCredentialMissing
	}
	_, err := g.Generate(ctx, Request{
		Model:     g.model,
		Messages:  []Message{User("test")},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("api key verification failed: %w", err)
	}
	return nil
}

func translateOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &upstream.Error{Service: openAIService, StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	}
	return upstream.Classify(openAIService, err)
}
