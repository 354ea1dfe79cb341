package llm

import (
	"fmt"
	"time"

	"github.com/loqalabs/papercast/internal/config"
)

// FromConfig builds the backend selected by cfg.Mode.
func FromConfig(cfg config.LLMConfig) (Generator, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	switch cfg.Mode {
	case "openai":
		return NewOpenAIGenerator(cfg.Endpoint, cfg.APIKey, cfg.Model, timeout), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model, timeout), nil
	case "exec":
		return NewExecGenerator(cfg.Command, cfg.Model)
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
