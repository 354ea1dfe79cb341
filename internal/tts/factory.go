package tts

import (
	"fmt"
	"time"

	"github.com/loqalabs/papercast/internal/config"
)

// FromConfig builds the synthesizer selected by cfg.Mode.
func FromConfig(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "elevenlabs":
		timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
		return NewElevenLabsSynth(cfg.Endpoint, cfg.APIKey, cfg.ModelID, cfg.OutputFormat, timeout), nil
	case "exec":
		return NewExecSynth(cfg.Command)
	case "mock":
		return NewMockSynth(cfg.SampleRate), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
