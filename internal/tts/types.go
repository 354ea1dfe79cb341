package tts

import "context"

// SynthRequest contains parameters to synthesize one line of speech.
type SynthRequest struct {
	JobID           string
	Text            string
	Voice           string
	Stability       float64
	SimilarityBoost float64
}

// SynthChunk carries a slice of the encoded audio stream. Chunks arrive in
// stream order; concatenating their Data yields the complete file.
type SynthChunk struct {
	JobID    string
	Sequence int
	Data     []byte
	Final    bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
