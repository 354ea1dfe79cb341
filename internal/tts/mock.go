package tts

import (
	"context"
	"hash/fnv"
	"math"
	"time"
	"unicode/utf8"
)

type mockSynth struct {
	sampleRate int
}

// NewMockSynth returns a synthesizer that renders a short WAV tone per
// line. The pitch depends on the voice, the length on the text.
func NewMockSynth(sampleRate int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(5 * time.Millisecond):
		}

		data, err := EncodeWAV(m.tone(req), m.sampleRate)
		if err != nil {
			errs <- err
			return
		}
		chunks <- SynthChunk{JobID: req.JobID, Data: data, Final: true}
	}()
	return chunks, errs
}

func (m *mockSynth) tone(req SynthRequest) []int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.Voice))
	freq := 180 + float64(h.Sum32()%220)

	// 40ms per character, between a quarter second and three seconds
	dur := time.Duration(utf8.RuneCountInString(req.Text)) * 40 * time.Millisecond
	dur = min(max(dur, 250*time.Millisecond), 3*time.Second)

	n := int(dur.Seconds() * float64(m.sampleRate))
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate)))
	}
	return samples
}
