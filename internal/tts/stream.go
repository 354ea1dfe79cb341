package tts

import (
	"context"
	"io"
)

// Stream synthesizes req and copies the audio stream into w in chunk order.
// It returns the number of bytes written.
func Stream(ctx context.Context, synth Synthesizer, req SynthRequest, w io.Writer) (int64, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var written int64
	var failure error
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if failure != nil || len(chunk.Data) == 0 {
				continue
			}
			n, err := w.Write(chunk.Data)
			written += int64(n)
			if err != nil {
				failure = err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && failure == nil {
				failure = err
			}
		case <-ctx.Done():
			return written, ctx.Err()
		}
	}
	return written, failure
}
