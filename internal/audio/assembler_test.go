package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-audio/wav"

	"github.com/loqalabs/papercast/internal/config"
	"github.com/loqalabs/papercast/internal/script"
	"github.com/loqalabs/papercast/internal/tts"
	"github.com/loqalabs/papercast/internal/upstream"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var speakers = []config.SpeakerProfile{
	{Label: "Speaker 1", VoiceID: "voice-one"},
	{Label: "Speaker 2", VoiceID: "voice-two"},
}

// fakeSynth returns canned audio per line text and records every request.
type fakeSynth struct {
	mu    sync.Mutex
	reqs  []tts.SynthRequest
	audio map[string][]byte
	fail  map[string]error
}

func (f *fakeSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	data, failure := f.audio[req.Text], f.fail[req.Text]
	f.mu.Unlock()

	chunks := make(chan tts.SynthChunk, 2)
	errs := make(chan error, 1)
	if failure != nil {
		errs <- failure
	} else {
		half := len(data) / 2
		chunks <- tts.SynthChunk{Sequence: 0, Data: data[:half]}
		chunks <- tts.SynthChunk{Sequence: 1, Data: data[half:], Final: true}
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (f *fakeSynth) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.reqs {
		out = append(out, r.Text)
	}
	return out
}

// constantWAV renders n frames that all carry value, so the segment a
// frame came from can be read back from the joined file.
func constantWAV(t *testing.T, value, n int) []byte {
	t.Helper()
	samples := make([]int, n)
	for i := range samples {
		samples[i] = value
	}
	data, err := tts.EncodeWAV(samples, 8000)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return data
}

func newAssembler(t *testing.T, synth tts.Synthesizer, format string, parallelism int) (*Assembler, string) {
	t.Helper()
	dir := t.TempDir()
	a, err := New(synth, Options{
		OutputDir:       dir,
		FinalName:       "final_podcast",
		Format:          format,
		Parallelism:     parallelism,
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Speakers:        speakers,
	}, newLogger())
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	return a, dir
}

func dialogue() []script.Turn {
	return []script.Turn{
		{Speaker: "Speaker 1", Text: "a"},
		{Speaker: "Speaker 2", Text: "b"},
		{Speaker: "Speaker 1", Text: "c"},
	}
}

func TestAssembleWAVOrder(t *testing.T) {
	for _, parallelism := range []int{1, 3} {
		synth := &fakeSynth{audio: map[string][]byte{
			"a": constantWAV(t, 1000, 100),
			"b": constantWAV(t, 2000, 50),
			"c": constantWAV(t, 3000, 75),
		}}
		a, dir := newAssembler(t, synth, "wav", parallelism)

		res, err := a.Assemble(context.Background(), dialogue())
		if err != nil {
			t.Fatalf("assemble (parallelism %d): %v", parallelism, err)
		}
		if res.Path != filepath.Join(dir, "final_podcast.wav") || res.Unit != "frames" {
			t.Fatalf("unexpected result %+v", res)
		}
		for i := 1; i <= 3; i++ {
			if _, err := os.Stat(filepath.Join(dir, "audio_line_"+string(rune('0'+i))+".wav")); err != nil {
				t.Fatalf("missing per-line file %d: %v", i, err)
			}
		}

		wantBounds := [][2]int64{{0, 100}, {100, 150}, {150, 225}}
		wantValues := []int{1000, 2000, 3000}
		wantSpeakers := []string{"Speaker 1", "Speaker 2", "Speaker 1"}
		f, err := os.Open(res.Path)
		if err != nil {
			t.Fatalf("open final: %v", err)
		}
		buf, err := wav.NewDecoder(f).FullPCMBuffer()
		f.Close()
		if err != nil {
			t.Fatalf("decode final: %v", err)
		}
		if len(buf.Data) != 225 {
			t.Fatalf("expected 225 frames, got %d", len(buf.Data))
		}
		for i, seg := range res.Segments {
			if seg.Index != i+1 || seg.Speaker != wantSpeakers[i] {
				t.Fatalf("segment %d metadata %+v", i, seg)
			}
			if seg.Start != wantBounds[i][0] || seg.End != wantBounds[i][1] {
				t.Fatalf("segment %d bounds [%d,%d), want %v", i, seg.Start, seg.End, wantBounds[i])
			}
			for _, v := range buf.Data[seg.Start:seg.End] {
				if v != wantValues[i] {
					t.Fatalf("segment %d contains sample %d, want %d", i+1, v, wantValues[i])
				}
			}
		}
	}
}

func TestAssembleMP3Order(t *testing.T) {
	id3 := append([]byte("ID3\x04\x00\x00\x00\x00\x00\x04"), []byte("meta")...)
	trailer := append([]byte("TAG"), bytes.Repeat([]byte{0}, 125)...)
	synth := &fakeSynth{audio: map[string][]byte{
		"a": append(append([]byte{}, id3...), []byte("\xff\xfbAAAA")...),
		"b": append(append([]byte{}, id3...), append([]byte("\xff\xfbBBBBBB"), trailer...)...),
		"c": []byte("\xff\xfbCC"),
	}}
	a, _ := newAssembler(t, synth, "mp3", 1)

	res, err := a.Assemble(context.Background(), dialogue())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	want := string(id3) + "\xff\xfbAAAA" + "\xff\xfbBBBBBB" + "\xff\xfbCC"
	if string(got) != want {
		t.Fatalf("final stream %q, want %q", got, want)
	}
	frames := []string{"\xff\xfbAAAA", "\xff\xfbBBBBBB", "\xff\xfbCC"}
	for i, seg := range res.Segments {
		if string(got[seg.Start:seg.End]) != frames[i] {
			t.Fatalf("segment %d bounds select %q", i+1, got[seg.Start:seg.End])
		}
	}
	if res.Unit != "bytes" {
		t.Fatalf("unexpected unit %q", res.Unit)
	}
}

func TestAssembleUnknownSpeaker(t *testing.T) {
	synth := &fakeSynth{audio: map[string][]byte{
		"a": constantWAV(t, 1, 10),
		"b": constantWAV(t, 2, 10),
		"c": constantWAV(t, 3, 10),
	}}
	a, dir := newAssembler(t, synth, "wav", 1)
	turns := []script.Turn{
		{Speaker: "Speaker 1", Text: "a"},
		{Speaker: "Speaker 2", Text: "b"},
		{Speaker: "Speaker 3", Text: "c"},
	}

	_, err := a.Assemble(context.Background(), turns)
	if !errors.Is(err, ErrUnknownSpeaker) {
		t.Fatalf("expected unknown speaker, got %v", err)
	}
	texts := synth.texts()
	if len(texts) != 2 || texts[0] != "a" || texts[1] != "b" {
		t.Fatalf("expected synthesis only for turns before the unknown speaker, got %v", texts)
	}
	for _, name := range []string{"audio_line_1.wav", "audio_line_2.wav"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("prior segment %s should be kept: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "audio_line_3.wav")); !os.IsNotExist(err) {
		t.Fatalf("no file expected for the unknown speaker turn")
	}
	if _, err := os.Stat(a.FinalPath()); !os.IsNotExist(err) {
		t.Fatalf("final artifact must not be written, stat err=%v", err)
	}
}

func TestAssembleSynthesisFailure(t *testing.T) {
	cause := &upstream.Error{Service: "elevenlabs", StatusCode: 500}
	synth := &fakeSynth{
		audio: map[string][]byte{"a": constantWAV(t, 1, 10), "c": constantWAV(t, 3, 10)},
		fail:  map[string]error{"b": cause},
	}
	a, dir := newAssembler(t, synth, "wav", 1)

	// leave a previous podcast in place; it must survive the failed run
	if err := os.WriteFile(a.FinalPath(), []byte("previous"), 0o644); err != nil {
		t.Fatalf("seed final: %v", err)
	}

	_, err := a.Assemble(context.Background(), dialogue())
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("expected synthesis failure, got %v", err)
	}
	var apiErr *upstream.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected upstream cause to be preserved, got %v", err)
	}
	if got := synth.texts(); len(got) != 2 {
		t.Fatalf("expected the run to stop at the failing turn, synthesized %v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "audio_line_2.wav")); !os.IsNotExist(err) {
		t.Fatalf("failed turn should leave no segment file")
	}
	prev, _ := os.ReadFile(a.FinalPath())
	if string(prev) != "previous" {
		t.Fatalf("previous final artifact was modified")
	}
}

func TestAssembleCredentialMissingIsSynthesisFailure(t *testing.T) {
	synth := &fakeSynth{fail: map[string]error{"a": upstream.ErrCredentialMissing}}
	a, _ := newAssembler(t, synth, "wav", 1)
	_, err := a.Assemble(context.Background(), dialogue())
	if !errors.Is(err, ErrSynthesisFailed) || !errors.Is(err, upstream.ErrCredentialMissing) {
		t.Fatalf("expected both kinds, got %v", err)
	}
}

func TestAssembleNoTurns(t *testing.T) {
	synth := &fakeSynth{}
	a, _ := newAssembler(t, synth, "wav", 1)
	if _, err := a.Assemble(context.Background(), nil); !errors.Is(err, ErrNoSegmentsProduced) {
		t.Fatalf("expected no segments, got %v", err)
	}
	if len(synth.texts()) != 0 {
		t.Fatal("no synthesis expected")
	}
}

func TestAssembleOverwritesAndCleansStaleSegments(t *testing.T) {
	synth := &fakeSynth{audio: map[string][]byte{
		"a": constantWAV(t, 1, 10),
		"b": constantWAV(t, 2, 10),
		"c": constantWAV(t, 3, 10),
	}}
	a, dir := newAssembler(t, synth, "wav", 1)
	if _, err := a.Assemble(context.Background(), dialogue()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := a.Assemble(context.Background(), dialogue()[:1])
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("expected one segment, got %d", len(res.Segments))
	}
	if _, err := os.Stat(filepath.Join(dir, "audio_line_3.wav")); !os.IsNotExist(err) {
		t.Fatal("segments from the earlier run should be removed")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("temporary files left behind: %v", matches)
	}
}

func TestAssembleRejectsMixedWAVFormats(t *testing.T) {
	other, err := tts.EncodeWAV([]int{1, 2, 3}, 16000)
	if err != nil {
		t.Fatal(err)
	}
	synth := &fakeSynth{audio: map[string][]byte{
		"a": constantWAV(t, 1, 10),
		"b": other,
		"c": constantWAV(t, 3, 10),
	}}
	a, _ := newAssembler(t, synth, "wav", 1)
	if _, err := a.Assemble(context.Background(), dialogue()); err == nil {
		t.Fatal("expected format mismatch error")
	}
	if _, err := os.Stat(a.FinalPath()); !os.IsNotExist(err) {
		t.Fatal("final artifact must not exist after a failed join")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(&fakeSynth{}, Options{OutputDir: t.TempDir(), Format: "flac"}, newLogger()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSplitID3v2(t *testing.T) {
	tag := []byte("ID3\x03\x00\x00\x00\x00\x01\x00") // size 128
	body := append(append([]byte{}, tag...), bytes.Repeat([]byte{'x'}, 128)...)
	body = append(body, []byte("\xff\xfbframes")...)
	gotTag, rest := splitID3v2(body)
	if len(gotTag) != 138 || string(rest) != "\xff\xfbframes" {
		t.Fatalf("tag=%d rest=%q", len(gotTag), rest)
	}
	if tag, rest := splitID3v2([]byte("\xff\xfbplain")); tag != nil || string(rest) != "\xff\xfbplain" {
		t.Fatal("untagged data must pass through")
	}
}

// cancelingSynth cancels the run as soon as the first line is requested but
// still delivers its audio.
type cancelingSynth struct {
	*fakeSynth
	cancel context.CancelFunc
}

func (c cancelingSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	c.cancel()
	return c.fakeSynth.Synthesize(ctx, req)
}

func TestAssembleCancelledBetweenTurns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	synth := cancelingSynth{
		fakeSynth: &fakeSynth{audio: map[string][]byte{
			"a": constantWAV(t, 1, 10),
			"b": constantWAV(t, 2, 10),
			"c": constantWAV(t, 3, 10),
		}},
		cancel: cancel,
	}
	a, _ := newAssembler(t, synth, "wav", 1)

	_, err := a.Assemble(ctx, dialogue())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if got := synth.texts(); len(got) != 1 {
		t.Fatalf("expected only the first line to be requested, got %v", got)
	}
	if _, statErr := os.Stat(a.FinalPath()); !os.IsNotExist(statErr) {
		t.Fatalf("final podcast must not be written after cancellation: %v", statErr)
	}
}
