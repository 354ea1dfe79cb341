package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// extent is a half-open range of one segment inside the joined output.
type extent struct {
	start int64
	end   int64
}

type joiner interface {
	join(files []string, out io.WriteSeeker) ([]extent, error)
	unit() string
}

func joinerFor(format string) (joiner, error) {
	switch format {
	case "mp3":
		return mp3Joiner{}, nil
	case "wav":
		return wavJoiner{}, nil
	default:
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}
}

// wavJoiner decodes each segment to PCM and appends the sample streams.
// All segments must share sample rate, channel count and bit depth.
type wavJoiner struct{}

func (wavJoiner) unit() string { return "frames" }

func (wavJoiner) join(files []string, out io.WriteSeeker) ([]extent, error) {
	var (
		format   *goaudio.Format
		bitDepth int
		samples  []int
		extents  = make([]extent, 0, len(files))
	)
	for i, path := range files {
		buf, depth, err := decodeWAV(path)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}
		if format == nil {
			format = buf.Format
			bitDepth = depth
		} else if buf.Format.SampleRate != format.SampleRate || buf.Format.NumChannels != format.NumChannels || depth != bitDepth {
			return nil, fmt.Errorf("segment %d: format %dHz/%dch/%dbit differs from %dHz/%dch/%dbit",
				i+1, buf.Format.SampleRate, buf.Format.NumChannels, depth,
				format.SampleRate, format.NumChannels, bitDepth)
		}
		start := int64(len(samples) / format.NumChannels)
		samples = append(samples, buf.Data...)
		extents = append(extents, extent{start: start, end: int64(len(samples) / format.NumChannels)})
	}
	if format == nil {
		return nil, ErrNoSegmentsProduced
	}

	enc := wav.NewEncoder(out, format.SampleRate, bitDepth, format.NumChannels, 1)
	if err := enc.Write(&goaudio.IntBuffer{Format: format, Data: samples, SourceBitDepth: bitDepth}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return extents, nil
}

func decodeWAV(path string) (*goaudio.IntBuffer, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, errors.New("wav file has no channel information")
	}
	return buf, int(dec.BitDepth), nil
}

// mp3Joiner appends MPEG frame streams. MP3 frames are self-delimiting, so
// byte concatenation is sample-stream concatenation once per-file tags are
// removed: the first file keeps its leading ID3v2 tag, later files lose
// theirs, and trailing ID3v1 tags are dropped everywhere.
type mp3Joiner struct{}

func (mp3Joiner) unit() string { return "bytes" }

func (mp3Joiner) join(files []string, out io.WriteSeeker) ([]extent, error) {
	extents := make([]extent, 0, len(files))
	var offset int64
	for i, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}
		var tag []byte
		tag, data = splitID3v2(data)
		data = trimID3v1(data)
		if len(data) == 0 {
			return nil, fmt.Errorf("segment %d: no audio frames", i+1)
		}
		if i == 0 && len(tag) > 0 {
			n, err := out.Write(tag)
			if err != nil {
				return nil, err
			}
			offset += int64(n)
		}
		n, err := out.Write(data)
		if err != nil {
			return nil, err
		}
		extents = append(extents, extent{start: offset, end: offset + int64(n)})
		offset += int64(n)
	}
	return extents, nil
}

// splitID3v2 separates a leading ID3v2 tag from the frame data.
func splitID3v2(data []byte) (tag, rest []byte) {
	if len(data) < 10 || !bytes.Equal(data[:3], []byte("ID3")) {
		return nil, data
	}
	// tag size is a 28-bit syncsafe integer excluding the 10-byte header
	size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
	total := 10 + size
	if data[5]&0x10 != 0 {
		total += 10 // footer present
	}
	if total > len(data) {
		return nil, data
	}
	return data[:total], data[total:]
}

func trimID3v1(data []byte) []byte {
	if len(data) >= 128 && bytes.Equal(data[len(data)-128:len(data)-125], []byte("TAG")) {
		return data[:len(data)-128]
	}
	return data
}
