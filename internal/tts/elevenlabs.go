package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loqalabs/papercast/internal/upstream"
)

const (
	elevenLabsService = "elevenlabs"
	streamChunkSize   = 32 * 1024
)

type elevenLabsSynth struct {
	endpoint     string
	apiKey       string
	modelID      string
	outputFormat string
	client       *http.Client
}

// NewElevenLabsSynth returns a client for the ElevenLabs text-to-speech API.
func NewElevenLabsSynth(endpoint, apiKey, modelID, outputFormat string, timeout time.Duration) Synthesizer {
	return &elevenLabsSynth{
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiKey:       strings.TrimSpace(apiKey),
		modelID:      modelID,
		outputFormat: outputFormat,
		client:       &http.Client{Timeout: timeout},
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func (e *elevenLabsSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		if e.apiKey == "" {
			errs <- upstream.ErrCredentialMissing
			return
		}
		if req.Voice == "" {
			errs <- errors.New("voice id required")
			return
		}

		body, err := json.Marshal(elevenLabsRequest{
			Text:    req.Text,
			ModelID: e.modelID,
			VoiceSettings: voiceSettings{
				Stability:       req.Stability,
				SimilarityBoost: req.SimilarityBoost,
			},
		})
		if err != nil {
			errs <- err
			return
		}

		endpoint := e.endpoint + "/v1/text-to-speech/" + url.PathEscape(req.Voice)
		if e.outputFormat != "" {
			endpoint += "?output_format=" + url.QueryEscape(e.outputFormat)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			errs <- err
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "audio/mpeg")
		httpReq.Header.Set("xi-api-key", e.apiKey)

		resp, err := e.client.Do(httpReq)
		if err != nil {
			errs <- upstream.Classify(elevenLabsService, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			errs <- &upstream.Error{Service: elevenLabsService, StatusCode: resp.StatusCode, Body: string(msg)}
			return
		}

		sequence := 0
		buf := make([]byte, streamChunkSize)
		for {
			n, readErr := io.ReadFull(resp.Body, buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case chunks <- SynthChunk{JobID: req.JobID, Sequence: sequence, Data: data}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
				sequence++
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				break
			}
			if readErr != nil {
				errs <- upstream.Classify(elevenLabsService, readErr)
				return
			}
		}
		select {
		case chunks <- SynthChunk{JobID: req.JobID, Sequence: sequence, Final: true}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()
	return chunks, errs
}
