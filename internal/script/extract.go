// Package script produces the two-speaker podcast dialogue: it prompts the
// chat model and recovers the JSON turn list from whatever it answers.
package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrExtractionFailed means no bracketed array could be located.
	ErrExtractionFailed = errors.New("script json not found")
	// ErrParseFailed means the located candidate is not a single well-formed
	// array of turns.
	ErrParseFailed = errors.New("script json invalid")
)

// Turn is one line of dialogue.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ExtractJSON returns everything from the first '[' through the last ']'
// of raw model output. The match is greedy; it assumes the output holds a
// single top-level array.
func ExtractJSON(raw string) (string, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end < 0 || end < start {
		return "", ErrExtractionFailed
	}
	return raw[start : end+1], nil
}

// ParseTurns decodes an extracted candidate. Trailing content after the
// first array, such as a second array, is rejected rather than guessed at.
func ParseTurns(candidate string) ([]Turn, error) {
	dec := json.NewDecoder(strings.NewReader(candidate))
	var turns []Turn
	if err := dec.Decode(&turns); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected content after the dialogue array", ErrParseFailed)
	}
	for i, t := range turns {
		if strings.TrimSpace(t.Speaker) == "" {
			return nil, fmt.Errorf("%w: turn %d has no speaker", ErrParseFailed, i+1)
		}
		if strings.TrimSpace(t.Text) == "" {
			return nil, fmt.Errorf("%w: turn %d has no text", ErrParseFailed, i+1)
		}
		turns[i].Speaker = strings.TrimSpace(t.Speaker)
	}
	return turns, nil
}

// Parse extracts and decodes the dialogue from raw model output.
func Parse(raw string) ([]Turn, error) {
	candidate, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	return ParseTurns(candidate)
}
