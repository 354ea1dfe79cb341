// Package upstream holds the error kinds shared by every client of an
// external generation service (chat completion, text-to-speech).
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"
)

var (
	// ErrCredentialMissing is returned before any network call when a
	// required API key is not configured.
	ErrCredentialMissing = errors.New("credential missing")
	// ErrUnreachable wraps transport failures talking to a service.
	ErrUnreachable = errors.New("upstream unreachable")
)

// maxBodyInMessage bounds how much of a response body Error() repeats.
const maxBodyInMessage = 256

// Error is a non-success response from an external service.
type Error struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > maxBodyInMessage {
		cut := maxBodyInMessage
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, body)
}

// Unauthorized reports whether the service rejected the credential.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// Classify wraps transport-level failures with ErrUnreachable so callers
// can tell "could not talk to it" apart from "it said no". Context
// cancellation and already-classified errors pass through unchanged.
func Classify(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *Error
	if errors.As(err, &apiErr) || errors.Is(err, ErrUnreachable) || errors.Is(err, ErrCredentialMissing) {
		return err
	}
	var netErr net.Error
	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.As(err, &opErr) {
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, service, err)
	}
	return err
}

// IsUpstream reports whether err is any of the upstream kinds.
func IsUpstream(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) || errors.Is(err, ErrUnreachable)
}
