// Package backend adapts remote and local language models to a single
// batch translation call.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 90 * time.Second

var (
	// ErrAuth is returned for rejected credentials. It is never retried.
	ErrAuth = errors.New("authentication failed")
	// ErrUpstream covers rate limits, 5xx and transport failures.
	ErrUpstream = errors.New("upstream error")
	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrMalformed is returned for responses that carry no usable text.
	ErrMalformed = errors.New("malformed response")
)

// Request is one batch to translate. Text holds Segments segments separated
// by blank lines.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
	Segments   int
}

// Response is the raw completion text plus token accounting when reported.
type Response struct {
	Text        string
	TotalTokens int
}

// Backend translates one batch request.
type Backend interface {
	Name() string
	Translate(ctx context.Context, req Request) (Response, error)
}

// Observer receives request and response events for live inspection.
type Observer interface {
	BroadcastMessage(msgType string, data interface{})
}

// classifyStatus maps an HTTP status to one of the package errors.
func classifyStatus(provider string, status int, message string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d: %s", ErrAuth, provider, status, message)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s returned %d: %s", ErrTimeout, provider, status, message)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", ErrUpstream, provider, status, message)
	}
}

// classifyTransport maps a transport-level failure.
func classifyTransport(provider string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrTimeout, provider, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s: %v", ErrTimeout, provider, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrUpstream, provider, err)
	}
}

func truncateText(text string, maxLength int) string {
	r := []rune(text)
	if len(r) <= maxLength {
		return text
	}
	if maxLength <= 3 {
		return "..."
	}
	return string(r[:maxLength-3]) + "..."
}
