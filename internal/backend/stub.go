package backend

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stub is an offline backend that tags every segment with the language pair.
// It returns exactly as many segments as it was given.
type Stub struct {
	Delay time.Duration
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Translate(ctx context.Context, req Request) (Response, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Response{}, classifyTransport("stub", ctx.Err())
		case <-timer.C:
		}
	}

	tag := fmt.Sprintf("[%s→%s] ", req.SourceLang, req.TargetLang)
	segments := strings.Split(req.Text, "\n\n")
	for i, seg := range segments {
		segments[i] = tag + seg
	}
	text := strings.Join(segments, "\n\n")
	return Response{Text: text, TotalTokens: len(strings.Fields(text))}, nil
}
