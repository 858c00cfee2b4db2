package translation

import (
	"context"
	"errors"
	"time"

	"epubllm/internal/backend"
)

// Policy controls how failed backend calls are retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable decides whether err warrants another attempt. Nil uses
	// IsRetryable.
	Retryable func(err error) bool
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns three attempts with 500ms exponential backoff.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Delay returns the wait before the attempt following attempt n (1-based).
func (p Policy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// IsRetryable rejects authentication failures and caller cancellation.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, backend.ErrAuth):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Result is the outcome of a retried operation.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// OK reports whether the operation eventually succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// WithRetry runs attempt until it succeeds, fails with a non-retryable error,
// runs out of attempts, or ctx is cancelled while waiting to retry.
func WithRetry[T any](ctx context.Context, p Policy, attempt func(ctx context.Context, n int) (T, error)) Result[T] {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var res Result[T]
	for n := 1; n <= maxAttempts; n++ {
		res.Attempts = n
		res.Value, res.Err = attempt(ctx, n)
		if res.Err == nil {
			return res
		}
		if n == maxAttempts || !retryable(res.Err) {
			return res
		}
		if err := sleep(ctx, p.Delay(n)); err != nil {
			return res
		}
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
