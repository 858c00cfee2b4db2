package translation

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate bounds how many backend calls run at once. Waiters are admitted in
// the order they arrived.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	size    int

	running atomic.Int64
	waiting atomic.Int64
	peak    atomic.Int64
}

// NewGate returns a gate admitting up to size concurrent tasks. A positive
// perSecond additionally paces admissions.
func NewGate(size int, perSecond float64) *Gate {
	if size <= 0 {
		size = 1
	}
	g := &Gate{sem: semaphore.NewWeighted(int64(size)), size: size}
	if perSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return g
}

// Size is the configured concurrency limit.
func (g *Gate) Size() int { return g.size }

// Running is the number of tasks currently holding a slot.
func (g *Gate) Running() int { return int(g.running.Load()) }

// Waiting is the number of callers blocked in Acquire.
func (g *Gate) Waiting() int { return int(g.waiting.Load()) }

// Peak is the highest Running value observed.
func (g *Gate) Peak() int { return int(g.peak.Load()) }

// Acquire blocks until a slot is free or ctx is done. The returned release
// func must be called exactly once.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return nil, err
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.sem.Release(1)
			return nil, err
		}
	}

	n := g.running.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			g.running.Add(-1)
			g.sem.Release(1)
		}
	}, nil
}

// Do runs task while holding a slot.
func (g *Gate) Do(ctx context.Context, task func() error) error {
	release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return task()
}
