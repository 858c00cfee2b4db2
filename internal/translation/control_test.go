package translation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"epubllm/internal/backend"
)

func TestGateBoundsConcurrency(t *testing.T) {
	g := NewGate(3, 0)
	var (
		wg      sync.WaitGroup
		current atomic.Int64
		maxSeen atomic.Int64
	)

	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func() error {
				n := current.Add(1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen.Load() > 3 || g.Peak() > 3 {
		t.Errorf("observed %d concurrent tasks (gate peak %d), limit 3", maxSeen.Load(), g.Peak())
	}
	if g.Running() != 0 {
		t.Errorf("Running() = %d after all tasks finished", g.Running())
	}
}

func TestGateAcquireHonorsCancellation(t *testing.T) {
	g := NewGate(1, 0)
	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() on full gate error = %v, want deadline exceeded", err)
	}
}

func TestGateAdmitsInArrivalOrder(t *testing.T) {
	g := NewGate(1, 0)
	hold, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	const waiters = 5
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := g.Do(context.Background(), func() error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}(i)

		deadline := time.Now().Add(time.Second)
		for g.Waiting() != i+1 {
			if time.Now().After(deadline) {
				t.Fatalf("waiter %d never blocked (Waiting() = %d)", i, g.Waiting())
			}
			time.Sleep(time.Millisecond)
		}
		// let the waiter enter the semaphore queue
		time.Sleep(5 * time.Millisecond)
	}

	hold()
	wg.Wait()

	for i, id := range order {
		if id != i {
			t.Fatalf("admission order = %v, want arrival order", order)
		}
	}
	if len(order) != waiters {
		t.Errorf("admitted %d of %d waiters", len(order), waiters)
	}
}

func TestCacheEvictsOldestInsert(t *testing.T) {
	c := NewCache(2)
	c.Put("a", "en", "zh", "A")
	c.Put("b", "en", "zh", "B")

	// reads do not refresh position
	if v, ok := c.Get("a", "en", "zh"); !ok || v != "A" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	c.Put("c", "en", "zh", "C")

	if _, ok := c.Get("a", "en", "zh"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.Get("b", "en", "zh"); !ok {
		t.Error("entry b was evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCacheKeyIncludesLanguagePairAndFullText(t *testing.T) {
	c := NewCache(10)
	c.Put("same text", "en", "zh", "中文")

	if _, ok := c.Get("same text", "en", "ja"); ok {
		t.Error("hit for a different target language")
	}

	long := func(tail string) string { return fmt.Sprintf("%0200d%s", 0, tail) }
	c.Put(long("x"), "en", "zh", "X")
	if _, ok := c.Get(long("y"), "en", "zh"); ok {
		t.Error("hit for a different text sharing a long prefix")
	}
}

func TestCacheOverwriteKeepsPosition(t *testing.T) {
	c := NewCache(2)
	c.Put("a", "en", "zh", "1")
	c.Put("b", "en", "zh", "2")
	c.Put("a", "en", "zh", "3")
	c.Put("c", "en", "zh", "4")

	if _, ok := c.Get("a", "en", "zh"); ok {
		t.Error("overwritten entry moved to the back of the queue")
	}
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(0)
	c.Put("a", "en", "zh", "A")
	if _, ok := c.Get("a", "en", "zh"); ok {
		t.Error("disabled cache returned a hit")
	}
}

func recordSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestWithRetrySucceedsOnThirdAttempt(t *testing.T) {
	var delays []time.Duration
	p := DefaultPolicy()
	p.Sleep = recordSleeps(&delays)

	res := WithRetry(context.Background(), p, func(ctx context.Context, n int) (string, error) {
		if n < 3 {
			return "", fmt.Errorf("%w: attempt %d", backend.ErrUpstream, n)
		}
		return "ok", nil
	})

	if !res.OK() || res.Value != "ok" || res.Attempts != 3 {
		t.Fatalf("WithRetry() = %+v", res)
	}
	if len(delays) != 2 || delays[0] != 500*time.Millisecond || delays[1] != time.Second {
		t.Errorf("delays = %v, want [500ms 1s]", delays)
	}
}

func TestWithRetryFailures(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantAttempts int
	}{
		{"transient exhausts attempts", backend.ErrTimeout, 3},
		{"auth is not retried", fmt.Errorf("%w: bad key", backend.ErrAuth), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var delays []time.Duration
			p := DefaultPolicy()
			p.Sleep = recordSleeps(&delays)

			res := WithRetry(context.Background(), p, func(ctx context.Context, n int) (int, error) {
				return 0, tt.err
			})
			if res.OK() {
				t.Fatal("WithRetry() succeeded")
			}
			if !errors.Is(res.Err, tt.err) {
				t.Errorf("Err = %v, want %v", res.Err, tt.err)
			}
			if res.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", res.Attempts, tt.wantAttempts)
			}
		})
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}

	calls := 0
	res := WithRetry(ctx, p, func(ctx context.Context, n int) (int, error) {
		calls++
		cancel()
		return 0, backend.ErrUpstream
	})
	if res.OK() || calls != 1 {
		t.Errorf("WithRetry() = %+v after %d calls, want one failed call", res, calls)
	}
}

func TestPolicyDelayIsCapped(t *testing.T) {
	p := Policy{BaseDelay: 500 * time.Millisecond, MaxDelay: 3 * time.Second}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
