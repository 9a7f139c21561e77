package httputil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRateLimiterFirstCallDoesNotWait(t *testing.T) {
	clk := NewManualClock(epoch)
	l := NewRateLimiter(2, WithLimiterClock(clk))

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if got := clk.Sleeps(); len(got) != 0 {
		t.Errorf("first Wait() slept %v, want no sleep", got)
	}
	if s := l.Stats(); s.Waits != 0 || s.WaitTime != 0 {
		t.Errorf("Stats() = %+v, want zero", s)
	}
}

func TestRateLimiterSpacing(t *testing.T) {
	for _, rps := range []float64{0.5, 1, 2, 3, 5, 10, 100} {
		clk := NewManualClock(epoch)
		l := NewRateLimiter(rps, WithLimiterClock(clk))
		interval := l.Interval()

		ctx := context.Background()
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("rps=%v: Wait() error: %v", rps, err)
		}
		first := clk.Now()
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("rps=%v: Wait() error: %v", rps, err)
		}
		gap := clk.Now().Sub(first)

		maxGap := interval + time.Duration(MaxJitter*float64(interval))
		if gap < interval || gap > maxGap {
			t.Errorf("rps=%v: gap = %v, want in [%v, %v]", rps, gap, interval, maxGap)
		}
	}
}

func TestRateLimiterWithoutJitter(t *testing.T) {
	clk := NewManualClock(epoch)
	l := NewRateLimiter(4, WithLimiterClock(clk), WithJitter(0))
	ctx := context.Background()

	for range 3 {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}

	sleeps := clk.Sleeps()
	want := []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleeps[%d] = %v, want %v", i, sleeps[i], want[i])
		}
	}

	s := l.Stats()
	if s.Waits != 2 {
		t.Errorf("Stats().Waits = %d, want 2", s.Waits)
	}
	if s.WaitTime != 500*time.Millisecond {
		t.Errorf("Stats().WaitTime = %v, want 500ms", s.WaitTime)
	}
}

func TestRateLimiterPartialWait(t *testing.T) {
	clk := NewManualClock(epoch)
	l := NewRateLimiter(1, WithLimiterClock(clk), WithJitter(0))
	ctx := context.Background()

	_ = l.Wait(ctx)
	clk.Advance(700 * time.Millisecond)
	_ = l.Wait(ctx)

	sleeps := clk.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 300*time.Millisecond {
		t.Errorf("sleeps = %v, want [300ms]", sleeps)
	}
}

func TestRateLimiterIdleDoesNotWait(t *testing.T) {
	clk := NewManualClock(epoch)
	l := NewRateLimiter(1, WithLimiterClock(clk))
	ctx := context.Background()

	_ = l.Wait(ctx)
	clk.Advance(10 * time.Second)
	_ = l.Wait(ctx)

	if got := clk.Sleeps(); len(got) != 0 {
		t.Errorf("Wait() after idle slept %v, want no sleep", got)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	clk := NewManualClock(epoch)
	l := NewRateLimiter(0, WithLimiterClock(clk))

	for range 5 {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
	if got := clk.Sleeps(); len(got) != 0 {
		t.Errorf("disabled limiter slept %v", got)
	}
}

func TestRateLimiterJitterClamped(t *testing.T) {
	l := NewRateLimiter(1, WithJitter(3))
	if l.jitter != MaxJitter {
		t.Errorf("jitter = %v, want %v", l.jitter, MaxJitter)
	}
	l = NewRateLimiter(1, WithJitter(-1))
	if l.jitter != 0 {
		t.Errorf("jitter = %v, want 0", l.jitter)
	}
}

func TestRateLimiterCancelled(t *testing.T) {
	clk := NewManualClock(epoch)
	l := NewRateLimiter(1, WithLimiterClock(clk))
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
	if s := l.Stats(); s.Waits != 0 {
		t.Errorf("cancelled Wait() counted: %+v", s)
	}
}

type throttleRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *throttleRecorder) OnThrottle(_ string, wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, wait)
}

func TestRateLimiterHooks(t *testing.T) {
	clk := NewManualClock(epoch)
	rec := &throttleRecorder{}
	l := NewRateLimiter(2, WithLimiterClock(clk), WithJitter(0), WithLimiterHooks("ninja", rec))

	_ = l.Wait(context.Background())
	_ = l.Wait(context.Background())

	if len(rec.waits) != 1 || rec.waits[0] != 500*time.Millisecond {
		t.Errorf("OnThrottle waits = %v, want [500ms]", rec.waits)
	}
}

func TestRateLimiterConcurrent(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the real clock")
	}

	l := NewRateLimiter(5)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		times []time.Time
	)
	start := time.Now()
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				if err := l.Wait(ctx); err != nil {
					t.Errorf("Wait() error: %v", err)
					return
				}
				mu.Lock()
				times = append(times, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if len(times) != 10 {
		t.Fatalf("admitted %d calls, want 10", len(times))
	}
	if elapsed < 1800*time.Millisecond {
		t.Errorf("10 calls at 5/s took %v, want >= 1.8s", elapsed)
	}
	if s := l.Stats(); s.Waits != 9 {
		t.Errorf("Stats().Waits = %d, want 9", s.Waits)
	}
}
