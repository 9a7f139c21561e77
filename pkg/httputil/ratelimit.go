package httputil

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/matzehuels/pricecheck/pkg/observability"
)

// MaxJitter is the largest jitter fraction a [RateLimiter] accepts.
const MaxJitter = 0.25

// LimiterStats holds cumulative wait counters for a [RateLimiter].
type LimiterStats struct {
	Waits    uint64        // Calls that had to sleep before admission
	WaitTime time.Duration // Total time slept
}

// RateLimiter spaces calls to one upstream at least 1/rps apart.
//
// Admission is serialized: each caller holds a single slot while it sleeps
// and stamps the admission time before releasing it, so every caller
// measures its wait against the previous admitted call. There is no fairness
// guarantee about which waiter goes next.
type RateLimiter struct {
	name     string
	interval time.Duration
	jitter   float64
	clock    Clock
	hooks    observability.LimiterHooks
	randFn   func() float64

	slot chan struct{}

	mu       sync.Mutex
	lastCall time.Time
	stats    LimiterStats
}

// LimiterOption configures a [RateLimiter].
type LimiterOption func(*RateLimiter)

// WithLimiterClock sets the clock used for timestamps and sleeping.
func WithLimiterClock(c Clock) LimiterOption {
	return func(l *RateLimiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithJitter sets the random extra wait as a fraction of the interval.
// Values are clamped to [0, MaxJitter]; 0 disables jitter.
func WithJitter(fraction float64) LimiterOption {
	return func(l *RateLimiter) {
		l.jitter = min(max(fraction, 0), MaxJitter)
	}
}

// WithLimiterHooks reports throttling to h.
func WithLimiterHooks(name string, h observability.LimiterHooks) LimiterOption {
	return func(l *RateLimiter) {
		l.name = name
		if h != nil {
			l.hooks = h
		}
	}
}

// NewRateLimiter creates a limiter admitting at most rps calls per second.
// A non-positive rps disables limiting. Jitter defaults to [MaxJitter].
func NewRateLimiter(rps float64, opts ...LimiterOption) *RateLimiter {
	l := &RateLimiter{
		jitter: MaxJitter,
		clock:  RealClock{},
		hooks:  observability.Noop{},
		randFn: rand.Float64,
		slot:   make(chan struct{}, 1),
	}
	if rps > 0 {
		l.interval = time.Duration(float64(time.Second) / rps)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Interval returns the minimum spacing between admitted calls.
func (l *RateLimiter) Interval() time.Duration { return l.interval }

// Wait blocks until the caller may issue its request. The first call, and
// any call made at least one interval after the previous one, returns
// immediately. Otherwise it sleeps for the remaining interval plus up to
// jitter*interval extra.
//
// Wait returns ctx.Err() if the context ends while waiting for admission
// or while sleeping; in that case no call is recorded.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		return ctx.Err()
	}

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.slot }()

	l.mu.Lock()
	last := l.lastCall
	l.mu.Unlock()

	var wait time.Duration
	if !last.IsZero() {
		if elapsed := l.clock.Now().Sub(last); elapsed < l.interval {
			wait = l.interval - elapsed + l.jitterFor()
		}
	}

	if wait > 0 {
		l.hooks.OnThrottle(l.name, wait)
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.lastCall = l.clock.Now()
	if wait > 0 {
		l.stats.Waits++
		l.stats.WaitTime += wait
	}
	l.mu.Unlock()
	return nil
}

// Stats returns cumulative wait counters.
func (l *RateLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *RateLimiter) jitterFor() time.Duration {
	if l.jitter <= 0 {
		return 0
	}
	return time.Duration(l.randFn() * l.jitter * float64(l.interval))
}
