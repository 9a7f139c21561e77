// Package observability provides hooks for metrics and tracing of upstream
// traffic.
//
// This package enables optional instrumentation without tying the client core
// to a specific backend. Clients receive hooks through options at
// construction time and emit events about requests, cache use, retries and
// throttling.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide a no-op default ([Noop]) and a fan-out ([Multi])
//   - Ship backends for Prometheus ([Prometheus]) and DogStatsD ([StatsD])
//
// There is no global registry; every client owns the hooks it was built
// with, which keeps tests isolated.
//
// # Usage
//
//	prom := observability.NewPrometheus(prometheus.NewRegistry())
//	client, err := integrations.NewClient(cfg, integrations.WithHooks(prom))
//
// Every event carries the upstream name so backends can label by it.
package observability

import (
	"context"
	"time"
)

// =============================================================================
// Hook Interfaces
// =============================================================================

// HTTPHooks receives events from outbound HTTP calls.
type HTTPHooks interface {
	// OnRequest records an outgoing HTTP request.
	OnRequest(ctx context.Context, upstream, method, endpoint string)

	// OnResponse records an HTTP response, whatever its status.
	OnResponse(ctx context.Context, upstream, method, endpoint string, statusCode int, duration time.Duration)

	// OnError records a transport failure (network error, timeout).
	OnError(ctx context.Context, upstream, method, endpoint string, err error)
}

// CacheHooks receives events from response cache operations.
type CacheHooks interface {
	OnCacheHit(ctx context.Context, upstream string)
	OnCacheMiss(ctx context.Context, upstream string)
	OnCacheSet(ctx context.Context, upstream string, size int)
	// OnCacheEvict records an LRU eviction. Expired entries are not evictions.
	OnCacheEvict(upstream string)
}

// RetryHooks receives an event before every retry sleep.
type RetryHooks interface {
	OnRetry(ctx context.Context, upstream string, attempt int, delay time.Duration, err error)
}

// LimiterHooks receives an event whenever the rate limiter makes a caller wait.
type LimiterHooks interface {
	OnThrottle(upstream string, wait time.Duration)
}

// Hooks combines every hook category. Backends implement all of them.
type Hooks interface {
	HTTPHooks
	CacheHooks
	RetryHooks
	LimiterHooks
}

// =============================================================================
// No-op Implementation
// =============================================================================

// Noop implements [Hooks] and discards every event.
type Noop struct{}

func (Noop) OnRequest(context.Context, string, string, string)                      {}
func (Noop) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (Noop) OnError(context.Context, string, string, string, error)                 {}
func (Noop) OnCacheHit(context.Context, string)                                     {}
func (Noop) OnCacheMiss(context.Context, string)                                    {}
func (Noop) OnCacheSet(context.Context, string, int)                                {}
func (Noop) OnCacheEvict(string)                                                    {}
func (Noop) OnRetry(context.Context, string, int, time.Duration, error)             {}
func (Noop) OnThrottle(string, time.Duration)                                       {}

var _ Hooks = Noop{}

// =============================================================================
// Fan-out
// =============================================================================

type multi []Hooks

// Multi returns Hooks that forward every event to each of hs in order.
// Nil entries are skipped. With no hooks it returns [Noop].
func Multi(hs ...Hooks) Hooks {
	var m multi
	for _, h := range hs {
		if h != nil {
			m = append(m, h)
		}
	}
	switch len(m) {
	case 0:
		return Noop{}
	case 1:
		return m[0]
	}
	return m
}

func (m multi) OnRequest(ctx context.Context, upstream, method, endpoint string) {
	for _, h := range m {
		h.OnRequest(ctx, upstream, method, endpoint)
	}
}

func (m multi) OnResponse(ctx context.Context, upstream, method, endpoint string, status int, d time.Duration) {
	for _, h := range m {
		h.OnResponse(ctx, upstream, method, endpoint, status, d)
	}
}

func (m multi) OnError(ctx context.Context, upstream, method, endpoint string, err error) {
	for _, h := range m {
		h.OnError(ctx, upstream, method, endpoint, err)
	}
}

func (m multi) OnCacheHit(ctx context.Context, upstream string) {
	for _, h := range m {
		h.OnCacheHit(ctx, upstream)
	}
}

func (m multi) OnCacheMiss(ctx context.Context, upstream string) {
	for _, h := range m {
		h.OnCacheMiss(ctx, upstream)
	}
}

func (m multi) OnCacheSet(ctx context.Context, upstream string, size int) {
	for _, h := range m {
		h.OnCacheSet(ctx, upstream, size)
	}
}

func (m multi) OnCacheEvict(upstream string) {
	for _, h := range m {
		h.OnCacheEvict(upstream)
	}
}

func (m multi) OnRetry(ctx context.Context, upstream string, attempt int, delay time.Duration, err error) {
	for _, h := range m {
		h.OnRetry(ctx, upstream, attempt, delay, err)
	}
}

func (m multi) OnThrottle(upstream string, wait time.Duration) {
	for _, h := range m {
		h.OnThrottle(upstream, wait)
	}
}
