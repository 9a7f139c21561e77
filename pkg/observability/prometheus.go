package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements [Hooks] with Prometheus collectors.
// It is safe for concurrent use.
type Prometheus struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheSets      *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheBytes     *prometheus.CounterVec

	retriesTotal    *prometheus.CounterVec
	retryDelay      *prometheus.HistogramVec
	throttleSeconds *prometheus.HistogramVec
}

var _ Hooks = (*Prometheus)(nil)

// NewPrometheus registers the pricecheck collectors on reg.
// Registering twice on the same registerer panics, as with promauto.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecheck_upstream_requests_total",
				Help: "Upstream HTTP responses by status code",
			},
			[]string{"upstream", "method", "status_code"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecheck_upstream_request_duration_seconds",
				Help:    "Duration of upstream HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"upstream", "method"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecheck_upstream_transport_errors_total",
				Help: "Upstream calls that failed below HTTP",
			},
			[]string{"upstream", "method"},
		),
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecheck_cache_hits_total",
				Help: "Response cache hits",
			},
			[]string{"upstream"},
		),
		cacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecheck_cache_misses_total",
				Help: "Response cache misses, including expired entries",
			},
			[]string{"upstream"},
		),
		cacheSets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecheck_cache_sets_total",
				Help: "Response cache writes",
			},
			[]string{"upstream"},
		),
		cacheEvictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecheck_cache_evictions_total",
				Help: "Least-recently-used evictions",
			},
			[]string{"upstream"},
		),
		cacheBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecheck_cache_written_bytes_total",
				Help: "Bytes written to the response cache",
			},
			[]string{"upstream"},
		),
		retriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecheck_retries_total",
				Help: "Retries scheduled after a failed attempt",
			},
			[]string{"upstream", "attempt"},
		),
		retryDelay: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecheck_retry_delay_seconds",
				Help:    "Sleep before each retry",
				Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"upstream"},
		),
		throttleSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecheck_rate_limit_wait_seconds",
				Help:    "Time callers spent waiting on the rate limiter",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"upstream"},
		),
	}
}

// OnRequest is a no-op; requests are counted by status in OnResponse.
func (p *Prometheus) OnRequest(context.Context, string, string, string) {}

// OnResponse counts the response by status and observes its latency.
func (p *Prometheus) OnResponse(_ context.Context, upstream, method, _ string, status int, d time.Duration) {
	p.requestsTotal.WithLabelValues(upstream, method, strconv.Itoa(status)).Inc()
	p.requestDuration.WithLabelValues(upstream, method).Observe(d.Seconds())
}

// OnError counts a transport failure.
func (p *Prometheus) OnError(_ context.Context, upstream, method, _ string, _ error) {
	p.errorsTotal.WithLabelValues(upstream, method).Inc()
}

// OnCacheHit counts a cache hit.
func (p *Prometheus) OnCacheHit(_ context.Context, upstream string) {
	p.cacheHits.WithLabelValues(upstream).Inc()
}

// OnCacheMiss counts a cache miss.
func (p *Prometheus) OnCacheMiss(_ context.Context, upstream string) {
	p.cacheMisses.WithLabelValues(upstream).Inc()
}

// OnCacheSet counts a store and the bytes written.
func (p *Prometheus) OnCacheSet(_ context.Context, upstream string, size int) {
	p.cacheSets.WithLabelValues(upstream).Inc()
	p.cacheBytes.WithLabelValues(upstream).Add(float64(size))
}

// OnCacheEvict counts an LRU eviction.
func (p *Prometheus) OnCacheEvict(upstream string) {
	p.cacheEvictions.WithLabelValues(upstream).Inc()
}

// OnRetry counts a retry by attempt number and observes its delay.
func (p *Prometheus) OnRetry(_ context.Context, upstream string, attempt int, delay time.Duration, _ error) {
	p.retriesTotal.WithLabelValues(upstream, strconv.Itoa(attempt+1)).Inc()
	p.retryDelay.WithLabelValues(upstream).Observe(delay.Seconds())
}

// OnThrottle observes time spent waiting on the rate limiter.
func (p *Prometheus) OnThrottle(upstream string, wait time.Duration) {
	p.throttleSeconds.WithLabelValues(upstream).Observe(wait.Seconds())
}
