package observability

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/charmbracelet/log"
)

// StatsdClient is the subset of the DogStatsD client used by [StatsD].
// *statsd.Client satisfies it.
type StatsdClient interface {
	Incr(name string, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
	Timing(name string, value time.Duration, tags []string, rate float64) error
	Close() error
}

// StatsD implements [Hooks] by publishing DogStatsD metrics.
type StatsD struct {
	client StatsdClient
	logger *log.Logger
}

var _ Hooks = (*StatsD)(nil)

// NewStatsD dials a DogStatsD agent at addr (host:port). Metric names are
// prefixed with prefix and a dot; tags are attached to every metric.
func NewStatsD(addr, prefix string, tags []string, logger *log.Logger) (*StatsD, error) {
	client, err := statsd.New(addr,
		statsd.WithNamespace(prefix+"."),
		statsd.WithTags(tags),
	)
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}
	if logger != nil {
		logger.Info("statsd publisher initialized", "address", addr, "prefix", prefix)
	}
	return NewStatsDWithClient(client, logger), nil
}

// NewStatsDWithClient wraps an existing client.
func NewStatsDWithClient(client StatsdClient, logger *log.Logger) *StatsD {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &StatsD{client: client, logger: logger.WithPrefix("statsd")}
}

// Close flushes and closes the underlying client.
func (s *StatsD) Close() error {
	return s.client.Close()
}

func (s *StatsD) incr(name string, tags ...string) {
	if err := s.client.Incr(name, tags, 1); err != nil {
		s.logger.Debug("failed to send incr metric", "name", name, "err", err)
	}
}

func (s *StatsD) timing(name string, d time.Duration, tags ...string) {
	if err := s.client.Timing(name, d, tags, 1); err != nil {
		s.logger.Debug("failed to send timing metric", "name", name, "err", err)
	}
}

func upstreamTag(upstream string) string { return "upstream:" + upstream }

// OnRequest increments upstream.requests.
func (s *StatsD) OnRequest(_ context.Context, upstream, method, _ string) {
	s.incr("upstream.requests", upstreamTag(upstream), "method:"+method)
}

// OnResponse sends upstream.latency tagged with the status.
func (s *StatsD) OnResponse(_ context.Context, upstream, method, _ string, status int, d time.Duration) {
	s.timing("upstream.latency", d, upstreamTag(upstream), "method:"+method, "status:"+strconv.Itoa(status))
}

// OnError increments upstream.transport_errors.
func (s *StatsD) OnError(_ context.Context, upstream, method, _ string, _ error) {
	s.incr("upstream.transport_errors", upstreamTag(upstream), "method:"+method)
}

// OnCacheHit increments cache.hits.
func (s *StatsD) OnCacheHit(_ context.Context, upstream string) {
	s.incr("cache.hits", upstreamTag(upstream))
}

// OnCacheMiss increments cache.misses.
func (s *StatsD) OnCacheMiss(_ context.Context, upstream string) {
	s.incr("cache.misses", upstreamTag(upstream))
}

// OnCacheSet adds the stored size to cache.written_bytes.
func (s *StatsD) OnCacheSet(_ context.Context, upstream string, size int) {
	if err := s.client.Count("cache.written_bytes", int64(size), []string{upstreamTag(upstream)}, 1); err != nil {
		s.logger.Debug("failed to send count metric", "name", "cache.written_bytes", "err", err)
	}
}

// OnCacheEvict increments cache.evictions.
func (s *StatsD) OnCacheEvict(upstream string) {
	s.incr("cache.evictions", upstreamTag(upstream))
}

// OnRetry sends retry.delay tagged with the attempt number.
func (s *StatsD) OnRetry(_ context.Context, upstream string, attempt int, delay time.Duration, _ error) {
	s.timing("retry.delay", delay, upstreamTag(upstream), "attempt:"+strconv.Itoa(attempt+1))
}

// OnThrottle sends ratelimit.wait.
func (s *StatsD) OnThrottle(upstream string, wait time.Duration) {
	s.timing("ratelimit.wait", wait, upstreamTag(upstream))
}
