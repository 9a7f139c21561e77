package integrations

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	perrors "github.com/matzehuels/pricecheck/pkg/errors"
)

// Defaults applied by [Config.withDefaults].
const (
	DefaultRequestsPerSecond   = 1.0
	DefaultTTL                 = 5 * time.Minute
	DefaultTimeout             = 10 * time.Second
	DefaultCacheCapacity       = 1000
	DefaultMaxRetries          = 3
	DefaultBaseDelay           = time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 10
	DefaultMaxConnsPerHost     = 10
	DefaultUserAgent           = "pricecheck"
)

// Config describes one upstream. It is copied at construction and never
// changed afterwards.
type Config struct {
	Name              string                   // Label for logs, metrics and cache keys
	BaseURL           string                   // Endpoints are appended to this
	RequestsPerSecond float64                  // Outbound rate; 0 selects the default, negative disables limiting
	DefaultTTL        time.Duration            // Cache TTL when no override applies
	EndpointTTL       map[string]time.Duration // Per-endpoint cache TTL
	Timeout           time.Duration            // Per-attempt transport timeout
	UserAgent         string
	Headers           map[string]string // Sent with every request

	CacheCapacity int  // Max cached responses; 0 selects the default, negative disables caching
	HashKeys      bool // Store cache keys as name:sha256(request) instead of the readable form

	MaxRetries int           // 0 selects DefaultMaxRetries; negative disables retries
	BaseDelay  time.Duration
	MaxDelay   time.Duration // Cap for exponential backoff; 0 = uncapped

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
}

// withDefaults returns a copy of c with zero values filled in and maps
// copied so later changes by the caller are not observed.
func (c Config) withDefaults() Config {
	if c.Name == "" {
		if u, err := url.Parse(c.BaseURL); err == nil && u.Host != "" {
			c.Name = u.Hostname()
		} else {
			c.Name = "upstream"
		}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = DefaultCacheCapacity
	}
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = DefaultMaxIdleConns
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = DefaultMaxConnsPerHost
	}

	ttls := make(map[string]time.Duration, len(c.EndpointTTL))
	for k, v := range c.EndpointTTL {
		ttls[normalizeEndpoint(k)] = v
	}
	c.EndpointTTL = ttls

	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		headers[k] = v
	}
	c.Headers = headers
	return c
}

func (c Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return perrors.New(perrors.ErrCodeInvalidConfig, "%s: base URL must be an absolute http(s) URL, got %q", c.Name, c.BaseURL)
	}
	return nil
}

// NewTransport creates a pooled transport with bounded connections.
func NewTransport(cfg Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = cfg.MaxIdleConns
	t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	t.MaxConnsPerHost = cfg.MaxConnsPerHost
	return t
}

// NewHTTPClient creates an HTTP client over transport. Timeouts are applied
// per attempt through the request context, not here.
func NewHTTPClient(transport http.RoundTripper) *http.Client {
	return &http.Client{Transport: transport}
}

// normalizeEndpoint gives endpoints a single leading slash.
func normalizeEndpoint(endpoint string) string {
	return "/" + strings.TrimLeft(strings.TrimSpace(endpoint), "/")
}

// parseRetryAfter reads a Retry-After header value, either delta-seconds or
// an HTTP-date. It returns 0 when the value is absent or unusable.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

// URLEncode percent-encodes a string for use in URLs.
// This is a convenience wrapper around [url.QueryEscape].
func URLEncode(s string) string { return url.QueryEscape(s) }

func describe(method, endpoint string) string {
	return fmt.Sprintf("%s %s", method, endpoint)
}
