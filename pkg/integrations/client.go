package integrations

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/pricecheck/pkg/cache"
	perrors "github.com/matzehuels/pricecheck/pkg/errors"
	"github.com/matzehuels/pricecheck/pkg/httputil"
	"github.com/matzehuels/pricecheck/pkg/observability"
)

// RequestIDHeader carries the per-call request ID. Retries of one call reuse it.
const RequestIDHeader = "X-Request-ID"

// Client is the shared HTTP client for one upstream. It rate-limits,
// caches, retries and classifies every call. It is safe for concurrent use.
type Client struct {
	cfg       Config
	http      *http.Client
	cache     cache.Cache
	keyer     cache.Keyer
	limiter   *httputil.RateLimiter
	clock     httputil.Clock
	hooks     observability.Hooks
	logger    *log.Logger
	verbosity httputil.Verbosity
	coalesce  bool
	group     singleflight.Group
	closed    atomic.Bool
}

// =============================================================================
// Construction
// =============================================================================

type options struct {
	clock      httputil.Clock
	hooks      observability.Hooks
	logger     *log.Logger
	verbosity  httputil.Verbosity
	keyer      cache.Keyer
	cache      cache.Cache
	httpClient *http.Client
	jitter     float64
	coalesce   bool
}

// Option configures a [Client].
type Option func(*options)

// WithClock injects the clock used by the limiter, retries and cache expiry.
func WithClock(c httputil.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithHooks reports requests, cache use, retries and throttling to h.
func WithHooks(h observability.Hooks) Option {
	return func(o *options) {
		if h != nil {
			o.hooks = h
		}
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRetryVerbosity selects minimal or detailed retry logging.
func WithRetryVerbosity(v httputil.Verbosity) Option {
	return func(o *options) { o.verbosity = v }
}

// WithKeyer overrides how cache keys are built for this upstream.
func WithKeyer(k cache.Keyer) Option {
	return func(o *options) { o.keyer = k }
}

// WithCache replaces the default in-memory LRU cache.
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithHTTPClient replaces the pooled HTTP client, e.g. with an
// httptest server's client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithLimiterJitter sets the limiter jitter fraction (0 to 0.25).
func WithLimiterJitter(fraction float64) Option {
	return func(o *options) { o.jitter = fraction }
}

// WithCoalescing makes concurrent cache misses for the same key share one
// upstream fetch.
func WithCoalescing() Option {
	return func(o *options) { o.coalesce = true }
}

// NewClient creates a Client for the upstream described by cfg.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := options{
		clock:  httputil.RealClock{},
		hooks:  observability.Noop{},
		logger: log.New(io.Discard),
		jitter: httputil.MaxJitter,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("upstream", cfg.Name)

	hc := o.httpClient
	if hc == nil {
		hc = NewHTTPClient(NewTransport(cfg))
	}

	keyer := o.keyer
	switch {
	case keyer != nil:
	case cfg.HashKeys:
		keyer = cache.NewHashedKeyer(cache.NewDefaultKeyer(), cfg.Name)
	default:
		keyer = cache.NewScopedKeyer(cache.NewDefaultKeyer(), cfg.Name+":")
	}

	store := o.cache
	switch {
	case store != nil:
	case cfg.CacheCapacity < 0:
		store = cache.NewNullCache()
	default:
		store = cache.NewMemoryCache(cfg.CacheCapacity, cfg.DefaultTTL,
			cache.WithCacheClock(o.clock.Now),
			cache.WithCacheLogger(logger),
			cache.WithCacheHooks(cfg.Name, o.hooks),
		)
	}

	return &Client{
		cfg:   cfg,
		http:  hc,
		cache: store,
		keyer: keyer,
		limiter: httputil.NewRateLimiter(cfg.RequestsPerSecond,
			httputil.WithLimiterClock(o.clock),
			httputil.WithJitter(o.jitter),
			httputil.WithLimiterHooks(cfg.Name, o.hooks),
		),
		clock:     o.clock,
		hooks:     o.hooks,
		logger:    logger,
		verbosity: o.verbosity,
		coalesce:  o.coalesce,
	}, nil
}

// =============================================================================
// Per-request Options
// =============================================================================

type request struct {
	noCache bool
	ttl     time.Duration
	timeout time.Duration
	headers map[string]string
}

// RequestOption adjusts a single call.
type RequestOption func(*request)

// WithoutCache skips the cache lookup and store for this call.
func WithoutCache() RequestOption {
	return func(r *request) { r.noCache = true }
}

// WithTTL overrides the cache TTL for this call's response.
func WithTTL(d time.Duration) RequestOption {
	return func(r *request) { r.ttl = d }
}

// WithTimeout overrides the per-attempt timeout for this call.
func WithTimeout(d time.Duration) RequestOption {
	return func(r *request) { r.timeout = d }
}

// WithHeader adds a request header, overriding client defaults for the same key.
func WithHeader(key, value string) RequestOption {
	return func(r *request) {
		if r.headers == nil {
			r.headers = make(map[string]string)
		}
		r.headers[key] = value
	}
}

func newRequest(opts []RequestOption) *request {
	r := &request{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// Operations
// =============================================================================

// Name returns the upstream name.
func (c *Client) Name() string { return c.cfg.Name }

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Get fetches endpoint with params and JSON-decodes the body into v.
// A cache hit returns without touching the rate limiter or the network.
// A body that cannot be decoded yields an [perrors.APIError]; if that body
// is the cached entry it is evicted. Calls made [WithoutCache] never touch
// the cache.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, v any, opts ...RequestOption) error {
	f, err := c.get(ctx, endpoint, params, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(f.data, v); err != nil {
		if f.cached {
			_ = c.cache.Delete(ctx, f.key)
		}
		return &perrors.APIError{
			StatusCode: http.StatusOK,
			Method:     http.MethodGet,
			URL:        c.cfg.BaseURL + normalizeEndpoint(endpoint),
			Message:    "malformed response: " + err.Error(),
		}
	}
	return nil
}

// GetBytes is [Client.Get] without decoding.
func (c *Client) GetBytes(ctx context.Context, endpoint string, params url.Values, opts ...RequestOption) ([]byte, error) {
	f, err := c.get(ctx, endpoint, params, opts)
	return f.data, err
}

// Post sends data as a JSON body and decodes the response into v, which may
// be nil. Writes never use the cache but are rate-limited and retried.
func (c *Client) Post(ctx context.Context, endpoint string, data any, v any, opts ...RequestOption) error {
	body, err := json.Marshal(data)
	if err != nil {
		return perrors.Wrap(perrors.ErrCodeInvalidInput, err, "encode request body")
	}
	resp, err := c.PostBytes(ctx, endpoint, body, opts...)
	if err != nil || v == nil {
		return err
	}
	if err := json.Unmarshal(resp, v); err != nil {
		return &perrors.APIError{
			StatusCode: http.StatusOK,
			Method:     http.MethodPost,
			URL:        c.cfg.BaseURL + normalizeEndpoint(endpoint),
			Message:    "malformed response: " + err.Error(),
		}
	}
	return nil
}

// PostBytes is [Client.Post] with a raw body and response.
func (c *Client) PostBytes(ctx context.Context, endpoint string, body []byte, opts ...RequestOption) ([]byte, error) {
	if c.closed.Load() {
		return nil, perrors.ErrClosed
	}
	if err := perrors.ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	if body == nil {
		body = []byte{}
	}
	return c.execute(ctx, http.MethodPost, normalizeEndpoint(endpoint), nil, body, newRequest(opts))
}

// ClearCache drops every cached response of this upstream.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

// CacheSize returns the number of cached responses.
func (c *Client) CacheSize() int {
	return c.cache.Len()
}

// CacheStats returns cache counters, or just the size when the cache keeps none.
func (c *Client) CacheStats() cache.Stats {
	if sp, ok := c.cache.(cache.StatsProvider); ok {
		return sp.Stats()
	}
	return cache.Stats{Size: c.cache.Len()}
}

// LimiterStats returns the rate limiter's wait counters.
func (c *Client) LimiterStats() httputil.LimiterStats {
	return c.limiter.Stats()
}

// Close releases pooled connections and the cache. Later calls fail with
// [perrors.ErrClosed]. Closing twice is a no-op.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.http.CloseIdleConnections()
	return c.cache.Close()
}

// =============================================================================
// Request Flow
// =============================================================================

// fetched is the outcome of one GET. cached reports that data is, or was
// just written as, the cache entry for its key.
type fetched struct {
	data   []byte
	key    string
	cached bool
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, opts []RequestOption) (fetched, error) {
	if c.closed.Load() {
		return fetched{}, perrors.ErrClosed
	}
	if err := perrors.ValidateEndpoint(endpoint); err != nil {
		return fetched{}, err
	}
	endpoint = normalizeEndpoint(endpoint)
	req := newRequest(opts)
	key := c.keyer.RequestKey(endpoint, params)

	if req.noCache {
		data, err := c.execute(ctx, http.MethodGet, endpoint, params, nil, req)
		return fetched{data: data, key: key}, err
	}

	if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		c.logger.Debug("cache hit", "key", key)
		return fetched{data: data, key: key, cached: true}, nil
	}

	fetch := func(ctx context.Context) (fetched, error) {
		data, err := c.execute(ctx, http.MethodGet, endpoint, params, nil, req)
		if err != nil {
			return fetched{key: key}, err
		}
		f := fetched{data: data, key: key}
		ttl := c.resolveTTL(endpoint, req)
		if err := c.cache.Set(ctx, key, data, ttl); err != nil {
			c.logger.Warn("cache store failed", "key", key, "err", err)
		} else {
			f.cached = true
		}
		return f, nil
	}

	if !c.coalesce {
		return fetch(ctx)
	}

	// The shared fetch outlives any single caller; each attempt is still
	// bounded by the per-attempt timeout.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) { return fetch(shared) })
	select {
	case <-ctx.Done():
		return fetched{key: key}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return fetched{key: key}, res.Err
		}
		f := res.Val.(fetched)
		if res.Shared {
			f.data = bytes.Clone(f.data)
		}
		return f, nil
	}
}

// resolveTTL picks the per-call override, then the endpoint TTL, then the default.
func (c *Client) resolveTTL(endpoint string, req *request) time.Duration {
	if req.ttl > 0 {
		return req.ttl
	}
	if ttl, ok := c.cfg.EndpointTTL[endpoint]; ok && ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}

func (c *Client) execute(ctx context.Context, method, endpoint string, params url.Values, body []byte, req *request) ([]byte, error) {
	target := c.cfg.BaseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	requestID := uuid.NewString()
	logger := c.logger.With("request_id", requestID)

	policy := httputil.Policy{
		MaxRetries: c.cfg.MaxRetries,
		BaseDelay:  c.cfg.BaseDelay,
		MaxDelay:   c.cfg.MaxDelay,
		Clock:      c.clock,
		Logger:     logger,
		Verbosity:  c.verbosity,
		OnRetry: func(ctx context.Context, a httputil.RetryAttempt) {
			c.hooks.OnRetry(ctx, c.cfg.Name, a.Attempt, a.Delay, a.Err)
		},
	}

	return httputil.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.attempt(ctx, method, endpoint, target, body, req, requestID)
	})
}

func (c *Client) attempt(ctx context.Context, method, endpoint, target string, body []byte, req *request, requestID string) ([]byte, error) {
	timeout := c.cfg.Timeout
	if req.timeout > 0 {
		timeout = req.timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(actx, method, target, rdr)
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeInvalidInput, err, "build request %s %s", method, target)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	httpReq.Header.Set(RequestIDHeader, requestID)
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	c.hooks.OnRequest(ctx, c.cfg.Name, method, endpoint)
	start := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, method, endpoint, timeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, method, endpoint, timeout, err)
	}
	c.hooks.OnResponse(ctx, c.cfg.Name, method, endpoint, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp, method, target, data, c.clock.Now()); err != nil {
		return nil, err
	}
	if isJSON(resp.Header.Get("Content-Type")) && !json.Valid(data) {
		apiErr := perrors.NewAPIError(resp.StatusCode, method, target, data)
		apiErr.Message = "malformed response"
		return nil, apiErr
	}
	return data, nil
}

// transportError classifies a failure below HTTP. Cancellation of the
// caller's own context is returned as is, so it is never retried.
func (c *Client) transportError(ctx context.Context, method, endpoint string, timeout time.Duration, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.hooks.OnError(ctx, c.cfg.Name, method, endpoint, err)

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return perrors.Wrap(perrors.ErrCodeTimeout, err, "%s timed out after %s", describe(method, endpoint), timeout)
	}
	return perrors.Wrap(perrors.ErrCodeNetwork, err, "%s", describe(method, endpoint))
}

// checkStatus maps a response status to the error taxonomy.
func checkStatus(resp *http.Response, method, target string, body []byte, now time.Time) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), now)
		if retryAfter <= 0 {
			retryAfter = perrors.DefaultRetryAfter
		}
		return &perrors.RateLimitedError{RetryAfter: retryAfter, Message: describe(method, target)}
	default:
		return perrors.NewAPIError(code, method, target, body)
	}
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
