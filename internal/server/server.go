// Package server exposes a [integrations.Registry] over HTTP as a local
// caching proxy.
package server

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/matzehuels/pricecheck/pkg/cache"
	perrors "github.com/matzehuels/pricecheck/pkg/errors"
	"github.com/matzehuels/pricecheck/pkg/integrations"
)

const (
	// MaxBodyBytes caps POST bodies forwarded upstream.
	MaxBodyBytes = 1 << 20

	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server routes /v1/{upstream}/... to the matching client.
type Server struct {
	registry *integrations.Registry
	logger   *log.Logger
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	handler  http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the access and error logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics serves g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithRateLimit limits inbound requests to rps with the given burst.
// rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = int(math.Ceil(rps))
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a Server over reg.
func New(reg *integrations.Registry, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the router with all middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/stats", s.handleStats)

	r.Route("/v1/{upstream}", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Delete("/cache", s.handleClearCache)
		r.Get("/*", s.handleGet)
		r.Post("/*", s.handlePost)
	})
	return r
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("listening", "addr", ln.Addr().String(), "upstreams", s.registry.Names())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls [Server.Serve].
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// =============================================================================
// Handlers
// =============================================================================

type upstreamStats struct {
	BaseURL string       `json:"base_url"`
	Cache   cache.Stats  `json:"cache"`
	Limiter limiterStats `json:"limiter"`
}

type limiterStats struct {
	Waits      uint64  `json:"waits"`
	WaitTimeMS float64 `json:"wait_time_ms"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]upstreamStats)
	for _, name := range s.registry.Names() {
		c, _ := s.registry.Client(name)
		ls := c.LimiterStats()
		out[name] = upstreamStats{
			BaseURL: c.BaseURL(),
			Cache:   c.CacheStats(),
			Limiter: limiterStats{
				Waits:      ls.Waits,
				WaitTimeMS: float64(ls.WaitTime) / float64(time.Millisecond),
			},
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) client(w http.ResponseWriter, r *http.Request) (*integrations.Client, bool) {
	name := chi.URLParam(r, "upstream")
	c, ok := s.registry.Client(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown upstream "+name)
	}
	return c, ok
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.client(w, r)
	if !ok {
		return
	}
	params := r.URL.Query()
	opts := s.requestOptions(r)
	if params.Has("nocache") {
		if v := params.Get("nocache"); v != "0" && v != "false" {
			opts = append(opts, integrations.WithoutCache())
		}
		params.Del("nocache")
	}

	data, err := c.GetBytes(r.Context(), "/"+chi.URLParam(r, "*"), params, opts...)
	if err != nil {
		s.upstreamError(w, r, err)
		return
	}
	writeRaw(w, data)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	c, ok := s.client(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	data, err := c.PostBytes(r.Context(), "/"+chi.URLParam(r, "*"), body, s.requestOptions(r)...)
	if err != nil {
		s.upstreamError(w, r, err)
		return
	}
	writeRaw(w, data)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	c, ok := s.client(w, r)
	if !ok {
		return
	}
	if err := c.ClearCache(r.Context()); err != nil {
		s.upstreamError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestOptions forwards the inbound request ID so upstream calls can be
// correlated with proxy logs.
func (s *Server) requestOptions(r *http.Request) []integrations.RequestOption {
	if id := RequestIDFromContext(r.Context()); id != "" {
		return []integrations.RequestOption{integrations.WithHeader(integrations.RequestIDHeader, id)}
	}
	return nil
}

func (s *Server) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	status, retryAfter := StatusFor(err)
	if retryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
	}
	if status >= 500 {
		s.logger.Error("upstream call failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		s.logger.Debug("upstream call rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, r, status, perrors.UserMessage(err))
}

// StatusFor maps a client error to the proxy's response status and, for
// rate limiting, the delay to advertise in Retry-After.
func StatusFor(err error) (int, time.Duration) {
	var rl *perrors.RateLimitedError
	if errors.As(err, &rl) {
		return http.StatusTooManyRequests, rl.RetryAfterDelay()
	}
	var apiErr *perrors.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode, 0
		}
		return http.StatusBadGateway, 0
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable, 0
	}
	switch perrors.GetCode(err) {
	case perrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout, 0
	case perrors.ErrCodeNetwork:
		return http.StatusBadGateway, 0
	case perrors.ErrCodeInvalidEndpoint, perrors.ErrCodeInvalidInput:
		return http.StatusBadRequest, 0
	case perrors.ErrCodeNotFound:
		return http.StatusNotFound, 0
	case perrors.ErrCodeClosed:
		return http.StatusServiceUnavailable, 0
	default:
		return http.StatusInternalServerError, 0
	}
}

// =============================================================================
// Responses
// =============================================================================

func writeRaw(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{
		Message:   msg,
		Status:    status,
		RequestID: RequestIDFromContext(r.Context()),
	}})
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// =============================================================================
// Middleware
// =============================================================================

type ctxKey int

const requestIDKey ctxKey = 0

// RequestIDFromContext returns the request ID assigned by the middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestID reuses a caller-supplied X-Request-ID or assigns a new one and
// echoes it on the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(integrations.RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(integrations.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			res := s.limiter.Reserve()
			delay := res.Delay()
			res.Cancel()
			w.Header().Set("Retry-After", retryAfterSeconds(delay))
			writeError(w, r, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
