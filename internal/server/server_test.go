package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	perrors "github.com/matzehuels/pricecheck/pkg/errors"
	"github.com/matzehuels/pricecheck/pkg/integrations"
	"github.com/matzehuels/pricecheck/pkg/observability"
)

type fixture struct {
	proxy *httptest.Server
	hits  atomic.Int32

	mu       sync.Mutex
	lastReq  *http.Request
	lastBody string
}

func (f *fixture) last() (*http.Request, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq, f.lastBody
}

// newFixture starts an upstream running h and a proxy in front of it.
func newFixture(t *testing.T, h http.HandlerFunc, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{}
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lastReq = r.Clone(context.Background())
		f.lastBody = string(body)
		f.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(up.Close)

	reg, err := integrations.NewRegistry(map[string]integrations.Config{
		"ninja": {BaseURL: up.URL, RequestsPerSecond: -1, MaxRetries: -1},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	f.proxy = httptest.NewServer(New(reg, opts...).Handler())
	t.Cleanup(f.proxy.Close)
	return f
}

func okJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func do(t *testing.T, method, url, body string, header http.Header) (*http.Response, string) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, okJSON(`{}`))
	resp, body := do(t, http.MethodGet, f.proxy.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestProxyGet(t *testing.T) {
	f := newFixture(t, okJSON(`{"chaos":1}`))

	url := f.proxy.URL + "/v1/ninja/currencyoverview?league=Standard"
	header := http.Header{"X-Request-Id": {"trace-123"}}
	for range 2 {
		resp, body := do(t, http.MethodGet, url, "", header)
		if resp.StatusCode != http.StatusOK || body != `{"chaos":1}` {
			t.Fatalf("GET = %d %q", resp.StatusCode, body)
		}
		if got := resp.Header.Get(integrations.RequestIDHeader); got != "trace-123" {
			t.Errorf("response request ID = %q", got)
		}
	}
	if n := f.hits.Load(); n != 1 {
		t.Errorf("upstream hits = %d, want 1 (second served from cache)", n)
	}

	req, _ := f.last()
	if req.URL.Path != "/currencyoverview" || req.URL.Query().Get("league") != "Standard" {
		t.Errorf("upstream request = %s", req.URL)
	}
	if got := req.Header.Get(integrations.RequestIDHeader); got != "trace-123" {
		t.Errorf("upstream request ID = %q, want forwarded", got)
	}
}

func TestProxyGetNoCache(t *testing.T) {
	f := newFixture(t, okJSON(`{}`))
	for range 2 {
		resp, _ := do(t, http.MethodGet, f.proxy.URL+"/v1/ninja/x?nocache=1", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	if n := f.hits.Load(); n != 2 {
		t.Errorf("upstream hits = %d, want 2", n)
	}
	req, _ := f.last()
	if req.URL.Query().Has("nocache") {
		t.Error("nocache was forwarded upstream")
	}
}

func TestProxyAssignsRequestID(t *testing.T) {
	f := newFixture(t, okJSON(`{}`))
	resp, _ := do(t, http.MethodGet, f.proxy.URL+"/healthz", "", nil)
	if resp.Header.Get(integrations.RequestIDHeader) == "" {
		t.Error("no request ID assigned")
	}
}

func TestProxyPost(t *testing.T) {
	f := newFixture(t, okJSON(`{"id":"abc"}`))
	resp, body := do(t, http.MethodPost, f.proxy.URL+"/v1/ninja/search", `{"q":"mirror"}`, nil)
	if resp.StatusCode != http.StatusOK || body != `{"id":"abc"}` {
		t.Fatalf("POST = %d %q", resp.StatusCode, body)
	}
	req, sent := f.last()
	if req.Method != http.MethodPost || sent != `{"q":"mirror"}` {
		t.Errorf("upstream got %s %q", req.Method, sent)
	}
}

func TestProxyUnknownUpstream(t *testing.T) {
	f := newFixture(t, okJSON(`{}`))
	resp, body := do(t, http.MethodGet, f.proxy.URL+"/v1/missing/x", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var eb errorBody
	if err := json.Unmarshal([]byte(body), &eb); err != nil {
		t.Fatal(err)
	}
	if eb.Error.Status != http.StatusNotFound || !strings.Contains(eb.Error.Message, "missing") || eb.Error.RequestID == "" {
		t.Errorf("error body = %+v", eb)
	}
}

func TestProxyUpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantRetry  string
	}{
		{
			name:       "not found passes through",
			handler:    func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) },
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "server error becomes bad gateway",
			handler:    func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "rate limited keeps retry after",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.handler)
			resp, _ := do(t, http.MethodGet, f.proxy.URL+"/v1/ninja/x", "", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := resp.Header.Get("Retry-After"); got != tt.wantRetry {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetry)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  int
		delay time.Duration
	}{
		{"rate limited", &perrors.RateLimitedError{RetryAfter: 3 * time.Second}, 429, 3 * time.Second},
		{"rate limited default", &perrors.RateLimitedError{}, 429, perrors.DefaultRetryAfter},
		{"api 400", perrors.NewAPIError(400, "GET", "u", nil), 400, 0},
		{"api 503", perrors.NewAPIError(503, "GET", "u", nil), 502, 0},
		{"timeout", perrors.New(perrors.ErrCodeTimeout, "slow"), 504, 0},
		{"network", perrors.New(perrors.ErrCodeNetwork, "refused"), 502, 0},
		{"endpoint", perrors.New(perrors.ErrCodeInvalidEndpoint, "bad"), 400, 0},
		{"closed", perrors.ErrClosed, 503, 0},
		{"canceled", context.Canceled, 503, 0},
		{"unknown", errors.New("boom"), 500, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, delay := StatusFor(tt.err)
			if got != tt.want || delay != tt.delay {
				t.Errorf("StatusFor = %d, %v; want %d, %v", got, delay, tt.want, tt.delay)
			}
		})
	}
}

func TestClearCacheAndStats(t *testing.T) {
	f := newFixture(t, okJSON(`{}`))
	do(t, http.MethodGet, f.proxy.URL+"/v1/ninja/a", "", nil)
	do(t, http.MethodGet, f.proxy.URL+"/v1/ninja/a", "", nil)

	_, body := do(t, http.MethodGet, f.proxy.URL+"/stats", "", nil)
	var stats map[string]upstreamStats
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("decode stats %q: %v", body, err)
	}
	ninja, ok := stats["ninja"]
	if !ok || ninja.Cache.Size != 1 || ninja.Cache.Hits != 1 || ninja.Cache.Misses != 1 {
		t.Errorf("stats = %+v", stats)
	}

	resp, _ := do(t, http.MethodDelete, f.proxy.URL+"/v1/ninja/cache", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE cache = %d", resp.StatusCode)
	}
	_, body = do(t, http.MethodGet, f.proxy.URL+"/stats", "", nil)
	stats = nil
	_ = json.Unmarshal([]byte(body), &stats)
	if stats["ninja"].Cache.Size != 0 {
		t.Errorf("cache size after clear = %d", stats["ninja"].Cache.Size)
	}
}

func TestInboundRateLimit(t *testing.T) {
	f := newFixture(t, okJSON(`{}`), WithRateLimit(0.5, 1))

	resp, _ := do(t, http.MethodGet, f.proxy.URL+"/v1/ninja/x", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, f.proxy.URL+"/v1/ninja/x", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}

	// Health checks are not limited.
	resp, _ = do(t, http.MethodGet, f.proxy.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	promReg := prometheus.NewRegistry()
	hooks := observability.NewPrometheus(promReg)

	up := httptest.NewServer(okJSON(`{}`))
	defer up.Close()
	reg, err := integrations.NewRegistry(map[string]integrations.Config{
		"ninja": {BaseURL: up.URL, RequestsPerSecond: -1},
	}, integrations.WithHooks(hooks))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	proxy := httptest.NewServer(New(reg, WithMetrics(promReg)).Handler())
	defer proxy.Close()

	do(t, http.MethodGet, proxy.URL+"/v1/ninja/x", "", nil)
	do(t, http.MethodGet, proxy.URL+"/v1/ninja/x", "", nil)

	_, body := do(t, http.MethodGet, proxy.URL+"/metrics", "", nil)
	for _, want := range []string{
		"pricecheck_upstream_requests_total",
		`pricecheck_cache_hits_total{upstream="ninja"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	reg, err := integrations.NewRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(reg).Serve(ctx, ln) }()

	resp, body := do(t, http.MethodGet, "http://"+ln.Addr().String()+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
