package web

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/stocktracker/stockweb/pkg/stockapi"
	"github.com/stocktracker/stockweb/pkg/stores"
	"github.com/stocktracker/stockweb/pkg/telemetry"
	"github.com/stocktracker/stockweb/pkg/views"
)

type backend struct {
	mu          sync.Mutex
	status      int
	body        string
	traceparent string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.traceparent = r.Header.Get("traceparent")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.status)
	_, _ = io.WriteString(w, b.body)
}

func (b *backend) lastTraceparent() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.traceparent
}

type stubFlusher struct{ ok bool }

func (f stubFlusher) Flush(context.Context) bool { return f.ok }

type harness struct {
	server   *Server
	url      string
	client   *http.Client
	recorder *tracetest.SpanRecorder
	metrics  *telemetry.Metrics
	backend  *backend
	store    *stores.SQLiteStore
}

func newHarness(t *testing.T, status int, body string, mutate func(*Config)) *harness {
	t.Helper()

	be := &backend{status: status, body: body}
	api := httptest.NewServer(be)
	t.Cleanup(api.Close)

	prop := propagation.TraceContext{}
	client, err := stockapi.NewClient(api.URL, stockapi.WithPropagator(prop))
	require.NoError(t, err)

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "stockweb"})
	require.NoError(t, err)

	cfg := Config{
		Deps: &views.Deps{
			API:     client,
			Store:   store,
			Tracer:  tp.Tracer(views.TracerName),
			Metrics: metrics,
		},
		Tracer:     tp.Tracer(TracerName),
		Propagator: prop,
		Metrics:    metrics,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &harness{
		server: s,
		url:    ts.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		recorder: recorder,
		metrics:  metrics,
		backend:  be,
		store:    store,
	}
}

func (h *harness) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := h.client.Get(h.url + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (h *harness) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := h.client.PostForm(h.url+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestStocksAddToWatchListFlow(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[{"symbol":"AAPL"}]`, nil)

	resp, body := h.get(t, "/stocks")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, strings.Count(body, "<td>AAPL</td>"))
	assert.Contains(t, body, "Add to Watch List")
	assert.NotContains(t, body, "disabled>Added")

	resp, _ = h.post(t, "/watchlist", url.Values{"symbol": {"AAPL"}, "kind": {"STOCK"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/stocks?added=AAPL", resp.Header.Get("Location"))

	_, body = h.get(t, "/stocks?added=AAPL")
	assert.Contains(t, body, `<button type="button" disabled>Added</button>`)
	assert.NotContains(t, body, "Add to Watch List")
	assert.Contains(t, body, "AAPL added to watch list.")

	resp, _ = h.post(t, "/watchlist", url.Values{"symbol": {"AAPL"}, "kind": {"STOCK"}})
	assert.Equal(t, "/stocks?present=AAPL", resp.Header.Get("Location"))

	_, body = h.get(t, "/watchlist")
	assert.Equal(t, 1, strings.Count(body, `<a href="/stocks/AAPL">AAPL</a>`))
}

func TestStocksBackendErrorShowsAlert(t *testing.T) {
	h := newHarness(t, http.StatusInternalServerError, `{"error":"boom"}`, nil)

	resp, body := h.get(t, "/stocks")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `role="alert">Failed to fetch symbols`)
	assert.NotContains(t, body, `<table id="stocks">`)
	assert.NotContains(t, body, "Add to Watch List")
}

func TestCheckBackendRendersResponse(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[{"symbol":"AAPL"}]`, nil)

	resp, body := h.post(t, "/check-backend", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `<pre id="backend-response">`)
	assert.Contains(t, body, "AAPL")
}

func TestCryptoPages(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[{"symbol":"btc","id":"bitcoin","name":"Bitcoin"}]`, nil)

	_, body := h.get(t, "/crypto")
	assert.Contains(t, body, `<td>BTC</td>`)
	assert.Contains(t, body, `href="/crypto/bitcoin"`)

	resp, _ := h.post(t, "/watchlist", url.Values{"symbol": {"bitcoin"}, "kind": {"CRYPTO"}})
	assert.Equal(t, "/crypto?added=bitcoin", resp.Header.Get("Location"))

	_, body = h.get(t, "/crypto")
	assert.Contains(t, body, "disabled>Added")
}

func TestRemoveFromWatchList(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[]`, nil)

	h.post(t, "/watchlist", url.Values{"symbol": {"MSFT"}, "kind": {"STOCK"}, "return_to": {"watchlist"}})
	_, body := h.get(t, "/watchlist")
	assert.Contains(t, body, "MSFT")

	resp, _ := h.post(t, "/watchlist/remove", url.Values{"symbol": {"MSFT"}, "kind": {"STOCK"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/watchlist?removed=MSFT", resp.Header.Get("Location"))

	_, body = h.get(t, "/watchlist")
	assert.Contains(t, body, "Your watch list is empty.")
}

func TestWatchFormValidation(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[]`, nil)

	tests := []struct {
		name string
		form url.Values
	}{
		{"missing symbol", url.Values{"kind": {"STOCK"}}},
		{"unknown kind", url.Values{"symbol": {"AAPL"}, "kind": {"BOND"}}},
		{"path in symbol", url.Values{"symbol": {"../etc"}, "kind": {"STOCK"}}},
		{"bad return", url.Values{"symbol": {"AAPL"}, "kind": {"STOCK"}, "return_to": {"https://evil"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.post(t, "/watchlist", tt.form)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body, "Bad request")
		})
	}
}

func TestNotFoundAndLegacyRoutes(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[]`, nil)

	resp, body := h.get(t, "/does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "Page not found")

	resp, _ = h.get(t, "/coins")
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/crypto", resp.Header.Get("Location"))

	resp, _ = h.get(t, "/coins/bitcoin")
	assert.Equal(t, "/crypto/bitcoin", resp.Header.Get("Location"))

	resp, _ = h.get(t, "/check-backend")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDebugFlushEndpoint(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[]`, nil)
	resp, _ := h.post(t, "/debug/telemetry/flush", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "flush endpoint is debug only")

	h = newHarness(t, http.StatusOK, `[]`, func(c *Config) {
		c.Debug = true
		c.Flusher = stubFlusher{ok: true}
	})
	resp, body := h.post(t, "/debug/telemetry/flush", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"flushed":true}`, body)

	_, home := h.get(t, "/")
	assert.Contains(t, home, "Flush traces")
}

func TestDebugEventsEndpoint(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[]`, func(c *Config) { c.Debug = true })
	store := h.server.deps.Store
	require.NoError(t, store.AppendEvent(context.Background(), &stores.EventRecord{
		Type: "action.failed", Source: "views", View: "stocks", Level: stores.EventLevelError, Message: "stocks.load failed",
	}))

	resp, body := h.get(t, "/debug/events?view=stocks")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"message":"stocks.load failed"`)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[]`, nil)

	resp, body := h.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestSessionCookie(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[]`, nil)

	resp, _ := h.get(t, "/")
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)
	_, err := uuid.Parse(session.Value)
	require.NoError(t, err)
	assert.True(t, session.HttpOnly)

	recorded, err := h.store.GetSession(context.Background(), session.Value)
	require.NoError(t, err)
	assert.Equal(t, session.Value, recorded.ID)

	resp, _ = h.get(t, "/")
	assert.Empty(t, resp.Cookies(), "known session should not be reissued")
}

func TestServerSpanContinuesInboundTrace(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[{"symbol":"AAPL"}]`, nil)

	traceID := "4bf92f3577b34da6a3ce929d0e0e4736"
	req, err := http.NewRequest(http.MethodGet, h.url+"/stocks", nil)
	require.NoError(t, err)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	var server, action sdktrace.ReadOnlySpan
	for _, s := range h.recorder.Ended() {
		switch s.Name() {
		case "GET /stocks":
			server = s
		case "stocks.load":
			action = s
		}
	}
	require.NotNil(t, server)
	require.NotNil(t, action)

	assert.Equal(t, traceID, server.SpanContext().TraceID().String())
	assert.Equal(t, trace.SpanKindServer, server.SpanKind())
	assert.Equal(t, server.SpanContext().SpanID(), action.Parent().SpanID())
	assert.Contains(t, h.backend.lastTraceparent(), traceID)
}

func TestHTTPMetricsByRoute(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[]`, nil)
	h.get(t, "/stocks/AAPL")
	h.get(t, "/nowhere")

	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `stockweb_http_requests_total{code="200",method="GET",route="/stocks/{symbol}"} 1`)
	assert.Contains(t, body, `stockweb_http_requests_total{code="404",method="GET",route="unmatched"} 1`)
}

func TestRecovererRendersErrorPage(t *testing.T) {
	h := newHarness(t, http.StatusOK, `[]`, nil)
	handler := h.server.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Something went wrong")
}

func TestTemplateOverrideReload(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "home.html")
	require.NoError(t, os.WriteFile(file, []byte(`v1 {{.Title}}`), 0o600))

	tmpl, err := LoadTemplates(dir, nil)
	require.NoError(t, err)

	var out strings.Builder
	require.NoError(t, tmpl.Render(&out, "home", page{Title: "Home"}))
	assert.Equal(t, "v1 Home", out.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tmpl.Watch(ctx))

	require.NoError(t, os.WriteFile(file, []byte(`v2 {{.Title}}`), 0o600))

	assert.Eventually(t, func() bool {
		var b strings.Builder
		return tmpl.Render(&b, "home", page{Title: "Home"}) == nil && b.String() == "v2 Home"
	}, 5*time.Second, 50*time.Millisecond)

	// A broken template keeps the last good set.
	require.NoError(t, os.WriteFile(file, []byte(`{{.Title`), 0o600))
	time.Sleep(2 * reloadDelay)
	var b strings.Builder
	require.NoError(t, tmpl.Render(&b, "home", page{Title: "Home"}))
	assert.Equal(t, "v2 Home", b.String())
}

func TestEmbeddedTemplatesParse(t *testing.T) {
	tmpl, err := LoadTemplates("", nil)
	require.NoError(t, err)

	for _, name := range []string{"home", "stocks", "crypto", "stock_detail", "crypto_detail", "watchlist", "not_found", "server_error", "bad_request"} {
		var b strings.Builder
		assert.NoError(t, tmpl.Render(&b, name, page{Title: name}), name)
	}
}
