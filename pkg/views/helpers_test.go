package views

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/stocktracker/stockweb/pkg/eventlog"
	"github.com/stocktracker/stockweb/pkg/stockapi"
	"github.com/stocktracker/stockweb/pkg/stores"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// sentLog is one entry received by fakeEventLog.
type sentLog struct {
	entry eventlog.Entry
	// spanOpen is true when the action span was still recording at send time.
	spanOpen bool
}

type fakeEventLog struct {
	mu   sync.Mutex
	sent []sentLog
	err  error
}

func (f *fakeEventLog) Log(_ context.Context, e eventlog.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := e.Span != nil && e.Span.IsRecording()
	f.sent = append(f.sent, sentLog{entry: e, spanOpen: open})
	return f.err
}

func (f *fakeEventLog) entries() []sentLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentLog(nil), f.sent...)
}

type fixture struct {
	deps     *Deps
	recorder *tracetest.SpanRecorder
	logs     *fakeEventLog
	store    *stores.SQLiteStore
}

// newFixture wires views to a fake backend answering with handler, an
// in-memory store and a span recorder.
func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api, err := stockapi.NewClient(srv.URL, stockapi.WithPropagator(propagation.TraceContext{}))
	if err != nil {
		t.Fatalf("failed to create api client: %v", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	logs := &fakeEventLog{}

	return &fixture{
		deps: &Deps{
			API:      api,
			Store:    store,
			EventLog: logs,
			Tracer:   tp.Tracer(TracerName),
			Logger:   telemetry.NopLogger(),
		},
		recorder: recorder,
		logs:     logs,
		store:    store,
	}
}

func jsonHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

// onlySpan returns the single ended span, failing if there is not exactly one.
func (f *fixture) onlySpan(t *testing.T) sdktrace.ReadOnlySpan {
	t.Helper()
	ended := f.recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected exactly 1 ended span, got %d", len(ended))
	}
	if started := f.recorder.Started(); len(started) != 1 {
		t.Fatalf("expected exactly 1 started span, got %d", len(started))
	}
	return ended[0]
}

func attr(span sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func hasEvent(span sdktrace.ReadOnlySpan, name string) bool {
	for _, ev := range span.Events() {
		if ev.Name == name {
			return true
		}
	}
	return false
}

func traceIDOf(s trace.Span) trace.TraceID {
	return s.SpanContext().TraceID()
}
