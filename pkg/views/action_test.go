package views

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/stocktracker/stockweb/pkg/stockapi"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

func TestRunEndsSpanOnceOnPanic(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `[]`))
	state := &State[int]{}

	func() {
		defer func() {
			if r := recover(); r != "kaboom" {
				t.Fatalf("expected panic to be re-raised, got %v", r)
			}
		}()
		run(context.Background(), f.deps, action[int]{
			view:      "test",
			name:      "explode",
			component: "Test",
			errorText: "Something went wrong.",
			fetch: func(context.Context) (int, stockapi.Meta, error) {
				panic("kaboom")
			},
		}, state)
	}()

	span := f.onlySpan(t)
	if span.Status().Code != codes.Error {
		t.Fatalf("expected status ERROR, got %v", span.Status())
	}
	if state.Loading {
		t.Fatal("expected loading to be cleared after panic")
	}
	if state.Error != "Something went wrong." {
		t.Fatalf("unexpected error text %q", state.Error)
	}

	logs := f.logs.entries()
	if len(logs) != 1 || logs[0].entry.Event != "explode_error" {
		t.Fatalf("expected explode_error log event, got %+v", logs)
	}
}

func TestLogEventCorrelatedWithActionSpan(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `[{"symbol":"AAPL"}]`))

	NewStocksView(f.deps).AddToWatchList(context.Background(), "session-1", "AAPL")

	span := f.onlySpan(t)
	logs := f.logs.entries()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log event, got %d", len(logs))
	}
	sent := logs[0]
	if sent.entry.Span == nil {
		t.Fatal("expected log event to carry the action span")
	}
	if traceIDOf(sent.entry.Span) != span.SpanContext().TraceID() {
		t.Fatal("expected log event trace id to match the action span")
	}
	if sent.entry.Span.SpanContext().SpanID() != span.SpanContext().SpanID() {
		t.Fatal("expected log event span id to match the action span")
	}
	if !sent.spanOpen {
		t.Fatal("expected log event to be sent before the span ended")
	}
}

func TestEventLogFailureDoesNotFailAction(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `[{"symbol":"AAPL"}]`))
	f.logs.err = errors.New("collector down")

	state := NewStocksView(f.deps).Load(context.Background(), "session-1")
	if state.Failed() {
		t.Fatalf("expected success despite log failure, got %q", state.Error)
	}
	if f.onlySpan(t).Status().Code != codes.Ok {
		t.Fatal("expected status OK")
	}
}

func TestRunWithoutOptionalDeps(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `[{"symbol":"AAPL"}]`))
	f.deps.EventLog = nil
	f.deps.Store = nil
	f.deps.Logger = nil

	state := NewStocksView(f.deps).Load(context.Background(), "session-1")
	if state.Failed() || len(state.Data) != 1 {
		t.Fatalf("unexpected state %+v", state)
	}

	add := NewStocksView(f.deps).AddToWatchList(context.Background(), "session-1", "AAPL")
	if !add.Failed() {
		t.Fatal("expected add without a store to fail")
	}
}

type countingFlusher struct {
	calls atomic.Int32
	done  chan struct{}
}

func (c *countingFlusher) Flush(context.Context) bool {
	c.calls.Add(1)
	c.done <- struct{}{}
	return true
}

func TestFlushAfterAction(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `[]`))
	flusher := &countingFlusher{done: make(chan struct{}, 1)}
	f.deps.FlushAfterAction = true
	f.deps.Flusher = flusher

	NewHomeView(f.deps).CheckBackend(context.Background())

	select {
	case <-flusher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a flush after the action")
	}
	if got := flusher.calls.Load(); got != 1 {
		t.Fatalf("expected 1 flush, got %d", got)
	}
}

func TestRunPublishesUIEvents(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusInternalServerError, `oops`))

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	var types []string
	events.Subscribe(func(e telemetry.Event) { types = append(types, e.Type) }, nil)
	f.deps.Events = events

	NewStocksView(f.deps).Load(context.Background(), "session-1")

	want := []string{telemetry.EventTypeActionStarted, telemetry.EventTypeActionFailed}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, types)
	}
}

func TestCheckBackendPrettyPrints(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `[{"symbol":"AAPL"},"MSFT"]`))

	state := NewHomeView(f.deps).CheckBackend(context.Background())
	if state.Failed() {
		t.Fatalf("unexpected error %q", state.Error)
	}
	if !strings.Contains(state.Data, "\n  ") {
		t.Fatalf("expected indented JSON, got %q", state.Data)
	}
	var decoded []any
	if err := json.Unmarshal([]byte(state.Data), &decoded); err != nil || len(decoded) != 2 {
		t.Fatalf("expected valid JSON with 2 items, got %q", state.Data)
	}
	if f.onlySpan(t).Name() != "home.check_backend" {
		t.Fatal("expected span home.check_backend")
	}

	logs := f.logs.entries()
	if len(logs) != 1 || logs[0].entry.Event != "check_backend_success" {
		t.Fatalf("expected check_backend_success, got %+v", logs)
	}
}

func TestCheckBackendFailure(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusBadGateway, ``))

	state := NewHomeView(f.deps).CheckBackend(context.Background())
	if state.Error != ErrTextSymbols {
		t.Fatalf("expected %q, got %q", ErrTextSymbols, state.Error)
	}
	if state.Data != "" {
		t.Fatalf("expected no data, got %q", state.Data)
	}
}

func TestStateTransitions(t *testing.T) {
	s := &State[string]{Data: "stale", HasData: true, Error: "old"}

	s.Begin()
	if !s.Loading || s.HasData || s.Error != "" || s.Data != "" {
		t.Fatalf("Begin should reset to Loading, got %+v", s)
	}

	s.Succeed("fresh")
	s.Finish()
	if s.Loading || !s.HasData || s.Data != "fresh" || s.Failed() {
		t.Fatalf("unexpected success state %+v", s)
	}

	s.Begin()
	s.Fail("nope")
	s.Finish()
	if s.Loading || s.HasData || s.Data != "" || !s.Failed() {
		t.Fatalf("unexpected error state %+v", s)
	}
}
