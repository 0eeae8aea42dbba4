package views

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/codes"

	"github.com/stocktracker/stockweb/pkg/eventlog"
	"github.com/stocktracker/stockweb/pkg/stores"
)

func TestStocksLoadSuccess(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `[{"symbol":"AAPL"}]`))

	state := NewStocksView(f.deps).Load(context.Background(), "session-1")

	if state.Loading {
		t.Fatal("expected loading to be cleared")
	}
	if state.Error != "" {
		t.Fatalf("expected no error, got %q", state.Error)
	}
	if len(state.Data) != 1 || state.Data[0].Symbol != "AAPL" {
		t.Fatalf("expected one AAPL row, got %+v", state.Data)
	}
	if state.Data[0].InWatchList {
		t.Fatal("expected AAPL not to be on the watch list")
	}

	span := f.onlySpan(t)
	if span.Name() != "stocks.load" {
		t.Fatalf("expected span stocks.load, got %s", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Fatalf("expected status OK, got %v", span.Status())
	}
	if got, _ := attr(span, "http.status_code"); got != "200" {
		t.Fatalf("expected http.status_code 200, got %q", got)
	}
	if got, _ := attr(span, "http.method"); got != http.MethodGet {
		t.Fatalf("expected http.method GET, got %q", got)
	}
	if got, _ := attr(span, "ui.component"); got != "Stocks" {
		t.Fatalf("expected ui.component Stocks, got %q", got)
	}
	for _, name := range []string{EventActionStarted, EventFetchCompleted, EventSymbolsReceived} {
		if !hasEvent(span, name) {
			t.Errorf("expected span event %s", name)
		}
	}
}

func TestStocksLoadServerError(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusInternalServerError, `{"error":"boom"}`))

	state := NewStocksView(f.deps).Load(context.Background(), "session-1")

	if state.Loading {
		t.Fatal("expected loading to be cleared")
	}
	if state.Error != ErrTextSymbols {
		t.Fatalf("expected error %q, got %q", ErrTextSymbols, state.Error)
	}
	if state.HasData || state.Data != nil {
		t.Fatalf("expected no rows, got %+v", state.Data)
	}

	span := f.onlySpan(t)
	if span.Status().Code != codes.Error {
		t.Fatalf("expected status ERROR, got %v", span.Status())
	}
	if got, _ := attr(span, "http.status_code"); got != "500" {
		t.Fatalf("expected http.status_code 500, got %q", got)
	}
	if got, _ := attr(span, "error.class"); got != "status" {
		t.Fatalf("expected error.class status, got %q", got)
	}
	if hasEvent(span, EventFetchCompleted) {
		t.Fatal("did not expect fetch.completed on failure")
	}

	logs := f.logs.entries()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log event, got %d", len(logs))
	}
	e := logs[0].entry
	if e.Event != "load_error" || e.Type != eventlog.TypeError {
		t.Fatalf("unexpected log event %s/%s", e.Event, e.Type)
	}
	if e.Metadata["status_code"] != http.StatusInternalServerError {
		t.Fatalf("expected status_code 500 in metadata, got %v", e.Metadata["status_code"])
	}
}

func TestStocksLoadTransportError(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `[]`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := NewStocksView(f.deps).Load(ctx, "session-1")

	if state.Error != ErrTextSymbols {
		t.Fatalf("expected error %q, got %q", ErrTextSymbols, state.Error)
	}
	span := f.onlySpan(t)
	if got, _ := attr(span, "error.class"); got != "transport" {
		t.Fatalf("expected error.class transport, got %q", got)
	}
}

func TestStocksLoadDecodeError(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `not json`))

	state := NewStocksView(f.deps).Load(context.Background(), "session-1")

	if !state.Failed() {
		t.Fatal("expected decode failure")
	}
	span := f.onlySpan(t)
	if span.Status().Code != codes.Error {
		t.Fatalf("expected status ERROR, got %v", span.Status())
	}
	if got, _ := attr(span, "error.class"); got != "decode" {
		t.Fatalf("expected error.class decode, got %q", got)
	}
}

func TestStocksAddToWatchList(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `[{"symbol":"AAPL"},{"symbol":"MSFT"}]`))
	view := NewStocksView(f.deps)
	ctx := context.Background()

	first := view.AddToWatchList(ctx, "session-1", " aapl ")
	if first.Failed() {
		t.Fatalf("unexpected error: %s", first.Error)
	}
	if !first.Data.Added || first.Data.Symbol != "AAPL" || first.Data.Kind != stores.WatchKindStock {
		t.Fatalf("unexpected result: %+v", first.Data)
	}

	second := view.AddToWatchList(ctx, "session-1", "AAPL")
	if second.Failed() {
		t.Fatalf("unexpected error: %s", second.Error)
	}
	if second.Data.Added {
		t.Fatal("expected second add to report added=false")
	}

	kind := stores.WatchKindStock
	entries, err := f.store.ListWatchEntries(ctx, "session-1", &kind)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	logs := f.logs.entries()
	if len(logs) != 2 {
		t.Fatalf("expected 2 log events, got %d", len(logs))
	}
	for i, want := range []bool{false, true} {
		e := logs[i].entry
		if e.Event != "watchlist_add" {
			t.Fatalf("expected watchlist_add, got %s", e.Event)
		}
		if e.Metadata["symbol"] != "AAPL" || e.Metadata["already_present"] != want {
			t.Fatalf("log %d: unexpected metadata %v", i, e.Metadata)
		}
	}

	for _, span := range f.recorder.Ended() {
		if span.Name() != "stocks.add_to_watchlist" {
			t.Fatalf("unexpected span %s", span.Name())
		}
		if got, _ := attr(span, "stock.symbol"); got != "AAPL" {
			t.Fatalf("expected stock.symbol AAPL, got %q", got)
		}
	}

	rows := view.Load(ctx, "session-1").Data
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if !rows[0].InWatchList || rows[1].InWatchList {
		t.Fatalf("expected only AAPL on the watch list, got %+v", rows)
	}

	// Watch lists are per session.
	other := view.Load(ctx, "session-2").Data
	if other[0].InWatchList {
		t.Fatal("expected other session to have an empty watch list")
	}
}

func TestStocksAddEmptySymbol(t *testing.T) {
	f := newFixture(t, jsonHandler(http.StatusOK, `[]`))

	state := NewStocksView(f.deps).AddToWatchList(context.Background(), "session-1", "  ")
	if !state.Failed() {
		t.Fatal("expected empty symbol to fail")
	}
	logs := f.logs.entries()
	if len(logs) != 1 || logs[0].entry.Event != "watchlist_add_error" {
		t.Fatalf("expected watchlist_add_error, got %+v", logs)
	}
}
