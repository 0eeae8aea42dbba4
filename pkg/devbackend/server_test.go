package devbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stocktracker/stockweb/pkg/eventlog"
	"github.com/stocktracker/stockweb/pkg/stockapi"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

func newTestBackend(t *testing.T, opts ...Option) (*Server, *stockapi.Client) {
	t.Helper()
	f, err := DefaultFixtures()
	require.NoError(t, err)

	s := New(f, telemetry.NopLogger(), opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	client, err := stockapi.NewClient(srv.URL)
	require.NoError(t, err)
	return s, client
}

func TestDefaultFixturesDecodeThroughClient(t *testing.T) {
	_, client := newTestBackend(t)
	ctx := context.Background()

	symbols, _, err := client.StockSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, symbols, 3)
	assert.Equal(t, "AAPL", symbols[0].Symbol)

	series, _, err := client.StockSeries(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", series.Symbol)
	assert.Equal(t, "2024-05-03", series.LastRefreshed)
	latest, ok := series.Latest()
	require.True(t, ok)
	assert.Equal(t, "183.38", latest.Close.String())
	assert.Equal(t, int64(163224109), latest.Volume)

	coins, _, err := client.CryptoSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, coins, 2)
	assert.Equal(t, "bitcoin", coins[0].ID)
	assert.Equal(t, "btc", coins[0].Symbol)

	market, _, err := client.CoinMarket(ctx, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, "Ethereum", market.Name)
	assert.False(t, market.Rising())
}

func TestUnknownSymbols(t *testing.T) {
	_, client := newTestBackend(t)
	ctx := context.Background()

	_, _, err := client.StockSeries(ctx, "NOPE")
	assert.Equal(t, stockapi.ErrorClassDecode, stockapi.Class(err))

	_, _, err = client.CoinMarket(ctx, "dogecoin")
	assert.Equal(t, stockapi.ErrorClassDecode, stockapi.Class(err))
}

func TestFailingSwitch(t *testing.T) {
	s, client := newTestBackend(t)
	s.SetFailing(true)

	_, _, err := client.StockSymbols(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, stockapi.StatusCode(err))

	s.SetFailing(false)
	_, _, err = client.StockSymbols(context.Background())
	assert.NoError(t, err)
}

func TestRequestsContinueCallerTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prop := propagation.TraceContext{}

	_, client := newTestBackend(t, WithTracer(tp.Tracer(TracerName), prop))
	client = withPropagator(t, client, prop)

	ctx, parent := tp.Tracer("test").Start(context.Background(), "stocks.load")
	_, _, err := client.StockSymbols(ctx)
	require.NoError(t, err)
	parent.End()

	var server sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "getAllStockSymbols" {
			server = s
		}
	}
	require.NotNil(t, server)
	assert.Equal(t, parent.SpanContext().TraceID(), server.SpanContext().TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), server.Parent().SpanID())
}

func withPropagator(t *testing.T, c *stockapi.Client, p propagation.TextMapPropagator) *stockapi.Client {
	t.Helper()
	out, err := stockapi.NewClient(c.BaseURL(), stockapi.WithPropagator(p))
	require.NoError(t, err)
	return out
}

func TestLogEventHook(t *testing.T) {
	got := make(chan eventlog.LogEvent, 1)
	s := New(&Fixtures{}, telemetry.NopLogger(), WithEventHook(func(ev eventlog.LogEvent) { got <- ev }))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(eventlog.LogEvent{Type: eventlog.TypeInfo, Event: "watchlist_add", Timestamp: 1})
	resp, err := http.Post(srv.URL+eventlog.Path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case ev := <-got:
		assert.Equal(t, "watchlist_add", ev.Event)
	case <-time.After(time.Second):
		t.Fatal("event hook not called")
	}
}

func TestParseFixtures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"empty", "", false},
		{"stock without symbol", "stocks:\n  - bars: []\n", true},
		{"duplicate stock", "stocks:\n  - symbol: AAPL\n  - symbol: aapl\n", true},
		{"coin without id", "crypto:\n  - symbol: btc\n", true},
		{"bad price", "crypto:\n  - {id: bitcoin, symbol: btc, price: abc}\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFixtures([]byte(tt.yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.TimeZone != "US/Eastern" {
				t.Errorf("expected default time zone, got %q", f.TimeZone)
			}
		})
	}
}
