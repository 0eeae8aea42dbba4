// Package devbackend is a stub of the stock backend API for local
// development. It serves fixture symbols and prices in the shapes the real
// backend forwards from Alpha Vantage and CoinGecko, and accepts
// /log-event posts.
package devbackend

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stocktracker/stockweb/pkg/eventlog"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// TracerName is the instrumentation scope of backend spans.
const TracerName = "stockweb/devbackend"

// Server serves Fixtures over HTTP.
type Server struct {
	fixtures   *Fixtures
	logger     *telemetry.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	onEvent    func(eventlog.LogEvent)
	now        func() time.Time

	// failing makes every data endpoint answer 500.
	failing atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithTracer records a server span per request, continuing the caller's trace.
func WithTracer(t trace.Tracer, p propagation.TextMapPropagator) Option {
	return func(s *Server) {
		s.tracer = t
		s.propagator = p
	}
}

// WithEventHook is called for every accepted log event.
func WithEventHook(fn func(eventlog.LogEvent)) Option {
	return func(s *Server) { s.onEvent = fn }
}

// WithClock sets the time reported as last_updated.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a stub backend serving f.
func New(f *Fixtures, logger *telemetry.Logger, opts ...Option) *Server {
	s := &Server{
		fixtures:   f,
		logger:     logger,
		tracer:     noop.NewTracerProvider().Tracer(TracerName),
		propagator: propagation.TraceContext{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFailing switches the data endpoints to HTTP 500 and back.
func (s *Server) SetFailing(failing bool) {
	s.failing.Store(failing)
}

// Handler returns the backend routes.
func (s *Server) Handler() http.Handler {
	receiverOpts := []eventlog.ReceiverOption{eventlog.WithReceiverPropagator(s.propagator)}
	if s.onEvent != nil {
		hook := s.onEvent
		receiverOpts = append(receiverOpts, eventlog.OnEvent(func(_ context.Context, ev eventlog.LogEvent) {
			hook(ev)
		}))
	}

	r := mux.NewRouter()
	r.HandleFunc("/stocks/symbols", s.traced("getAllStockSymbols", s.stockSymbols)).Methods(http.MethodGet)
	r.HandleFunc("/stocks/{symbol}", s.traced("getStockData", s.stockSeries)).Methods(http.MethodGet)
	r.HandleFunc("/crypto/symbols", s.traced("getAllCryptoSymbols", s.cryptoSymbols)).Methods(http.MethodGet)
	r.HandleFunc("/crypto/{symbol}", s.traced("getCryptoData", s.coinMarket)).Methods(http.MethodGet)
	r.Handle(eventlog.Path, eventlog.NewReceiver(s.logger, receiverOpts...)).Methods(http.MethodPost)
	return r
}

// traced wraps a data handler in a server span and the failure switch.
func (s *Server) traced(name string, h func(w http.ResponseWriter, r *http.Request) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := s.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("api.name", "fixtures")),
		)
		defer span.End()
		r = r.WithContext(ctx)

		var status int
		if s.failing.Load() {
			status = http.StatusInternalServerError
			http.Error(w, "fixture backend is failing", status)
		} else {
			status = h(w, r)
		}

		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		s.logger.Ctx(ctx).Zerolog().Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Msg("Request served")
	}
}

// stockSymbols answers with a bare string array, as the real backend does.
func (s *Server) stockSymbols(w http.ResponseWriter, r *http.Request) int {
	symbols := make([]string, 0, len(s.fixtures.Stocks))
	for _, st := range s.fixtures.Stocks {
		symbols = append(symbols, st.Symbol)
	}
	return writeJSON(w, http.StatusOK, symbols)
}

func (s *Server) stockSeries(w http.ResponseWriter, r *http.Request) int {
	symbol := mux.Vars(r)["symbol"]
	st, ok := s.fixtures.stock(symbol)
	if !ok {
		// Alpha Vantage answers 200 with an error message for unknown symbols.
		return writeJSON(w, http.StatusOK, map[string]string{
			"Error Message": "Invalid API call. Please retry or visit the documentation for TIME_SERIES_DAILY.",
		})
	}

	bars := append([]Bar(nil), st.Bars...)
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date > bars[j].Date })

	series := make(map[string]map[string]string, len(bars))
	for _, b := range bars {
		series[b.Date] = map[string]string{
			"1. open":   b.Open.StringFixed(4),
			"2. high":   b.High.StringFixed(4),
			"3. low":    b.Low.StringFixed(4),
			"4. close":  b.Close.StringFixed(4),
			"5. volume": strconv.FormatInt(b.Volume, 10),
		}
	}

	lastRefreshed := ""
	if len(bars) > 0 {
		lastRefreshed = bars[0].Date
	}

	return writeJSON(w, http.StatusOK, map[string]any{
		"Meta Data": map[string]string{
			"1. Information":    "Daily Prices (open, high, low, close) and Volumes",
			"2. Symbol":         strings.ToUpper(st.Symbol),
			"3. Last Refreshed": lastRefreshed,
			"4. Output Size":    "Compact",
			"5. Time Zone":      s.fixtures.TimeZone,
		},
		"Time Series (Daily)": series,
	})
}

type coinSymbol struct {
	Symbol string
	Id     string
}

// cryptoSymbols mirrors the backend's exported-field encoding.
func (s *Server) cryptoSymbols(w http.ResponseWriter, r *http.Request) int {
	symbols := make([]coinSymbol, 0, len(s.fixtures.Crypto))
	for _, c := range s.fixtures.Crypto {
		symbols = append(symbols, coinSymbol{Symbol: c.Symbol, Id: c.ID})
	}
	return writeJSON(w, http.StatusOK, symbols)
}

// coinMarket answers with a CoinGecko /coins/markets array, empty for
// unknown ids.
func (s *Server) coinMarket(w http.ResponseWriter, r *http.Request) int {
	id := mux.Vars(r)["symbol"]
	markets := []map[string]any{}
	if c, ok := s.fixtures.coin(id); ok {
		markets = append(markets, map[string]any{
			"id":                          c.ID,
			"symbol":                      c.Symbol,
			"name":                        c.Name,
			"current_price":               json.Number(c.Price.String()),
			"market_cap":                  json.Number(c.MarketCap.String()),
			"market_cap_rank":             c.Rank,
			"total_volume":                json.Number(c.Volume.String()),
			"high_24h":                    json.Number(c.High24h.String()),
			"low_24h":                     json.Number(c.Low24h.String()),
			"price_change_24h":            json.Number(c.Change24h.String()),
			"price_change_percentage_24h": json.Number(c.ChangePct24h.String()),
			"last_updated":                s.now().UTC().Format(time.RFC3339),
		})
	}
	return writeJSON(w, http.StatusOK, markets)
}

func writeJSON(w http.ResponseWriter, status int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
	return status
}
