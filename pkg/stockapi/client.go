package stockapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// Endpoint route templates, used as metric labels and in errors.
const (
	EndpointStockSymbols  = "/stocks/symbols"
	EndpointStockSeries   = "/stocks/{symbol}"
	EndpointCryptoSymbols = "/crypto/symbols"
	EndpointCoinMarket    = "/crypto/{symbol}"
)

const (
	defaultTimeout  = 10 * time.Second
	maxBodyBytes    = 10 << 20
	maxErrorSnippet = 256
)

// Meta describes one HTTP exchange with the backend.
type Meta struct {
	Method        string
	URL           string
	StatusCode    int
	ContentLength int64
	Duration      time.Duration
}

// Client talks to the stock backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	propagator propagation.TextMapPropagator
	metrics    *telemetry.Metrics
	logger     *telemetry.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPropagator sets the propagator used to inject trace context.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Client) {
		c.propagator = p
	}
}

// WithMetrics records fetch metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the client logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q: expected http(s)://host", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StockSymbols fetches GET /stocks/symbols.
func (c *Client) StockSymbols(ctx context.Context) ([]Symbol, Meta, error) {
	var symbols []Symbol
	meta, err := c.GetJSON(ctx, EndpointStockSymbols, "/stocks/symbols", &symbols)
	return symbols, meta, err
}

// CryptoSymbols fetches GET /crypto/symbols.
func (c *Client) CryptoSymbols(ctx context.Context) ([]CryptoSymbol, Meta, error) {
	var symbols []CryptoSymbol
	meta, err := c.GetJSON(ctx, EndpointCryptoSymbols, "/crypto/symbols", &symbols)
	return symbols, meta, err
}

// StockSeries fetches the daily series of one symbol.
func (c *Client) StockSeries(ctx context.Context, symbol string) (*StockSeries, Meta, error) {
	series := &StockSeries{}
	meta, err := c.GetJSON(ctx, EndpointStockSeries, "/stocks/"+url.PathEscape(symbol), series)
	if err != nil {
		return nil, meta, err
	}
	return series, meta, nil
}

// CoinMarket fetches the market snapshot of one coin by CoinGecko id.
func (c *Client) CoinMarket(ctx context.Context, id string) (*CoinMarket, Meta, error) {
	var markets []CoinMarket
	meta, err := c.GetJSON(ctx, EndpointCoinMarket, "/crypto/"+url.PathEscape(id), &markets)
	if err != nil {
		return nil, meta, err
	}
	if len(markets) == 0 {
		err := NewDecodeError(EndpointCoinMarket, meta.StatusCode, fmt.Errorf("no market data for %q", id))
		c.metrics.RecordFetchError(EndpointCoinMarket, string(err.Class))
		return nil, meta, err
	}
	return &markets[0], meta, nil
}

// GetJSON performs GET {baseURL}{path} with injected trace context and
// decodes a 2xx JSON body into out. endpoint is the route template used for
// metrics and errors.
func (c *Client) GetJSON(ctx context.Context, endpoint, path string, out any) (Meta, error) {
	meta := Meta{Method: http.MethodGet, URL: c.baseURL + path}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return meta, NewTransportError(endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	c.injector().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		meta.Duration = time.Since(start)
		return meta, c.fail(ctx, meta, NewTransportError(endpoint, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	meta.Duration = time.Since(start)
	meta.StatusCode = resp.StatusCode
	meta.ContentLength = int64(len(body))
	if err != nil {
		return meta, c.fail(ctx, meta, NewTransportError(endpoint, err))
	}

	c.metrics.RecordFetch(endpoint, resp.StatusCode, meta.Duration)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return meta, c.fail(ctx, meta, NewStatusError(endpoint, resp.StatusCode, snippet(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return meta, c.fail(ctx, meta, NewDecodeError(endpoint, resp.StatusCode, err))
	}

	c.logger.Ctx(ctx).Zerolog().Debug().
		Str("url", meta.URL).
		Int("status", meta.StatusCode).
		Dur("duration", meta.Duration).
		Msg("Backend request completed")

	return meta, nil
}

func (c *Client) fail(ctx context.Context, meta Meta, err *FetchError) error {
	if err.Class == ErrorClassTransport {
		c.metrics.RecordFetch(err.Endpoint, 0, meta.Duration)
	}
	c.metrics.RecordFetchError(err.Endpoint, string(err.Class))

	c.logger.Ctx(ctx).Zerolog().Warn().
		Err(err).
		Str("url", meta.URL).
		Str("class", string(err.Class)).
		Msg("Backend request failed")
	return err
}

func (c *Client) injector() propagation.TextMapPropagator {
	if c.propagator != nil {
		return c.propagator
	}
	return otel.GetTextMapPropagator()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet] + "..."
	}
	return s
}
