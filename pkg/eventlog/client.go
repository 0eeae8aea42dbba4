package eventlog

import (
	"bytes"
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
	"go.opentelemetry.io/otel/trace"

	"github.com/stocktracker/stockweb/pkg/telemetry"
)

const defaultTimeout = 5 * time.Second

// Client sends LogEvents to {apiBase}/log-event.
type Client struct {
	endpoint   string
	httpClient *http.Client
	propagator propagation.TextMapPropagator
	now        func() time.Time
	metrics    *telemetry.Metrics
	logger     *telemetry.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPropagator overrides the global propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Client) { c.propagator = p }
}

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithMetrics records delivery metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the client logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the backend at apiBase.
func NewClient(apiBase string, opts ...Option) (*Client, error) {
	u, err := url.Parse(apiBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", apiBase)
	}

	c := &Client{
		endpoint:   strings.TrimRight(apiBase, "/") + Path,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
		logger:     telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the full /log-event URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Log POSTs one event. It sends exactly one request and never retries.
// Transport failures and non-2xx statuses are returned to the caller.
func (c *Client) Log(ctx context.Context, e Entry) error {
	typ := e.Type
	if typ == "" {
		typ = TypeInfo
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	body, err := json.Marshal(LogEvent{
		Type:      typ,
		Event:     e.Event,
		Timestamp: c.now().UnixMilli(),
		Metadata:  metadata,
	})
	if err != nil {
		c.metrics.RecordEventLogSend(typ, telemetry.OutcomeError)
		return fmt.Errorf("failed to encode log event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		c.metrics.RecordEventLogSend(typ, telemetry.OutcomeError)
		return fmt.Errorf("failed to build log event request: %w", err)
	}

	propCtx := ctx
	if e.Span != nil {
		propCtx = trace.ContextWithSpan(ctx, e.Span)
	}
	c.injector().Inject(propCtx, propagation.HeaderCarrier(req.Header))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordEventLogSend(typ, telemetry.OutcomeError)
		return fmt.Errorf("failed to send log event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		c.metrics.RecordEventLogSend(typ, telemetry.OutcomeError)
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.metrics.RecordEventLogSend(typ, telemetry.OutcomeSuccess)
	c.logger.Ctx(propCtx).Zerolog().Debug().
		Str("event", e.Event).
		Str("type", typ).
		Msg("Log event delivered")
	return nil
}

func (c *Client) injector() propagation.TextMapPropagator {
	if c.propagator != nil {
		return c.propagator
	}
	return otel.GetTextMapPropagator()
}
