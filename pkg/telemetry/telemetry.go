package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and the UI event bus.
type Telemetry struct {
	Logger   *Logger
	Provider *Provider
	Metrics  *Metrics
	Events   *EventPublisher
	Config   *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// New creates a telemetry instance from configuration.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return NewWithLogger(ctx, cfg, logger, opts...)
}

// NewWithLogger is New with a caller supplied logger.
func NewWithLogger(ctx context.Context, cfg *Config, logger *Logger, opts ...Option) (*Telemetry, error) {
	opts = append([]Option{WithLogger(*logger.NewComponentLogger("otel").Zerolog())}, opts...)
	provider, err := NewProvider(ctx, cfg.Tracing, ServiceInfo{
		Name:        cfg.ServiceName,
		Version:     cfg.ServiceVersion,
		Environment: cfg.Environment,
		Attributes:  cfg.ResourceAttributes,
	}, opts...)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	events, err := NewEventPublisher(cfg.Events, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	return &Telemetry{
		Logger:   logger,
		Provider: provider,
		Metrics:  metrics,
		Events:   events,
		Config:   cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Tracer returns a named tracer from the provider.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.Provider.Tracer(name)
}

// Flush exports buffered spans and reports whether the export succeeded.
func (t *Telemetry) Flush(ctx context.Context) bool {
	ok := t.Provider.Flush(ctx)
	t.Metrics.RecordTraceFlush(ok)

	level := EventLevelInfo
	if !ok {
		level = EventLevelWarning
	}
	_ = t.Events.Publish(Event{
		Type:    EventTypeTraceFlushed,
		Source:  "telemetry",
		Message: "trace flush requested",
		Level:   level,
		Data: map[string]interface{}{
			"ok": ok,
		},
	})
	return ok
}

// Shutdown stops the event bus, then flushes and stops the tracer provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Events.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.Provider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
	}
	return errors.Join(errs...)
}
