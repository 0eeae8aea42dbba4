package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultTracerName is used when Tracer is called with an empty name.
const DefaultTracerName = "default-tracer"

const tracesPath = "/v1/traces"

// ServiceInfo identifies the process in exported telemetry.
type ServiceInfo struct {
	Name        string
	Version     string
	Environment string
	Attributes  map[string]string
}

// Option customizes provider construction.
type Option func(*providerOptions)

type providerOptions struct {
	exporter       sdktrace.SpanExporter
	registerGlobal bool
	logger         zerolog.Logger
}

// WithExporter replaces the exporter selected by configuration.
func WithExporter(exporter sdktrace.SpanExporter) Option {
	return func(o *providerOptions) {
		o.exporter = exporter
	}
}

// WithoutGlobalRegistration keeps the provider and propagator out of the otel globals.
func WithoutGlobalRegistration() Option {
	return func(o *providerOptions) {
		o.registerGlobal = false
	}
}

// WithLogger routes flush failures and SDK errors to the given logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *providerOptions) {
		o.logger = logger
	}
}

// Provider owns the process tracer provider and its batching exporter.
type Provider struct {
	provider *sdktrace.TracerProvider
	exporter *recordingExporter
	config   TracingConfig
	logger   zerolog.Logger

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// Initialize builds a provider exporting to collectorURL over OTLP/HTTP with
// the default batching settings. An empty collectorURL keeps tracing local.
func Initialize(ctx context.Context, serviceName, collectorURL string, opts ...Option) (*Provider, error) {
	defaults := DefaultConfig()
	cfg := defaults.Tracing
	cfg.CollectorURL = collectorURL
	if collectorURL == "" {
		cfg.Exporter = ExporterNone
	}

	return NewProvider(ctx, cfg, ServiceInfo{
		Name:        serviceName,
		Version:     defaults.ServiceVersion,
		Environment: defaults.Environment,
	}, opts...)
}

// NewProvider creates a tracer provider from configuration.
func NewProvider(ctx context.Context, cfg TracingConfig, svc ServiceInfo, opts ...Option) (*Provider, error) {
	o := providerOptions{registerGlobal: true, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := newResource(ctx, svc)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	exporter := o.exporter
	if exporter == nil && cfg.Enabled {
		exporter, err = newExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(cfg.SamplingRate),
		)),
	}

	p := &Provider{config: cfg, logger: o.logger}
	if exporter != nil {
		p.exporter = &recordingExporter{next: exporter}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(p.exporter, batchOptions(cfg)...))
	}

	p.provider = sdktrace.NewTracerProvider(tpOpts...)

	if o.registerGlobal {
		otel.SetTracerProvider(p.provider)
		otel.SetTextMapPropagator(Propagator())
		logger := o.logger
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
			logger.Warn().Err(err).Msg("OpenTelemetry error")
		}))
	}

	return p, nil
}

// Propagator returns the W3C trace-context plus baggage propagator.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func newResource(ctx context.Context, svc ServiceInfo) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(svc.Name),
	}
	if svc.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(svc.Version))
	}
	if svc.Environment != "" {
		attrs = append(attrs,
			semconv.DeploymentEnvironment(svc.Environment),
			attribute.String("environment", svc.Environment),
		)
	}
	for k, v := range svc.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLPHTTP:
		return createOTLPHTTPExporter(ctx, cfg)
	case ExporterOTLPGRPC:
		return createOTLPGRPCExporter(ctx, cfg)
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
}

func createOTLPHTTPExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint, err := CollectorEndpoint(cfg.CollectorURL)
	if err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(cfg.ExportTimeout))
	}

	return otlptracehttp.New(ctx, opts...)
}

func createOTLPGRPCExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(hostPort(cfg.CollectorURL)),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
	}

	return otlptracegrpc.New(ctx, opts...)
}

// CollectorEndpoint normalizes a collector URL for OTLP/HTTP. A URL without a
// path gets /v1/traces appended.
func CollectorEndpoint(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("collector url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid collector url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid collector url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid collector url %q: missing host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = tracesPath
	}
	return u.String(), nil
}

func hostPort(raw string) string {
	if !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

func batchOptions(cfg TracingConfig) []sdktrace.BatchSpanProcessorOption {
	var opts []sdktrace.BatchSpanProcessorOption
	if cfg.MaxExportBatchSize > 0 {
		opts = append(opts, sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize))
	}
	if cfg.BatchTimeout > 0 {
		opts = append(opts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, sdktrace.WithExportTimeout(cfg.ExportTimeout))
	}
	if cfg.MaxQueueSize > 0 {
		opts = append(opts, sdktrace.WithMaxQueueSize(cfg.MaxQueueSize))
	}
	return opts
}

// Tracer returns a named tracer from this provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	if name == "" {
		name = DefaultTracerName
	}
	return p.provider.Tracer(name)
}

// TracerProvider exposes the underlying provider for instrumentation that needs one.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.provider
}

// Flush exports every buffered span. It reports false when an export failed,
// the context ended first, or the provider is shut down. It never panics.
func (p *Provider) Flush(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Trace flush panicked")
			ok = false
		}
	}()

	if p.closed.Load() {
		return false
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.config.ExportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ExportTimeout)
		defer cancel()
	}

	var failuresBefore int64
	if p.exporter != nil {
		failuresBefore = p.exporter.failures.Load()
	}

	if err := p.provider.ForceFlush(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Trace flush failed")
		return false
	}

	if p.exporter != nil && p.exporter.failures.Load() != failuresBefore {
		p.logger.Warn().Err(p.exporter.lastError()).Msg("Trace export failed during flush")
		return false
	}

	return true
}

// LastExportError returns the error of the most recent export, if any.
func (p *Provider) LastExportError() error {
	if p.exporter == nil {
		return nil
	}
	return p.exporter.lastError()
}

// ExportedSpans returns the number of spans successfully handed to the exporter.
func (p *Provider) ExportedSpans() int64 {
	if p.exporter == nil {
		return 0
	}
	return p.exporter.exported.Load()
}

// Shutdown flushes pending spans and stops the provider. Later calls return
// the first result.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.closed.Store(true)
		p.shutdownErr = p.provider.Shutdown(ctx)
	})
	return p.shutdownErr
}

// recordingExporter remembers export outcomes so Flush can report failures
// that the batch processor only hands to the global error handler.
type recordingExporter struct {
	next sdktrace.SpanExporter

	mu       sync.Mutex
	lastErr  error
	exported atomic.Int64
	failures atomic.Int64
}

func (e *recordingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := e.next.ExportSpans(ctx, spans)

	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()

	if err != nil {
		e.failures.Add(1)
	} else {
		e.exported.Add(int64(len(spans)))
	}
	return err
}

func (e *recordingExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}

func (e *recordingExporter) lastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// RecordError records an error on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// TraceID returns the trace ID of the current span in the context.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the span ID of the current span in the context.
func SpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}

// Common attribute keys for stockweb spans.
var (
	// UI attributes
	AttrView      = attribute.Key("ui.view")
	AttrAction    = attribute.Key("ui.action")
	AttrComponent = attribute.Key("ui.component")

	// HTTP exchange attributes
	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPURL        = attribute.Key("http.url")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
	AttrHTTPRespLength = attribute.Key("http.response_content_length")
	AttrHTTPDurationMS = attribute.Key("http.duration_ms")

	// Domain attributes
	AttrSymbol       = attribute.Key("stock.symbol")
	AttrSymbolCount  = attribute.Key("symbols.count")
	AttrWatchKind    = attribute.Key("watchlist.kind")
	AttrErrorClass   = attribute.Key("error.class")
	AttrErrorMessage = attribute.Key("error.message")
)
