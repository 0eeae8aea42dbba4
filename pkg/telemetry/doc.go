// Package telemetry provides observability instrumentation for stockweb.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process UI event bus.
//
// # Bootstrap
//
// The smallest setup exports spans to a collector over OTLP/HTTP with the
// default batching settings (batch 5, delay 1s, export timeout 5s, queue 100):
//
//	provider, err := telemetry.Initialize(ctx, "frontend", "http://localhost:4318/v1/traces")
//	if err != nil {
//	    return err
//	}
//	defer provider.Shutdown(context.Background())
//
//	tracer := provider.Tracer("stocks")
//
// Initialize registers the provider and a W3C trace-context plus baggage
// propagator as the otel globals. Calling it again replaces them.
//
// The config-driven form builds every component at once:
//
//	tel, err := telemetry.New(ctx, telemetry.DefaultConfig())
//	ctx = tel.WithContext(ctx)
//
// # Flushing
//
// Flush forces an export of buffered spans and reports the outcome as a
// bool. It never panics and returns false once the provider is shut down:
//
//	if !tel.Flush(ctx) {
//	    logger.Warn("trace export failed")
//	}
//
// # Scoped spans
//
// RunOperation ends its span exactly once on every exit path, including a
// panic in the wrapped function:
//
//	err := telemetry.RunOperation(ctx, tracer, "stocks.load", func(ctx context.Context) error {
//	    return fetch(ctx)
//	})
//
// # Logging
//
// Logger.Ctx adds trace_id and span_id of the active span:
//
//	logger.Ctx(ctx).WithView("stocks").Info("Loaded symbols")
//
// # Exporters
//
//   - "otlp-http": OTLP over HTTP, the default
//   - "otlp-grpc": OTLP over gRPC
//   - "stdout": pretty printed spans on stdout
//   - "none": spans are created but not exported
//
// # Metrics
//
// Key metrics exposed:
//
//   - stockweb_page_actions_total{view,action,outcome}
//   - stockweb_backend_fetch_duration_seconds{endpoint,status}
//   - stockweb_event_log_sends_total{type,outcome}
//   - stockweb_http_requests_total{method,route,code}
//   - stockweb_trace_flushes_total{outcome}
package telemetry
