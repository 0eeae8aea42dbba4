package eventlog

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// Receiver is the backend side of /log-event. It logs each event with the
// trace and span ids extracted from the request headers.
type Receiver struct {
	logger     *telemetry.Logger
	propagator propagation.TextMapPropagator
	onEvent    func(ctx context.Context, ev LogEvent)
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverPropagator overrides the global propagator for extraction.
func WithReceiverPropagator(p propagation.TextMapPropagator) ReceiverOption {
	return func(r *Receiver) { r.propagator = p }
}

// OnEvent registers a callback invoked for every accepted event with the
// extracted context.
func OnEvent(fn func(ctx context.Context, ev LogEvent)) ReceiverOption {
	return func(r *Receiver) { r.onEvent = fn }
}

// NewReceiver creates a Receiver logging through logger.
func NewReceiver(logger *telemetry.Logger, opts ...ReceiverOption) *Receiver {
	r := &Receiver{logger: logger.NewComponentLogger("eventlog")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev LogEvent
	if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
		r.logger.Ctx(req.Context()).WithError(err).Warn("Invalid frontend log payload")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	prop := r.propagator
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}
	ctx := prop.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
	sc := trace.SpanContextFromContext(ctx)

	zl := r.logger.Zerolog()
	event := zl.Info()
	msg := "Frontend log info"
	if ev.Type == TypeError {
		event = zl.Error()
		msg = "Frontend log error"
	}
	event.
		Str("event", ev.Event).
		Int64("timestamp", ev.Timestamp).
		Interface("metadata", ev.Metadata).
		Str("traceId", sc.TraceID().String()).
		Str("spanId", sc.SpanID().String()).
		Msg(msg)

	if r.onEvent != nil {
		r.onEvent(ctx, ev)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode("Log written")
}
