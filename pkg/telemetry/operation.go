package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Operation is a span scoped to one unit of work. End is safe to call from
// several exit paths; only the first call ends the span.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer

	once  sync.Once
	ended atomic.Bool
}

// StartOperation starts a span named name on tracer. The returned logger
// carries the operation name and trace ids.
func StartOperation(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) *Operation {
	spanCtx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	logger := FromContext(ctx).WithField("operation", name).Ctx(spanCtx)

	return &Operation{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// StartOperation starts an operation on the tracer named after the service.
func (t *Telemetry) StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	return StartOperation(t.Logger.WithContext(ctx), t.Tracer(t.Config.ServiceName), name, attrs...)
}

// End records err (or success) and ends the span. It reports whether this
// call was the one that ended it.
func (op *Operation) End(err error) bool {
	first := false
	op.once.Do(func() {
		first = true
		if err != nil {
			RecordError(op.Span, err)
		} else {
			RecordSuccess(op.Span)
		}
		op.Span.End()
		op.ended.Store(true)
	})
	return first
}

// Ended reports whether the span has been ended.
func (op *Operation) Ended() bool {
	return op.ended.Load()
}

// RunOperation runs fn inside an operation span. The span is ended exactly
// once, including when fn panics; the panic is then re-raised.
func RunOperation(ctx context.Context, tracer trace.Tracer, name string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) (err error) {
	op := StartOperation(ctx, tracer, name, attrs...)
	defer func() {
		if r := recover(); r != nil {
			op.End(fmt.Errorf("panic: %v", r))
			panic(r)
		}
		op.End(err)
	}()

	return fn(op.Ctx)
}
