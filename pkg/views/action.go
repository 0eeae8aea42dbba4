// Package views implements the page views of stockweb. Every user action
// runs inside its own span, moves a State through Loading to Success or
// Error, and optionally forwards a correlated log event.
package views

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stocktracker/stockweb/pkg/eventlog"
	"github.com/stocktracker/stockweb/pkg/stockapi"
	"github.com/stocktracker/stockweb/pkg/stores"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// TracerName is the instrumentation scope of view spans.
const TracerName = "stockweb/views"

const flushTimeout = 5 * time.Second

// Span event names.
const (
	EventActionStarted   = "page.action.started"
	EventFetchCompleted  = "fetch.completed"
	EventSymbolsReceived = "symbols.received"
)

// EventLogger sends correlated log events. *eventlog.Client implements it.
type EventLogger interface {
	Log(ctx context.Context, e eventlog.Entry) error
}

// Flusher forces buffered spans out. *telemetry.Telemetry implements it.
type Flusher interface {
	Flush(ctx context.Context) bool
}

// Deps are the collaborators shared by all views. Only API is required.
type Deps struct {
	API      *stockapi.Client
	Store    stores.Store
	EventLog EventLogger
	Tracer   trace.Tracer
	Metrics  *telemetry.Metrics
	Events   *telemetry.EventPublisher
	Logger   *telemetry.Logger

	// FlushAfterAction triggers a background Flush after every action.
	FlushAfterAction bool
	Flusher          Flusher
}

func (d *Deps) tracer() trace.Tracer {
	if d.Tracer != nil {
		return d.Tracer
	}
	return otel.Tracer(TracerName)
}

func (d *Deps) logger() *telemetry.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return telemetry.NopLogger()
}

// action describes one traced page action producing T.
type action[T any] struct {
	view      string
	name      string
	component string
	errorText string
	attrs     []attribute.KeyValue

	fetch func(ctx context.Context) (T, stockapi.Meta, error)

	// logEntry builds the correlated log event; nil sends the default
	// <name>_success / <name>_error event.
	logEntry func(data T, err error) *eventlog.Entry
}

// run executes a through the Loading → Success|Error state machine.
// The span is ended exactly once on every path, including a panic in fetch,
// which is re-raised after cleanup.
func run[T any](ctx context.Context, d *Deps, a action[T], state *State[T]) {
	state.Begin()

	attrs := append([]attribute.KeyValue{
		telemetry.AttrView.String(a.view),
		telemetry.AttrAction.String(a.name),
		telemetry.AttrComponent.String(a.component),
	}, a.attrs...)

	op := telemetry.StartOperation(d.logger().WithContext(ctx), d.tracer(), a.view+"."+a.name, attrs...)
	op.Span.AddEvent(EventActionStarted)
	_ = d.Events.PublishActionStarted(a.view, a.name)

	var (
		data     T
		fetchErr error
	)

	defer func() {
		r := recover()
		if r != nil {
			fetchErr = fmt.Errorf("panic: %v", r)
			state.Fail(a.errorText)
		}

		d.sendLog(op, a, data, fetchErr)
		op.End(fetchErr)
		state.Finish()
		d.finish(op, a, fetchErr)

		if r != nil {
			panic(r)
		}
	}()

	result, meta, err := a.fetch(op.Ctx)
	recordExchange(op.Span, meta)

	if err != nil {
		fetchErr = err
		if class := stockapi.Class(err); class != "" {
			op.Span.SetAttributes(telemetry.AttrErrorClass.String(string(class)))
		}
		state.Fail(a.errorText)
		return
	}

	data = result
	op.Span.AddEvent(EventFetchCompleted)
	state.Succeed(result)
}

func recordExchange(span trace.Span, meta stockapi.Meta) {
	if meta.Method == "" {
		return
	}
	span.SetAttributes(
		telemetry.AttrHTTPMethod.String(meta.Method),
		telemetry.AttrHTTPURL.String(meta.URL),
		telemetry.AttrHTTPDurationMS.Int64(meta.Duration.Milliseconds()),
	)
	if meta.StatusCode != 0 {
		span.SetAttributes(
			telemetry.AttrHTTPStatusCode.Int(meta.StatusCode),
			telemetry.AttrHTTPRespLength.Int64(meta.ContentLength),
		)
	}
}

// sendLog forwards the action's log event. Failures are logged and ignored.
func (d *Deps) sendLog(op *telemetry.Operation, a actionInfo, data any, err error) {
	if d.EventLog == nil {
		return
	}
	entry := a.entry(data, err)
	if entry == nil {
		return
	}
	entry.Span = op.Span

	if logErr := d.EventLog.Log(op.Ctx, *entry); logErr != nil {
		op.Logger.WithError(logErr).Warn("Failed to send log event")
	}
}

func (d *Deps) finish(op *telemetry.Operation, a actionInfo, err error) {
	view, name := a.names()
	duration := op.Timer.Duration()

	if err != nil {
		d.Metrics.RecordPageAction(view, name, telemetry.OutcomeError, duration)
		_ = d.Events.PublishActionFailed(view, name, err.Error())
		op.Logger.WithError(err).Warn("Page action failed")
	} else {
		d.Metrics.RecordPageAction(view, name, telemetry.OutcomeSuccess, duration)
		_ = d.Events.PublishActionSucceeded(view, name, duration)
		op.Logger.Debug("Page action succeeded")
	}

	if d.FlushAfterAction && d.Flusher != nil {
		logger := op.Logger
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			if !d.Flusher.Flush(ctx) {
				logger.Warn("Trace flush after action failed")
			}
		}()
	}
}

// actionInfo is the non-generic view of an action used by the deferred block.
type actionInfo interface {
	names() (view, name string)
	entry(data any, err error) *eventlog.Entry
}

func (a action[T]) names() (string, string) {
	return a.view, a.name
}

func (a action[T]) entry(data any, err error) *eventlog.Entry {
	if a.logEntry != nil {
		typed, _ := data.(T)
		return a.logEntry(typed, err)
	}

	metadata := map[string]interface{}{
		"view":   a.view,
		"action": a.name,
	}
	if err != nil {
		metadata["error"] = err.Error()
		if code := stockapi.StatusCode(err); code != 0 {
			metadata["status_code"] = code
		}
		return &eventlog.Entry{Event: a.name + "_error", Type: eventlog.TypeError, Metadata: metadata}
	}
	return &eventlog.Entry{Event: a.name + "_success", Type: eventlog.TypeInfo, Metadata: metadata}
}
