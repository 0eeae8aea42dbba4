// Package eventlog forwards structured UI log events to the backend's
// /log-event endpoint with W3C trace context attached, and implements the
// receiving side of that endpoint.
package eventlog

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Conventional event types.
const (
	TypeInfo  = "Info"
	TypeError = "Error"
)

// Path is the backend endpoint that accepts log events.
const Path = "/log-event"

// LogEvent is the wire body POSTed to /log-event.
type LogEvent struct {
	Type      string                 `json:"type"`
	Event     string                 `json:"event"`
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Entry is one call to Client.Log. When Span is set the request carries
// that span's context, otherwise the caller's context.
type Entry struct {
	Event    string
	Type     string
	Metadata map[string]interface{}
	Span     trace.Span
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("log event rejected: status %d: %s", e.StatusCode, e.Body)
}
