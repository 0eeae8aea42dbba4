package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stocktracker/stockweb/pkg/telemetry"
)

const eventWriteTimeout = 2 * time.Second

// EventSink returns an event bus subscriber that appends every UI event to
// the store. Write failures are logged and the event is dropped.
func EventSink(store Store, logger *telemetry.Logger) telemetry.EventSubscriber {
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	return func(event telemetry.Event) {
		details := "{}"
		if len(event.Data) > 0 {
			if b, err := json.Marshal(event.Data); err == nil {
				details = string(b)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
		defer cancel()

		err := store.AppendEvent(ctx, &EventRecord{
			Type:      event.Type,
			Source:    event.Source,
			View:      event.View,
			Level:     EventLevel(event.Level),
			Message:   event.Message,
			Details:   details,
			Timestamp: event.Timestamp.UTC(),
		})
		if err != nil {
			logger.WithError(err).WithField("event_type", event.Type).Warn("Failed to persist UI event")
		}
	}
}
