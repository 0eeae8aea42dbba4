package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a UI event published on the in-process event bus.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the component that published the event.
	Source string `json:"source"`

	// View is the page view the event belongs to, if any.
	View string `json:"view,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeActionStarted   = "action.started"
	EventTypeActionSucceeded = "action.succeeded"
	EventTypeActionFailed    = "action.failed"
	EventTypeWatchlistAdded  = "watchlist.added"
	EventTypeTraceFlushed    = "trace.flushed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// ErrEventBufferFull is returned by Publish when the async buffer is full.
var ErrEventBufferFull = errors.New("event buffer full, event dropped")

// ErrPublisherStopped is returned by Publish after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	metrics     *Metrics
	buffer      chan Event
	flushCh     chan struct{}
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher. metrics may be nil.
func NewEventPublisher(cfg EventsConfig, metrics *Metrics) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.EnableAsync && cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:  cfg,
		metrics: metrics,
		buffer:  make(chan Event, cfg.BufferSize),
		flushCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()

		if cfg.FlushInterval > 0 {
			ep.wg.Add(1)
			go ep.periodicFlush()
		}
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		// Shutdown sets stopped under the write lock before cancelling, so
		// every send accepted here is drained by processEvents.
		ep.mu.RLock()
		defer ep.mu.RUnlock()
		if ep.stopped {
			return ErrPublisherStopped
		}
		select {
		case ep.buffer <- event:
			ep.metrics.RecordUIEventPublished(event.Type)
			return nil
		default:
			ep.metrics.RecordUIEventDropped()
			return ErrEventBufferFull
		}
	}

	ep.metrics.RecordUIEventPublished(event.Type)
	ep.deliverEvent(event)
	return nil
}

// PublishActionStarted publishes the start of a page action.
func (ep *EventPublisher) PublishActionStarted(view, action string) error {
	return ep.Publish(Event{
		Type:    EventTypeActionStarted,
		Source:  "views",
		View:    view,
		Message: fmt.Sprintf("%s.%s started", view, action),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"action": action,
		},
	})
}

// PublishActionSucceeded publishes a successful page action.
func (ep *EventPublisher) PublishActionSucceeded(view, action string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeActionSucceeded,
		Source:  "views",
		View:    view,
		Message: fmt.Sprintf("%s.%s succeeded", view, action),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"action":   action,
			"duration": duration.Seconds(),
		},
	})
}

// PublishActionFailed publishes a failed page action.
func (ep *EventPublisher) PublishActionFailed(view, action, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeActionFailed,
		Source:  "views",
		View:    view,
		Message: fmt.Sprintf("%s.%s failed: %s", view, action, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"action": action,
			"reason": reason,
		},
	})
}

// PublishWatchlistAdded publishes a watch list addition.
func (ep *EventPublisher) PublishWatchlistAdded(view, symbol, kind string, added bool) error {
	return ep.Publish(Event{
		Type:    EventTypeWatchlistAdded,
		Source:  "views",
		View:    view,
		Message: fmt.Sprintf("%s added to watch list", symbol),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"symbol":          symbol,
			"kind":            kind,
			"already_present": !added,
		},
	})
}

// Subscribe adds a new event subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents batches buffered events and delivers them when the batch is
// full, on a flush tick, or at shutdown.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.flushCh:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			// Drain whatever was accepted before shutdown.
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						ep.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

// periodicFlush asks processEvents to deliver its pending batch on every tick.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case ep.flushCh <- struct{}{}:
			default:
				// A flush is already pending.
			}
		case <-ep.ctx.Done():
			return
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent calls matching subscribers in order on the calling goroutine.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers pending events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.mu.Lock()
	ep.stopped = true
	ep.mu.Unlock()
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByView creates a filter that only allows events for one page view.
func FilterByView(view string) EventFilter {
	return func(event Event) bool {
		return event.View == view
	}
}
