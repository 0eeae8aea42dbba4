package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) add(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishSynchronous(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}
	sink := &eventSink{}
	ep.Subscribe(sink.add, FilterByView("stocks"))

	_ = ep.PublishActionStarted("stocks", "load")
	_ = ep.PublishActionStarted("home", "check_backend")

	if sink.len() != 1 {
		t.Fatalf("expected 1 delivered event, got %d", sink.len())
	}
	got := sink.events[0]
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Error("expected ID and timestamp to be filled in")
	}
	if got.Type != EventTypeActionStarted {
		t.Errorf("unexpected type %q", got.Type)
	}
}

func TestPeriodicFlushDeliversPartialBatch(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		EnableAsync:   true,
		BufferSize:    10,
		MaxBatchSize:  50,
		FlushInterval: 20 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}
	defer ep.Shutdown(context.Background())

	sink := &eventSink{}
	ep.Subscribe(sink.add, nil)

	if err := ep.PublishActionSucceeded("stocks", "load", time.Millisecond); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// The batch is far from full, so only the ticker can deliver it.
	waitFor(t, func() bool { return sink.len() == 1 })
}

func TestShutdownDrainsBuffer(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:      true,
		EnableAsync:  true,
		BufferSize:   10,
		MaxBatchSize: 100,
	}, nil)
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}

	sink := &eventSink{}
	ep.Subscribe(sink.add, nil)

	for i := 0; i < 3; i++ {
		if err := ep.PublishActionStarted("crypto", "load"); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if sink.len() != 3 {
		t.Errorf("expected 3 delivered events after shutdown, got %d", sink.len())
	}

	if err := ep.PublishActionStarted("crypto", "load"); !errors.Is(err, ErrPublisherStopped) {
		t.Errorf("expected ErrPublisherStopped, got %v", err)
	}
}

func TestPublishDuringShutdownIsDeliveredOrRejected(t *testing.T) {
	for round := 0; round < 20; round++ {
		ep, err := NewEventPublisher(EventsConfig{
			Enabled:      true,
			EnableAsync:  true,
			BufferSize:   1000,
			MaxBatchSize: 1000,
		}, nil)
		if err != nil {
			t.Fatalf("NewEventPublisher failed: %v", err)
		}

		sink := &eventSink{}
		ep.Subscribe(sink.add, nil)

		var (
			wg       sync.WaitGroup
			accepted sync.Map
		)
		start := make(chan struct{})
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				<-start
				for i := 0; i < 50; i++ {
					err := ep.PublishActionStarted("stocks", "load")
					switch {
					case err == nil:
						accepted.Store(g*1000+i, true)
					case errors.Is(err, ErrPublisherStopped):
						return
					default:
						t.Errorf("unexpected publish error: %v", err)
						return
					}
				}
			}(g)
		}

		close(start)
		if err := ep.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
		wg.Wait()

		n := 0
		accepted.Range(func(_, _ any) bool { n++; return true })
		if sink.len() != n {
			t.Fatalf("round %d: %d events accepted but %d delivered", round, n, sink.len())
		}
	}
}

func TestDisabledPublisherIsNoop(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}
	if err := ep.PublishActionFailed("home", "check_backend", "boom"); err != nil {
		t.Errorf("disabled publisher should accept events silently, got %v", err)
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestFilterByType(t *testing.T) {
	filter := FilterByType(EventTypeWatchlistAdded)
	if !filter(Event{Type: EventTypeWatchlistAdded}) {
		t.Error("expected watchlist event to pass")
	}
	if filter(Event{Type: EventTypeActionStarted}) {
		t.Error("expected action event to be filtered")
	}
}
