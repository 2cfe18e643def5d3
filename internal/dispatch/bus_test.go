package dispatch

import (
	"sync"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	called := false

	bus.Subscribe(EventTaskQueued, func(e Event) {
		called = true
	})

	bus.Publish(Event{Type: EventTaskQueued})

	if !called {
		t.Error("handler was not called")
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	count := 0

	bus.SubscribeAll(func(e Event) {
		count++
	})

	bus.Publish(Event{Type: EventTaskQueued})
	bus.Publish(Event{Type: EventTaskCompleted})
	bus.Publish(Event{Type: EventSessionCleared})

	if count != 3 {
		t.Errorf("Expected 3 calls, got %d", count)
	}
}

func TestBus_OnlyMatchingTypeFires(t *testing.T) {
	bus := NewBus()
	completed := false
	failed := false

	bus.Subscribe(EventTaskCompleted, func(e Event) { completed = true })
	bus.Subscribe(EventTaskFailed, func(e Event) { failed = true })

	bus.Publish(Event{Type: EventTaskCompleted})

	if !completed {
		t.Error("completed handler was not called")
	}
	if failed {
		t.Error("failed handler should not have been called")
	}
}

func TestBus_PublishWithData(t *testing.T) {
	bus := NewBus()
	var received Event

	bus.Subscribe(EventMemoryCaptured, func(e Event) {
		received = e
	})

	bus.PublishWithData(EventMemoryCaptured, "sess-123", map[string]interface{}{"fact": "prefers dark mode"})

	if received.SessionID != "sess-123" {
		t.Errorf("Expected session 'sess-123', got '%s'", received.SessionID)
	}
	if received.Data["fact"] != "prefers dark mode" {
		t.Error("data not properly passed")
	}
}

func TestBus_TimestampAutoSet(t *testing.T) {
	bus := NewBus()
	var received Event

	bus.Subscribe(EventSweepCompleted, func(e Event) {
		received = e
	})

	before := time.Now()
	bus.Publish(Event{Type: EventSweepCompleted})
	after := time.Now()

	if received.Timestamp.Before(before) || received.Timestamp.After(after) {
		t.Error("timestamp not set correctly")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()
	var count int
	var mu sync.Mutex

	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: EventTaskQueued})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 100 {
		t.Errorf("Expected 100 events, got %d", count)
	}
}
