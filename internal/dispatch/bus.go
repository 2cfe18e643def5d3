package dispatch

import (
	"sync"
	"time"
)

// EventType identifies a lifecycle event on the bus.
type EventType string

const (
	EventTaskQueued     EventType = "task.queued"
	EventTaskStarted    EventType = "task.started"
	EventTaskCompleted  EventType = "task.completed"
	EventTaskFailed     EventType = "task.failed"
	EventSessionCleared EventType = "session.cleared"
	EventMemoryCaptured EventType = "memory.captured"
	EventSweepCompleted EventType = "sweep.completed"
)

// Event is a broadcast notification with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      map[string]interface{}
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// Bus fans events out to subscribers. Task results, session teardown and
// capture activity all announce themselves here so observers (a UI, a
// metrics layer) need no coupling to the components doing the work.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

// Publish sends an event to all registered handlers, stamping the current
// time if the event carries none. Handlers run synchronously on the
// publishing goroutine and must not block.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if handlers, ok := b.handlers[event.Type]; ok {
		for _, handler := range handlers {
			handler(event)
		}
	}

	for _, handler := range b.allHandlers {
		handler(event)
	}
}

// PublishWithData publishes an event with associated data.
func (b *Bus) PublishWithData(eventType EventType, sessionID string, data map[string]interface{}) {
	b.Publish(Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}
