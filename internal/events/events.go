package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventOperationEnqueued  = "operation_enqueued"
	EventOperationSynced    = "operation_synced"
	EventOperationRetried   = "operation_retried"
	EventOperationAbandoned = "operation_abandoned"
	EventConnectivityChange = "connectivity_changed"
)

// OperationEventPayload is the minimal operation snapshot event consumers
// need; the payload blob itself is deliberately not included.
type OperationEventPayload struct {
	OperationID   string    `json:"operation_id"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	OperationType string    `json:"operation_type"`
	AttemptCount  int       `json:"attempt_count"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// Event represents a lightweight in-process event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for sync lifecycle events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
