package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventWebhookReceived = "webhook_received"
	EventTaskScheduled   = "task_scheduled"
	EventTaskSucceeded   = "task_succeeded"
	EventTaskFailed      = "task_failed"
)

// WebhookEventPayload is the snapshot handed to consumers when the
// remote backoffice calls in.
type WebhookEventPayload struct {
	LogID  int64  `json:"log_id"`
	Action string `json:"action"`
	Route  string `json:"route"`
	Body   string `json:"body"`
}

// TaskEventPayload describes a task lifecycle transition for consumers.
type TaskEventPayload struct {
	TaskID    int64  `json:"task_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	TypeGroup string `json:"type_group"`
	Status    string `json:"status"`
	TimesRan  int64  `json:"times_ran"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
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
