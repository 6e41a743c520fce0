package events

import (
	"encoding/json"
	"sync"
	"time"
)

// SessionUpdateEvent is one progress message of a processing session
type SessionUpdateEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber represents a client listening for events
type Subscriber struct {
	ID        string
	Events    chan SessionUpdateEvent
	SessionID string // Only send events for this session
}

// Broadcaster manages SSE subscriptions and publishes events
type Broadcaster struct {
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe adds a new subscriber for a specific session
func (b *Broadcaster) Subscribe(id string, sessionID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:        id,
		Events:    make(chan SessionUpdateEvent, 32),
		SessionID: sessionID,
	}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe removes a subscriber
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of connected subscribers
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish sends an event to all subscribers watching this session
func (b *Broadcaster) Publish(event SessionUpdateEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.SessionID == event.SessionID {
			select {
			case sub.Events <- event:
			default:
				// Channel full, skip this event
			}
		}
	}
}

// MarshalEvent formats an event for SSE
func MarshalEvent(event SessionUpdateEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return "data: " + string(data) + "\n\n", nil
}
