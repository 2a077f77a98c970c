package pipeline

import (
	"sync"
	"time"

	"github.com/kozaktomas/people-tracker/internal/constants"
)

// Event types published by the tracker.
const (
	EventIdentityCreated  = "identity_created"
	EventIdentityReturned = "identity_returned"
	EventIdentityLost     = "identity_lost"
	EventIdentityRenamed  = "identity_renamed"
)

// Event is one identity lifecycle change.
type Event struct {
	Type       string    `json:"type"`
	IdentityID int64     `json:"identity_id"`
	Name       string    `json:"name,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
	Data       any       `json:"data,omitempty"`
}

// EventBroadcaster fans events out to listeners. Slow listeners lose events
// instead of blocking the tick.
type EventBroadcaster struct {
	mu        sync.RWMutex
	listeners []chan Event
	closed    bool
}

// NewEventBroadcaster creates a broadcaster with no listeners.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{}
}

// AddListener adds an event listener. After Close the returned channel is
// already closed.
func (b *EventBroadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *EventBroadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Send delivers an event to all listeners.
func (b *EventBroadcaster) Send(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Listeners returns the number of attached listeners.
func (b *EventBroadcaster) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Close closes every listener so that streams end on shutdown.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, listener := range b.listeners {
		close(listener)
	}
	b.listeners = nil
}
