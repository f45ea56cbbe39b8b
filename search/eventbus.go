package search

import (
	gosync "sync"
	"time"
)

// EventKind names what happened to the caches.
type EventKind string

const (
	EventInvalidate EventKind = "invalidate"
	EventUpdate     EventKind = "update"
	EventDelete     EventKind = "delete"
	EventRename     EventKind = "rename"
	EventClear      EventKind = "clear"
)

// CacheEvent is published whenever the orchestrator drops cached state.
type CacheEvent struct {
	Kind EventKind `json:"kind"`
	Path string    `json:"path,omitempty"`
	Time time.Time `json:"time"`
}

// EventBus fans CacheEvents out to subscribers.
type EventBus struct {
	mu      gosync.RWMutex
	clients map[chan CacheEvent]struct{}
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan CacheEvent]struct{}),
	}
}

// Subscribe registers a new client and returns its event channel.
func (b *EventBus) Subscribe() chan CacheEvent {
	ch := make(chan CacheEvent, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *EventBus) Unsubscribe(ch chan CacheEvent) {
	b.mu.Lock()
	_, ok := b.clients[ch]
	delete(b.clients, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish sends an event to all subscribers.
// Slow subscribers are skipped (non-blocking send).
func (b *EventBus) Publish(event CacheEvent) {
	if event.Time.IsZero() {
		event.Time = nowFunc()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop event
		}
	}
}

// Subscribers returns the number of registered clients.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
