// Package bus provides an in-process pub/sub channel for trading events so
// the HTTP API can push order and position changes to browsers without the
// core packages knowing about transports.
package bus

import (
	"sync"
	"time"
)

// EventType classifies a bus event.
type EventType string

const (
	// EventOrderUpdated fires on every observed change to a tracked order.
	EventOrderUpdated EventType = "order_updated"
	// EventOrderFilled fires exactly once per order, on its transition into
	// COMPLETE. The broker can report COMPLETE with a short fill; consumers
	// that need a full fill must check filled against requested quantity.
	EventOrderFilled EventType = "order_filled"
	// EventPositionChanged fires when the position ledger applies a fill or
	// a reset.
	EventPositionChanged EventType = "position_changed"
	// EventTick fires on every market tick from the feed.
	EventTick EventType = "tick"
)

// Event is a single bus message. Payload holds the domain value the event
// describes and is marshalled as-is onto the SSE stream.
type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Bus fans events out to subscribers. Sends never block: a subscriber that
// falls behind its buffer loses events rather than stalling publishers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe creates a new subscription channel with the given buffer size.
func (b *Bus) Subscribe(bufSize int) (id int, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id = b.nextID
	b.nextID++
	c := make(chan Event, bufSize)
	b.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish stamps the event and delivers it to every subscriber
// (non-blocking send).
func (b *Bus) Publish(typ EventType, payload any) {
	evt := Event{Type: typ, At: time.Now(), Payload: payload}
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
	b.mu.Unlock()
}
