package core

import (
	"sync"
	"time"
)

// EventBuffer is a fixed-capacity rolling buffer of events. The ingress
// pipeline is the single writer; the rule and correlation engines read
// snapshots. When full, appending evicts the oldest event.
type EventBuffer struct {
	mu    sync.RWMutex
	ring  []*Event
	head  int // index of the oldest event
	count int
}

// NewEventBuffer creates a buffer holding at most capacity events.
// Capacities below 1 are clamped to 1.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &EventBuffer{ring: make([]*Event, capacity)}
}

// Append adds an event, evicting the oldest one when at capacity.
func (b *EventBuffer) Append(e *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tail := (b.head + b.count) % len(b.ring)
	b.ring[tail] = e
	if b.count == len(b.ring) {
		b.head = (b.head + 1) % len(b.ring)
	} else {
		b.count++
	}
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity returns the fixed buffer capacity.
func (b *EventBuffer) Capacity() int {
	return len(b.ring)
}

// Snapshot returns the buffered events oldest first. The returned slice
// is a copy and safe to retain.
func (b *EventBuffer) Snapshot() []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Event, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.ring[(b.head+i)%len(b.ring)])
	}
	return out
}

// Since returns buffered events with timestamps at or after the cutoff,
// oldest first.
func (b *EventBuffer) Since(cutoff time.Time) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Event
	for i := 0; i < b.count; i++ {
		e := b.ring[(b.head+i)%len(b.ring)]
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}
