package calltrace

import (
	"sync/atomic"
)

// DefaultMaxEvents bounds a session buffer unless configured otherwise.
const DefaultMaxEvents = 1 << 24

// Sink receives notifications from a Source.
// Deliver runs inline on the traced goroutine and must not block or panic.
type Sink interface {
	Deliver(n Notification)
}

// Buffer is the append-only notification store of one session.
//
// Deliver is O(1) amortized. Once the buffer holds its limit, every later
// notification is dropped and counted, so the buffered stream is always a
// prefix of the delivered stream. CRaise notifications are never buffered.
//
// A Buffer is owned by a single goroutine; only Dropped is safe to call
// concurrently.
type Buffer struct {
	events  []Notification
	dropped atomic.Int64
	limit   int
	full    bool
}

// NewBuffer creates a buffer holding at most limit notifications.
// A non-positive limit selects DefaultMaxEvents.
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultMaxEvents
	}
	return &Buffer{
		events: make([]Notification, 0, min(limit, 1024)), // Start small; grow on demand.
		limit:  limit,
	}
}

// Deliver appends a notification.
func (b *Buffer) Deliver(n Notification) {
	if n.Kind == EventCRaise {
		return
	}
	if b.full {
		b.dropped.Add(1)
		return
	}

	if len(b.events) >= cap(b.events) {
		b.grow()
	}
	b.events = append(b.events, n)

	if len(b.events) >= b.limit {
		b.full = true
	}
}

// grow extends capacity: double below 1024, then by half, never past the limit.
func (b *Buffer) grow() {
	currentCap := cap(b.events)
	var newCap int
	if currentCap < 1024 {
		newCap = currentCap * 2
	} else {
		newCap = currentCap + currentCap/2
	}
	if newCap < 32 {
		newCap = 32
	}
	if newCap > b.limit {
		newCap = b.limit
	}
	grown := make([]Notification, len(b.events), newCap)
	copy(grown, b.events)
	b.events = grown
}

// Notifications returns the buffered stream. The slice is shared with the
// buffer and must not be modified while the buffer still receives events.
func (b *Buffer) Notifications() []Notification {
	return b.events
}

// Len returns the number of buffered notifications.
func (b *Buffer) Len() int {
	return len(b.events)
}

// Dropped returns the number of notifications rejected because the buffer was full.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}

// Limit returns the buffer's capacity bound.
func (b *Buffer) Limit() int {
	return b.limit
}

// Reset discards every buffered notification and clears the drop counter.
func (b *Buffer) Reset() {
	clear(b.events)
	b.events = b.events[:0]
	b.full = false
	b.dropped.Store(0)
}
