package server

import (
	"sync"

	"helixmind/internal/events"
)

// ring keeps the most recent events so a client that connects mid-run gets
// state replayed before the live stream.
type ring struct {
	mu   sync.Mutex
	buf  []events.Event
	next int
	full bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &ring{buf: make([]events.Event, capacity)}
}

func (r *ring) add(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns buffered events oldest first.
func (r *ring) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]events.Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]events.Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
