package logging

import (
	"strings"
	"sync"
)

// EventBuffer is a thread-safe circular buffer for recent drop events.
type EventBuffer struct {
	mu    sync.RWMutex
	buf   []DropEvent
	size  int
	head  int // next write position
	count int // number of events stored
	seq   uint64

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}
}

// Subscription receives new events from an EventBuffer.
type Subscription struct {
	C  chan DropEvent
	eb *EventBuffer
}

// Close unsubscribes. The channel is left open so readers never see a
// spurious zero event.
func (s *Subscription) Close() {
	s.eb.unsubscribe(s)
}

// NewEventBuffer creates a new event buffer with the given capacity.
func NewEventBuffer(size int) *EventBuffer {
	if size < 1 {
		size = 1
	}
	return &EventBuffer{
		buf:  make([]DropEvent, size),
		size: size,
		subs: make(map[*Subscription]struct{}),
	}
}

// Add appends an event to the buffer, overwriting the oldest if full.
// Subscribers are notified non-blocking.
func (eb *EventBuffer) Add(ev DropEvent) {
	eb.mu.Lock()
	eb.buf[eb.head] = ev
	eb.head = (eb.head + 1) % eb.size
	if eb.count < eb.size {
		eb.count++
	}
	eb.seq++
	eb.mu.Unlock()

	eb.subMu.RLock()
	for sub := range eb.subs {
		select {
		case sub.C <- ev:
		default: // drop if subscriber is slow
		}
	}
	eb.subMu.RUnlock()
}

// Subscribe returns a Subscription that receives new events.
// Call Close() on the subscription when done.
func (eb *EventBuffer) Subscribe(bufSize int) *Subscription {
	if bufSize < 1 {
		bufSize = 64
	}
	sub := &Subscription{
		C:  make(chan DropEvent, bufSize),
		eb: eb,
	}
	eb.subMu.Lock()
	eb.subs[sub] = struct{}{}
	eb.subMu.Unlock()
	return sub
}

func (eb *EventBuffer) unsubscribe(sub *Subscription) {
	eb.subMu.Lock()
	delete(eb.subs, sub)
	eb.subMu.Unlock()
}

// Total returns how many events were ever added.
func (eb *EventBuffer) Total() uint64 {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.seq
}

// EventFilter specifies criteria for filtering events.
type EventFilter struct {
	Reason string // exact drop reason; "" = any
	Port   int    // -1 = any
	Addr   string // substring of source or destination address
}

// AnyEvent matches every event.
var AnyEvent = EventFilter{Port: -1}

// Matches reports whether ev satisfies the filter.
func (f EventFilter) Matches(ev DropEvent) bool {
	if f.Reason != "" && !strings.EqualFold(ev.Reason, f.Reason) {
		return false
	}
	if f.Port >= 0 && ev.Port != f.Port {
		return false
	}
	if f.Addr != "" && !strings.Contains(addrOrDash(ev.Src), f.Addr) &&
		!strings.Contains(addrOrDash(ev.Dst), f.Addr) {
		return false
	}
	return true
}

// LatestFiltered returns the most recent n events matching the filter, newest first.
func (eb *EventBuffer) LatestFiltered(n int, f EventFilter) []DropEvent {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if n <= 0 {
		return nil
	}

	var result []DropEvent
	for i := 0; i < eb.count && len(result) < n; i++ {
		idx := (eb.head - 1 - i + eb.size) % eb.size
		if f.Matches(eb.buf[idx]) {
			result = append(result, eb.buf[idx])
		}
	}
	return result
}
