package otel

import (
	"maps"
	"sync"
)

// DefaultRingSize holds a few dozen searches' worth of events.
const DefaultRingSize = 1024

// RingBuffer keeps the most recent events in memory, oldest overwritten
// first. Safe for concurrent use.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []Event
	head  int // next write position
	count int
}

// NewRingBuffer creates a ring holding size events. A non-positive size
// means DefaultRingSize.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{buf: make([]Event, size)}
}

// Push adds e. Extra is copied so later writes by the emitter do not show
// through.
func (r *RingBuffer) Push(e Event) {
	if e.Extra != nil {
		e.Extra = maps.Clone(e.Extra)
	}
	r.mu.Lock()
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// ordered copies the buffered events oldest first. Caller holds mu.
func (r *RingBuffer) ordered() []Event {
	out := make([]Event, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	n := copy(out, r.buf[start:min(start+r.count, len(r.buf))])
	copy(out[n:], r.buf[:r.count-n])
	return out
}

// Last returns the n most recent events, oldest first.
func (r *RingBuffer) Last(n int) []Event {
	if n <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return nil
	}
	all := r.ordered()
	if n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// ForQuery returns the buffered events of one search, oldest first.
func (r *RingBuffer) ForQuery(qid string) []Event {
	if qid == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.ordered() {
		if e.QueryID == qid {
			out = append(out, e)
		}
	}
	return out
}

// Searches folds the buffered events into traces and returns the n most
// recent, oldest first. A search whose early events were overwritten shows
// partial counts.
func (r *RingBuffer) Searches(n int) []SearchTrace {
	r.mu.Lock()
	events := r.ordered()
	r.mu.Unlock()

	traces := FoldSearches(events)
	if n > 0 && n < len(traces) {
		traces = traces[len(traces)-n:]
	}
	return traces
}

// LastSearch returns the most recent search, or false if none is buffered.
func (r *RingBuffer) LastSearch() (SearchTrace, bool) {
	traces := r.Searches(1)
	if len(traces) == 0 {
		return SearchTrace{}, false
	}
	return traces[0], true
}

// Len returns the number of buffered events.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the ring's capacity.
func (r *RingBuffer) Cap() int {
	return len(r.buf)
}

// Stats counts buffered events by kind.
func (r *RingBuffer) Stats() map[EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[EventKind]int)
	for _, e := range r.ordered() {
		counts[e.Kind]++
	}
	return counts
}
