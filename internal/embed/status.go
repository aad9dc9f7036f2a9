package embed

import (
	"fmt"
	"sync"

	"github.com/abelbrown/linkstreak/internal/logging"
)

// State is the lifecycle stage of the embedding model.
type State string

const (
	StateIdle        State = "idle"
	StateDownloading State = "downloading"
	StateReady       State = "ready"
	StateFailed      State = "failed"
)

// Status is a snapshot of the model lifecycle.
type Status struct {
	State    State   `json:"status"`
	Progress float64 `json:"progress"` // 0-100, meaningful while downloading
	Err      string  `json:"error,omitempty"`
}

// transitions lists the allowed next states. Downloading may repeat to
// report progress.
var transitions = map[State][]State{
	StateIdle:        {StateDownloading, StateReady, StateFailed},
	StateDownloading: {StateDownloading, StateReady, StateFailed},
	StateReady:       {StateIdle},
	StateFailed:      {StateIdle},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StatusTracker holds the current Status and fans changes out to subscribers.
type StatusTracker struct {
	mu   sync.RWMutex
	cur  Status
	subs []chan Status
}

// NewStatusTracker returns a tracker in the idle state.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{cur: Status{State: StateIdle}}
}

// Current returns the latest status.
func (t *StatusTracker) Current() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur
}

// Subscribe returns a channel receiving every status change.
// Slow subscribers miss intermediate updates rather than blocking.
func (t *StatusTracker) Subscribe() <-chan Status {
	ch := make(chan Status, 16)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (t *StatusTracker) Unsubscribe(ch <-chan Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.subs {
		if sub == ch {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// set moves to next if allowed. It returns an error for illegal transitions.
func (t *StatusTracker) set(next Status) error {
	t.mu.Lock()
	if !canTransition(t.cur.State, next.State) {
		from := t.cur.State
		t.mu.Unlock()
		return fmt.Errorf("embed: illegal status transition %s -> %s", from, next.State)
	}
	t.cur = next
	subs := append([]chan Status(nil), t.subs...)
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- next:
		default:
			logging.Debug("Status update dropped (subscriber full)", "state", next.State)
		}
	}
	return nil
}

// Reset returns a ready or failed tracker to idle. It is a no-op otherwise.
func (t *StatusTracker) Reset() {
	switch t.Current().State {
	case StateReady, StateFailed:
		_ = t.set(Status{State: StateIdle})
	}
}
