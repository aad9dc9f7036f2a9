package otel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// queueSize bounds events waiting for the writer. Emit never blocks; past
// this the event is counted as dropped.
const queueSize = 4096

type queued struct {
	line []byte
	ev   Event // kept unserialized for the ring; Dur survives
}

// Logger appends events to a JSONL stream from a single writer goroutine,
// and mirrors them into an optional RingBuffer. Lines are buffered and
// flushed whenever the queue runs dry, so a burst from one search costs
// one write.
//
// A nil *Logger discards everything.
type Logger struct {
	session string
	queue   chan queued
	out     io.Writer

	mu   sync.Mutex // guards ring
	ring *RingBuffer

	dropped   atomic.Uint64
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewLogger starts a Logger writing to w. Close flushes and stops it.
func NewLogger(w io.Writer) *Logger {
	l := &Logger{
		session: uuid.NewString(),
		queue:   make(chan queued, queueSize),
		out:     w,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// NewNullLogger returns a Logger that only feeds its ring buffer.
func NewNullLogger() *Logger {
	return NewLogger(io.Discard)
}

func (l *Logger) run() {
	defer close(l.done)
	bw := bufio.NewWriter(l.out)
	for q := range l.queue {
		if _, err := bw.Write(q.line); err != nil {
			l.dropped.Add(1)
		}

		l.mu.Lock()
		ring := l.ring
		l.mu.Unlock()
		if ring != nil {
			ring.Push(q.ev)
		}

		if len(l.queue) == 0 {
			if err := bw.Flush(); err != nil {
				// bufio keeps the error; nothing after this reaches disk.
				l.dropped.Add(1)
			}
		}
	}
	bw.Flush()
}

// Emit queues e, stamping Time (if unset) and the session ID. It never
// blocks; events emitted after Close or into a full queue are dropped.
func (l *Logger) Emit(e Event) {
	if l == nil {
		return
	}
	defer func() {
		// Close raced the send below.
		if recover() != nil {
			l.dropped.Add(1)
		}
	}()
	if l.closed.Load() {
		l.dropped.Add(1)
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.SessionID = l.session

	line, err := json.Marshal(e)
	if err != nil {
		l.dropped.Add(1)
		return
	}

	select {
	case l.queue <- queued{line: append(line, '\n'), ev: e}:
	default:
		l.dropped.Add(1)
	}
}

// Error emits an error-level event for err. A nil err is recorded empty.
func (l *Logger) Error(kind EventKind, comp string, err error) {
	e := Event{Level: LevelError, Kind: kind, Comp: comp}
	if err != nil {
		e.Err = err.Error()
	}
	l.Emit(e)
}

// SetRingBuffer mirrors every later event into ring.
func (l *Logger) SetRingBuffer(ring *RingBuffer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = ring
}

// Dropped returns how many events never made it to the writer.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close drains the queue, flushes and stops the writer. It is idempotent,
// and concurrent Emits are dropped rather than panicking.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.queue)
		<-l.done
		if d := l.dropped.Load(); d > 0 {
			fmt.Fprintf(os.Stderr, "linkstreak: %d events dropped during session %s\n", d, l.session)
		}
	})
}

// Scope stamps events with one component and query ID, and times them from
// when the scope opened. The search engine opens one per search.
type Scope struct {
	l     *Logger
	comp  string
	qid   string
	start time.Time
}

// Scope opens a Scope on l.
func (l *Logger) Scope(comp, qid string) *Scope {
	return &Scope{l: l, comp: comp, qid: qid, start: time.Now()}
}

// QueryID returns the scope's query ID.
func (s *Scope) QueryID() string { return s.qid }

// Elapsed is the time since the scope opened.
func (s *Scope) Elapsed() time.Duration { return time.Since(s.start) }

// Emit stamps e and emits it.
func (s *Scope) Emit(e Event) {
	e.Comp, e.QueryID = s.comp, s.qid
	s.l.Emit(e)
}

// Finish emits a closing event of kind carrying count and the elapsed time.
func (s *Scope) Finish(kind EventKind, count int) {
	s.Emit(Event{Level: LevelInfo, Kind: kind, Count: count, Dur: s.Elapsed()})
}

// Fail emits an error-level event of kind for err.
func (s *Scope) Fail(kind EventKind, err error) {
	e := Event{Level: LevelError, Kind: kind, Dur: s.Elapsed()}
	if err != nil {
		e.Err = err.Error()
	}
	s.Emit(e)
}
