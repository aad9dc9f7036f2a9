// Package otel records what the ranking engine does as JSONL events.
//
// Every search gets a query ID; its events (pool size, filter drops, query
// embedding, scoring, outcome) fold into a SearchTrace. The Logger writes
// events asynchronously. A RingBuffer keeps the recent ones in memory for the
// TUI debug overlay, and the events command folds the same traces from disk.
package otel

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an observability event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Indexing events
	KindIndexStart    EventKind = "index.start"
	KindIndexPage     EventKind = "index.page"
	KindIndexSkip     EventKind = "index.unchanged"
	KindIndexError    EventKind = "index.error"
	KindIndexComplete EventKind = "index.complete"

	// Embedding events
	KindEmbedStatus EventKind = "embed.status"
	KindEmbedRecord EventKind = "embed.record"
	KindEmbedError  EventKind = "embed.error"

	// Search events
	KindSearchStart    EventKind = "search.start"
	KindSearchPool     EventKind = "search.pool"
	KindSearchFilter   EventKind = "search.filter"
	KindQueryEmbed     EventKind = "search.query_embed"
	KindSearchScore    EventKind = "search.score"
	KindSearchComplete EventKind = "search.complete"
	KindSearchStale    EventKind = "search.stale"
	KindSearchCancel   EventKind = "search.cancel"
	KindSearchFail     EventKind = "search.fail"

	// Settings events
	KindBlock          EventKind = "settings.block"
	KindSettingsChange EventKind = "settings.change"

	// Store events
	KindStoreError   EventKind = "store.error"
	KindStoreCorrupt EventKind = "store.corrupt"

	// System events
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is the universal observability record. Every field except Kind and
// Time is optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"`       // component: "search", "indexer", "ui", "main"
	SessionID string         `json:"session_id,omitempty"` // uuid, same for entire app run
	QueryID   string         `json:"qid,omitempty"`        // search correlation ID
	Dur       time.Duration  `json:"-"`                    // not serialized directly
	DurMs     float64        `json:"dur_ms,omitempty"`     // computed from Dur at marshal time
	Count     int            `json:"count,omitempty"`
	Source    string         `json:"source,omitempty"`
	URL       string         `json:"url,omitempty"`
	Query     string         `json:"query,omitempty"`
	Dims      int            `json:"dims,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`   // free text
	Extra     map[string]any `json:"extra,omitempty"` // escape hatch for unusual fields
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}

// Duration returns Dur, or DurMs for an event read back from disk.
func (e Event) Duration() time.Duration {
	if e.Dur > 0 {
		return e.Dur
	}
	return time.Duration(e.DurMs * float64(time.Millisecond))
}

// ExtraInt reads a numeric Extra field. Decoded JSON holds float64, events
// still in memory hold int.
func (e Event) ExtraInt(key string) int {
	switch v := e.Extra[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// ExtraFloat reads a float Extra field.
func (e Event) ExtraFloat(key string) float64 {
	switch v := e.Extra[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// NewQueryID returns a fresh correlation ID for one search.
func NewQueryID() string {
	return uuid.NewString()
}
