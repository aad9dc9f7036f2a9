package otel

import (
	"fmt"
	"strings"
	"time"
)

// Extra keys carried by search events.
const (
	ExtraIn            = "in"
	ExtraNoVector      = "no_vector"
	ExtraMuted         = "muted"
	ExtraFocusWeight   = "focus_weight"
	ExtraAmbientWeight = "ambient_weight"
)

// FilterStages names the filter drop counters in pipeline order. Each is an
// Extra key on search.filter events.
var FilterStages = []string{"disabled", "zero_weight", "duplicate", "ignored", "untracked"}

// Outcome is how a search ended.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeComplete  Outcome = "complete"
	OutcomeStale     Outcome = "stale"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// SearchTrace is one search reassembled from its events.
type SearchTrace struct {
	QueryID string
	Query   string
	Start   time.Time
	Dur     time.Duration
	Outcome Outcome

	Pool     int            // candidates from the browser snapshot
	Kept     int            // candidates left after filtering
	Drops    map[string]int // by filter stage
	Dims     int
	Focus    float64 // blend weights actually used
	Ambient  float64
	Scored   int
	NoVector int
	Muted    int
	Results  int

	EmbedErrors int
	Err         string
}

// Dropped is the total removed by the filter pipeline.
func (t SearchTrace) Dropped() int {
	n := 0
	for _, v := range t.Drops {
		n += v
	}
	return n
}

func (t *SearchTrace) apply(e Event) {
	if t.Start.IsZero() || (!e.Time.IsZero() && e.Time.Before(t.Start)) {
		t.Start = e.Time
	}
	switch e.Kind {
	case KindSearchStart:
		t.Query = e.Query
	case KindSearchPool:
		t.Pool = e.Count
	case KindSearchFilter:
		t.Kept = e.Count
		if t.Pool == 0 {
			t.Pool = e.ExtraInt(ExtraIn)
		}
		t.Drops = make(map[string]int, len(FilterStages))
		for _, stage := range FilterStages {
			if n := e.ExtraInt(stage); n > 0 {
				t.Drops[stage] = n
			}
		}
	case KindQueryEmbed:
		t.Dims = e.Dims
		t.Focus = e.ExtraFloat(ExtraFocusWeight)
		t.Ambient = e.ExtraFloat(ExtraAmbientWeight)
	case KindSearchScore:
		t.Scored = e.Count
		t.NoVector = e.ExtraInt(ExtraNoVector)
		t.Muted = e.ExtraInt(ExtraMuted)
	case KindEmbedError:
		t.EmbedErrors++
	case KindSearchComplete:
		t.Outcome, t.Results, t.Dur = OutcomeComplete, e.Count, e.Duration()
	case KindSearchStale:
		t.Outcome, t.Dur = OutcomeStale, e.Duration()
	case KindSearchCancel:
		t.Outcome, t.Dur = OutcomeCancelled, e.Duration()
	case KindSearchFail:
		t.Outcome, t.Dur, t.Err = OutcomeFailed, e.Duration(), e.Err
	}
}

// FoldSearches groups events by query ID into traces, in order of each
// search's first event. Events without a query ID are ignored.
func FoldSearches(events []Event) []SearchTrace {
	var order []string
	byID := make(map[string]*SearchTrace)
	for _, e := range events {
		if e.QueryID == "" {
			continue
		}
		t, ok := byID[e.QueryID]
		if !ok {
			t = &SearchTrace{QueryID: e.QueryID, Outcome: OutcomeRunning}
			byID[e.QueryID] = t
			order = append(order, e.QueryID)
		}
		t.apply(e)
	}

	out := make([]SearchTrace, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// Funnel renders the candidate counts, e.g. "40 → 31 → 29 → 29".
func (t SearchTrace) Funnel() string {
	return fmt.Sprintf("%d → %d → %d → %d", t.Pool, t.Kept, t.Scored, t.Results)
}

// DropSummary lists the non-zero drop counters in pipeline order, e.g.
// "ignored=2 muted=1".
func (t SearchTrace) DropSummary() string {
	var parts []string
	for _, stage := range FilterStages {
		if n := t.Drops[stage]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", stage, n))
		}
	}
	if t.NoVector > 0 {
		parts = append(parts, fmt.Sprintf("%s=%d", ExtraNoVector, t.NoVector))
	}
	if t.Muted > 0 {
		parts = append(parts, fmt.Sprintf("%s=%d", ExtraMuted, t.Muted))
	}
	return strings.Join(parts, " ")
}
