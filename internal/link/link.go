// Package link defines the candidate links the ranking engine works on.
package link

import "time"

// Source identifies where a candidate came from in the browser.
type Source string

const (
	SourceTabs      Source = "tabs"
	SourceHistory   Source = "history"
	SourceBookmarks Source = "bookmarks"
)

// Sources lists every source in dedup priority order (first wins).
var Sources = []Source{SourceTabs, SourceHistory, SourceBookmarks}

// Priority returns the dedup rank of s. Lower wins. Unknown sources sort last.
func (s Source) Priority() int {
	for i, src := range Sources {
		if src == s {
			return i
		}
	}
	return len(Sources)
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	return s.Priority() < len(Sources)
}

// Candidate is a URL eligible for ranking. Built fresh per search from a
// browser snapshot merged with the metadata cache entry for the same URL.
type Candidate struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Headings    string `json:"headings,omitempty"`
	H1          string `json:"h1,omitempty"` // legacy single-heading field from older cache entries
	Source      Source `json:"source"`

	LastVisit  *time.Time `json:"lastVisitTime,omitempty"` // nil: never recorded
	VisitCount *int       `json:"visitCount,omitempty"`    // nil: unknown

	Embedding []float32 `json:"-"`                 // stored vector from the metadata cache, if any
	Tracked   bool      `json:"isTracked"`         // true when the metadata cache has an entry for URL
	IsLocal   *bool     `json:"isLocal,omitempty"` // history only: visit came from this device

	// Tab-only fields used by retrieval options.
	TabID    int  `json:"tabId,omitempty"`
	WindowID int  `json:"windowId,omitempty"`
	Pinned   bool `json:"pinned,omitempty"`
}

// HeadingText returns the joined headings, falling back to the legacy H1 field.
func (c Candidate) HeadingText() string {
	if c.Headings != "" {
		return c.Headings
	}
	return c.H1
}
