// Package browser loads the user's tabs, history and bookmarks and shapes
// them into ranking candidates according to the retrieval options.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/settings"
)

// Tab is an open browser tab.
type Tab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Pinned   bool   `json:"pinned"`
}

// Visit is one recorded visit of a history item.
type Visit struct {
	VisitTime float64 `json:"visitTime"` // ms since epoch
	IsLocal   bool    `json:"isLocal"`
}

// HistoryItem is one URL from the browser history.
type HistoryItem struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	LastVisitTime *float64 `json:"lastVisitTime,omitempty"` // ms since epoch
	VisitCount    *int     `json:"visitCount,omitempty"`
	Visits        []Visit  `json:"visits,omitempty"`
	IsLocal       *bool    `json:"isLocal,omitempty"`
}

// Bookmark is one bookmarked URL.
type Bookmark struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Snapshot is the browser state at search time.
type Snapshot struct {
	Tabs      []Tab         `json:"tabs"`
	History   []HistoryItem `json:"history"`
	Bookmarks []Bookmark    `json:"bookmarks"`
	ActiveTab *Tab          `json:"activeTab,omitempty"`
}

// Source provides browser snapshots.
type Source interface {
	Load(ctx context.Context) (Snapshot, error)
}

// Load returns s itself, so a Snapshot can serve as a fixed Source.
func (s Snapshot) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// FileSource reads a snapshot exported by the browser extension.
type FileSource struct {
	Path string
}

// Load reads and decodes the snapshot file on every call.
func (f FileSource) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("browser: read snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("browser: decode snapshot %s: %w", f.Path, err)
	}
	return s, nil
}

// Retrieve applies opts to raw. History items are tagged with whether their
// last visit happened on this device: a flag from known wins, then the visit
// data in the snapshot, then true. Flags learned from visit data are returned
// so the caller can persist them.
func Retrieve(raw Snapshot, opts settings.RetrievalOptions, known map[string]bool) (Snapshot, map[string]bool) {
	out := Snapshot{ActiveTab: raw.ActiveTab}
	learned := make(map[string]bool)

	activeURL := ""
	if raw.ActiveTab != nil {
		activeURL = raw.ActiveTab.URL
	}

	for _, t := range raw.Tabs {
		if raw.ActiveTab != nil && t.ID == raw.ActiveTab.ID {
			continue
		}
		if activeURL != "" && t.URL == activeURL {
			continue
		}
		if opts.IgnorePinnedTabs && t.Pinned {
			continue
		}
		if opts.CurrentWindowLimit && raw.ActiveTab != nil && t.WindowID != raw.ActiveTab.WindowID {
			continue
		}
		out.Tabs = append(out.Tabs, t)
	}

	limit := opts.MaxHistoryResults
	if limit <= 0 {
		limit = settings.DefaultRetrievalOptions().MaxHistoryResults
	}
	history := recentFirst(raw.History)
	if len(history) > limit {
		history = history[:limit]
	}
	for _, h := range history {
		if activeURL != "" && h.URL == activeURL {
			continue
		}
		local, ok := known[h.URL]
		if !ok {
			local, ok = lastVisitLocal(h)
			if ok {
				learned[h.URL] = local
			} else {
				local = true
			}
		}
		h.IsLocal = &local
		if opts.LocalOnly && !local {
			continue
		}
		out.History = append(out.History, h)
	}

	out.Bookmarks = append(out.Bookmarks, raw.Bookmarks...)
	return out, learned
}

// recentFirst returns a copy of items ordered by last visit, newest first.
// Items without a visit time keep their relative order at the end.
func recentFirst(items []HistoryItem) []HistoryItem {
	sorted := make([]HistoryItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].LastVisitTime, sorted[j].LastVisitTime
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return *a > *b
	})
	return sorted
}

func lastVisitLocal(h HistoryItem) (bool, bool) {
	if n := len(h.Visits); n > 0 {
		return h.Visits[n-1].IsLocal, true
	}
	if h.IsLocal != nil {
		return *h.IsLocal, true
	}
	return false, false
}

// Candidates flattens s in source priority order: tabs, history, bookmarks.
func (s Snapshot) Candidates() []link.Candidate {
	cands := make([]link.Candidate, 0, len(s.Tabs)+len(s.History)+len(s.Bookmarks))
	for _, t := range s.Tabs {
		cands = append(cands, link.Candidate{
			URL:      t.URL,
			Title:    t.Title,
			Source:   link.SourceTabs,
			TabID:    t.ID,
			WindowID: t.WindowID,
			Pinned:   t.Pinned,
		})
	}
	for _, h := range s.History {
		c := link.Candidate{
			URL:        h.URL,
			Title:      h.Title,
			Source:     link.SourceHistory,
			VisitCount: h.VisitCount,
			IsLocal:    h.IsLocal,
		}
		if h.LastVisitTime != nil {
			ts := time.UnixMilli(int64(*h.LastVisitTime))
			c.LastVisit = &ts
		}
		cands = append(cands, c)
	}
	for _, b := range s.Bookmarks {
		cands = append(cands, link.Candidate{
			URL:    b.URL,
			Title:  b.Title,
			Source: link.SourceBookmarks,
		})
	}
	return cands
}
