// Package settings holds the user-tunable preferences of the ranking engine
// and the storage keys they persist under.
package settings

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abelbrown/linkstreak/internal/link"
)

// Storage keys. They match the names the browser extension uses so exported
// settings round-trip.
const (
	KeyWeights          = "pref_ranking_weights"
	KeyRetrieval        = "retrievalOptions"
	KeySearchPrefs      = "searchPrefs"
	KeyUserSettings     = "userSettings"
	KeyBlockedURLs      = "blockedUrls"
	KeyIgnoredPatterns  = "ignoredPatterns"
	KeyPoisonKeywords   = "poisonKeywords"
	KeyMetadataCache    = "linky_vector_cache"
	unknownBlockedTitle = "Unknown Page"
)

// SourceWeights boosts each source, 0-100. Zero removes the source.
type SourceWeights struct {
	Tabs      int `json:"tabs"`
	History   int `json:"history"`
	Bookmarks int `json:"bookmarks"`
}

// SignalWeights scales each score signal, 0-100.
type SignalWeights struct {
	Recency   int `json:"recency"`
	Frequency int `json:"frequency"`
	Semantic  int `json:"semantic"`
}

// Weights are the user's ranking weights.
type Weights struct {
	Sources SourceWeights `json:"sources"`
	Signals SignalWeights `json:"signals"`
}

// DefaultWeights returns the out-of-the-box weights.
func DefaultWeights() Weights {
	return Weights{
		Sources: SourceWeights{Tabs: 70, History: 50, Bookmarks: 50},
		Signals: SignalWeights{Recency: 80, Frequency: 60, Semantic: 90},
	}
}

// Source returns the weight for s. Unknown sources weigh 0.
func (w Weights) Source(s link.Source) int {
	switch s {
	case link.SourceTabs:
		return w.Sources.Tabs
	case link.SourceHistory:
		return w.Sources.History
	case link.SourceBookmarks:
		return w.Sources.Bookmarks
	}
	return 0
}

// Validate reports every weight outside 0-100.
func (w Weights) Validate() error {
	var bad []string
	check := func(name string, v int) {
		if v < 0 || v > 100 {
			bad = append(bad, fmt.Sprintf("%s=%d", name, v))
		}
	}
	check("sources.tabs", w.Sources.Tabs)
	check("sources.history", w.Sources.History)
	check("sources.bookmarks", w.Sources.Bookmarks)
	check("signals.recency", w.Signals.Recency)
	check("signals.frequency", w.Signals.Frequency)
	check("signals.semantic", w.Signals.Semantic)
	if len(bad) > 0 {
		return fmt.Errorf("settings: weights out of range 0-100: %s", strings.Join(bad, ", "))
	}
	return nil
}

// WeightsPatch is a partial Weights. Nil fields keep the current value, so an
// explicit 0 survives a merge.
type WeightsPatch struct {
	Sources *SourcesPatch `json:"sources"`
	Signals *SignalsPatch `json:"signals"`
}

// SourcesPatch is a partial SourceWeights.
type SourcesPatch struct {
	Tabs      *int `json:"tabs"`
	History   *int `json:"history"`
	Bookmarks *int `json:"bookmarks"`
}

// SignalsPatch is a partial SignalWeights.
type SignalsPatch struct {
	Recency   *int `json:"recency"`
	Frequency *int `json:"frequency"`
	Semantic  *int `json:"semantic"`
}

// Merge applies p on top of w.
func (w Weights) Merge(p WeightsPatch) Weights {
	set := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	if s := p.Sources; s != nil {
		set(&w.Sources.Tabs, s.Tabs)
		set(&w.Sources.History, s.History)
		set(&w.Sources.Bookmarks, s.Bookmarks)
	}
	if s := p.Signals; s != nil {
		set(&w.Signals.Recency, s.Recency)
		set(&w.Signals.Frequency, s.Frequency)
		set(&w.Signals.Semantic, s.Semantic)
	}
	return w
}

// PoisonLevel is how strongly a keyword demotes matching pages.
type PoisonLevel string

const (
	PoisonSoft  PoisonLevel = "soft"
	PoisonHard  PoisonLevel = "hard"
	PoisonMuted PoisonLevel = "muted"
)

// ParsePoisonLevel validates a level string.
func ParsePoisonLevel(s string) (PoisonLevel, error) {
	switch l := PoisonLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case PoisonSoft, PoisonHard, PoisonMuted:
		return l, nil
	}
	return "", fmt.Errorf("settings: unknown poison level %q (want soft, hard or muted)", s)
}

// PoisonKeyword demotes or hides pages whose metadata contains Word.
type PoisonKeyword struct {
	Word  string      `json:"word"`
	Level PoisonLevel `json:"level"`
}

// RetrievalOptions shape the browser snapshot before filtering.
type RetrievalOptions struct {
	MaxHistoryResults  int  `json:"maxHistoryResults"`
	IgnorePinnedTabs   bool `json:"ignorePinnedTabs"`
	CurrentWindowLimit bool `json:"currentWindowLimit"`
	LocalOnly          bool `json:"localOnly"`
}

// DefaultRetrievalOptions returns the out-of-the-box retrieval options.
func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		MaxHistoryResults: 150,
		IgnorePinnedTabs:  true,
	}
}

// RetrievalPatch is a partial RetrievalOptions.
type RetrievalPatch struct {
	MaxHistoryResults  *int  `json:"maxHistoryResults"`
	IgnorePinnedTabs   *bool `json:"ignorePinnedTabs"`
	CurrentWindowLimit *bool `json:"currentWindowLimit"`
	LocalOnly          *bool `json:"localOnly"`
}

// Merge applies p on top of o.
func (o RetrievalOptions) Merge(p RetrievalPatch) RetrievalOptions {
	if p.MaxHistoryResults != nil {
		o.MaxHistoryResults = *p.MaxHistoryResults
	}
	if p.IgnorePinnedTabs != nil {
		o.IgnorePinnedTabs = *p.IgnorePinnedTabs
	}
	if p.CurrentWindowLimit != nil {
		o.CurrentWindowLimit = *p.CurrentWindowLimit
	}
	if p.LocalOnly != nil {
		o.LocalOnly = *p.LocalOnly
	}
	return o
}

// SearchPrefs persists the context slider.
type SearchPrefs struct {
	Weight int `json:"weight"` // context influence, 0-100
}

// DefaultSearchPrefs returns a 30% context influence.
func DefaultSearchPrefs() SearchPrefs {
	return SearchPrefs{Weight: 30}
}

// FilterState is the per-search view state: source toggles, tracked-only
// mode and the sort key.
type FilterState struct {
	Sources     map[link.Source]bool `json:"sources,omitempty"`
	TrackedOnly bool                 `json:"trackedOnly"`
	SortBy      string               `json:"sortBy,omitempty"`
}

// SourceEnabled reports whether s is on. Sources missing from the map are on.
func (f FilterState) SourceEnabled(s link.Source) bool {
	on, ok := f.Sources[s]
	return !ok || on
}

// BlockedURL is one entry of the per-URL block list.
type BlockedURL struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// UnmarshalJSON accepts both the object form and the legacy bare URL string.
func (b *BlockedURL) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = BlockedURL{URL: s, Title: unknownBlockedTitle}
		return nil
	}
	type plain BlockedURL
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("settings: blocked url: %w", err)
	}
	if p.Title == "" {
		p.Title = unknownBlockedTitle
	}
	*b = BlockedURL(p)
	return nil
}

// NewBlockedURL builds an entry, defaulting the title.
func NewBlockedURL(url, title string) BlockedURL {
	if title == "" {
		title = unknownBlockedTitle
	}
	return BlockedURL{URL: url, Title: title}
}

// DefaultIgnoredPatterns are seeded the first time patterns are read.
func DefaultIgnoredPatterns() []string {
	return []string{
		"chrome://*",
		"edge://*",
		"about:*",
		"*google.com/search*",
		"*bing.com/search*",
		"*duckduckgo.com/*",
		"file://*",
	}
}
