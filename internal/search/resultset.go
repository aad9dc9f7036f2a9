package search

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/abelbrown/linkstreak/internal/filter"
	"github.com/abelbrown/linkstreak/internal/rank"
)

// ResultSet is the immutable outcome of one search. It keeps every scored
// result so it can be re-sorted without searching again; Items returns the
// capped, ordered view.
type ResultSet struct {
	QueryID string
	Stats   filter.Stats

	all   []rank.Result
	key   rank.SortKey
	items []rank.Result
}

// NewResultSet wraps already-scored results, ordered by key.
func NewResultSet(all []rank.Result, key rank.SortKey) *ResultSet {
	return &ResultSet{all: all, key: key, items: rank.Sort(all, key)}
}

// Items returns at most rank.MaxResults results, ordered by Key.
func (s *ResultSet) Items() []rank.Result {
	if s == nil {
		return nil
	}
	out := make([]rank.Result, len(s.items))
	copy(out, s.items)
	return out
}

// Len is the number of scored results before the cap.
func (s *ResultSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.all)
}

// Key is the sort key in effect.
func (s *ResultSet) Key() rank.SortKey {
	if s == nil {
		return rank.ByFinalScore
	}
	return s.key
}

// Sorted returns the same results ordered by key.
func (s *ResultSet) Sorted(key rank.SortKey) *ResultSet {
	if s == nil {
		return NewResultSet(nil, key)
	}
	return s.derive(s.all, key)
}

// WithoutURL drops every result whose URL equals u.
func (s *ResultSet) WithoutURL(u string) *ResultSet {
	return s.without(func(r *rank.Result) bool { return r.Link.URL == u })
}

// WithoutHost drops every result on host. Results with unparseable URLs are
// kept, and an empty host changes nothing.
func (s *ResultSet) WithoutHost(host string) *ResultSet {
	host = strings.ToLower(host)
	if host == "" {
		return s
	}
	return s.without(func(r *rank.Result) bool {
		h, ok := hostOf(r.Link.URL)
		return ok && h == host
	})
}

func (s *ResultSet) without(drop func(*rank.Result) bool) *ResultSet {
	if s == nil {
		return nil
	}
	kept := make([]rank.Result, 0, len(s.all))
	for i := range s.all {
		if !drop(&s.all[i]) {
			kept = append(kept, s.all[i])
		}
	}
	return s.derive(kept, s.key)
}

func (s *ResultSet) derive(all []rank.Result, key rank.SortKey) *ResultSet {
	out := NewResultSet(all, key)
	out.QueryID = s.QueryID
	out.Stats = s.Stats
	return out
}

// MarshalJSON renders the visible view.
func (s *ResultSet) MarshalJSON() ([]byte, error) {
	items := s.Items()
	if items == nil {
		items = []rank.Result{}
	}
	return json.Marshal(struct {
		QueryID string        `json:"qid,omitempty"`
		SortBy  rank.SortKey  `json:"sortBy"`
		Total   int           `json:"total"`
		Stats   filter.Stats  `json:"stats"`
		Results []rank.Result `json:"results"`
	}{
		QueryID: s.queryID(),
		SortBy:  s.Key(),
		Total:   s.Len(),
		Stats:   s.statsOrZero(),
		Results: items,
	})
}

func (s *ResultSet) queryID() string {
	if s == nil {
		return ""
	}
	return s.QueryID
}

func (s *ResultSet) statsOrZero() filter.Stats {
	if s == nil {
		return filter.Stats{}
	}
	return s.Stats
}

func hostOf(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}
