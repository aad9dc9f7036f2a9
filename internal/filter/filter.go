// Package filter narrows the candidate pool before scoring.
// All functions are simple: []Candidate in, []Candidate out. No side effects.
// Each stage fails open: absent configuration keeps every candidate.
package filter

import (
	"regexp"
	"sort"
	"strings"

	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/settings"
)

// BySourceEnabled drops candidates whose source toggle is explicitly off.
func BySourceEnabled(cands []link.Candidate, enabled map[link.Source]bool) []link.Candidate {
	if len(cands) == 0 {
		return []link.Candidate{}
	}
	if enabled == nil {
		return cands
	}

	result := make([]link.Candidate, 0, len(cands))
	for _, c := range cands {
		if on, ok := enabled[c.Source]; ok && !on {
			continue
		}
		result = append(result, c)
	}
	return result
}

// BySourceWeight drops candidates whose source weight is 0.
// A nil weights pointer keeps everything.
func BySourceWeight(cands []link.Candidate, weights *settings.Weights) []link.Candidate {
	if len(cands) == 0 {
		return []link.Candidate{}
	}
	if weights == nil {
		return cands
	}

	result := make([]link.Candidate, 0, len(cands))
	for _, c := range cands {
		if weights.Source(c.Source) == 0 {
			continue
		}
		result = append(result, c)
	}
	return result
}

// Dedup keeps one candidate per URL, preferring tabs over history over
// bookmarks. Within a source the input order is kept.
func Dedup(cands []link.Candidate) []link.Candidate {
	if len(cands) == 0 {
		return []link.Candidate{}
	}

	ordered := make([]link.Candidate, len(cands))
	copy(ordered, cands)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Source.Priority() < ordered[j].Source.Priority()
	})

	seen := make(map[string]bool, len(ordered))
	result := make([]link.Candidate, 0, len(ordered))
	for _, c := range ordered {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		result = append(result, c)
	}
	return result
}

// IgnoreList is the user's block list plus wildcard patterns.
type IgnoreList struct {
	blocked  map[string]bool
	patterns []*regexp.Regexp
}

// NewIgnoreList compiles patterns. A pattern's "*" matches any run of
// characters; everything else is literal and the match is anchored.
func NewIgnoreList(blocked []settings.BlockedURL, patterns []string) *IgnoreList {
	l := &IgnoreList{blocked: make(map[string]bool, len(blocked))}
	for _, b := range blocked {
		l.blocked[b.URL] = true
	}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		l.patterns = append(l.patterns, CompilePattern(p))
	}
	return l
}

// CompilePattern turns a wildcard pattern into an anchored regexp.
func CompilePattern(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// MatchPattern reports whether url matches the wildcard pattern.
func MatchPattern(pattern, url string) bool {
	return CompilePattern(pattern).MatchString(url)
}

// Ignored reports whether url is blocked or matches a pattern. Browser
// pages such as chrome:// are only dropped through patterns, which the
// default list carries.
func (l *IgnoreList) Ignored(url string) bool {
	if l == nil {
		return false
	}
	if l.blocked[url] {
		return true
	}
	for _, re := range l.patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// ByIgnoreList drops ignored URLs. A nil list keeps everything.
func ByIgnoreList(cands []link.Candidate, ignore *IgnoreList) []link.Candidate {
	if len(cands) == 0 {
		return []link.Candidate{}
	}
	if ignore == nil {
		return cands
	}

	result := make([]link.Candidate, 0, len(cands))
	for _, c := range cands {
		if ignore.Ignored(c.URL) {
			continue
		}
		result = append(result, c)
	}
	return result
}

// TrackedOnly drops candidates without a metadata cache entry when on.
func TrackedOnly(cands []link.Candidate, on bool) []link.Candidate {
	if len(cands) == 0 {
		return []link.Candidate{}
	}
	if !on {
		return cands
	}

	result := make([]link.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Tracked {
			result = append(result, c)
		}
	}
	return result
}
