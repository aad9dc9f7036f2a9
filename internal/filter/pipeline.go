package filter

import (
	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/settings"
)

// Pipeline is the ordered set of filter stages for one search.
// Zero values disable the matching stage.
type Pipeline struct {
	Enabled     map[link.Source]bool
	Weights     *settings.Weights
	Ignore      *IgnoreList
	TrackedOnly bool
}

// Stats records how many candidates each stage removed.
type Stats struct {
	In         int `json:"in"`
	Disabled   int `json:"disabled"`
	ZeroWeight int `json:"zeroWeight"`
	Duplicate  int `json:"duplicate"`
	Ignored    int `json:"ignored"`
	Untracked  int `json:"untracked"`
	Out        int `json:"out"`
}

// Apply runs the stages in order. Source stages run before dedup so a
// disabled source never shadows an enabled one.
func (p Pipeline) Apply(cands []link.Candidate) ([]link.Candidate, Stats) {
	st := Stats{In: len(cands)}

	step := func(in []link.Candidate, f func([]link.Candidate) []link.Candidate, dropped *int) []link.Candidate {
		out := f(in)
		*dropped = len(in) - len(out)
		return out
	}

	cur := step(cands, func(c []link.Candidate) []link.Candidate { return BySourceEnabled(c, p.Enabled) }, &st.Disabled)
	cur = step(cur, func(c []link.Candidate) []link.Candidate { return BySourceWeight(c, p.Weights) }, &st.ZeroWeight)
	cur = step(cur, Dedup, &st.Duplicate)
	cur = step(cur, func(c []link.Candidate) []link.Candidate { return ByIgnoreList(c, p.Ignore) }, &st.Ignored)
	cur = step(cur, func(c []link.Candidate) []link.Candidate { return TrackedOnly(c, p.TrackedOnly) }, &st.Untracked)

	st.Out = len(cur)
	return cur, st
}
