package rank

import "sort"

// SortKey names the value results are ordered by.
type SortKey string

const (
	ByFinalScore  SortKey = "finalScore"
	BySemantic    SortKey = "semantic"
	BySemanticRaw SortKey = "semanticRaw"
	ByRecency     SortKey = "recency"
	ByFrequency   SortKey = "frequency"
	BySourceBoost SortKey = "sourceBoost"
	ByDensity     SortKey = "densityMultiplier"
)

// SortKeys lists every key in UI cycling order.
var SortKeys = []SortKey{ByFinalScore, BySemantic, BySemanticRaw, ByRecency, ByFrequency, BySourceBoost, ByDensity}

// ParseSortKey returns the matching key, or ByFinalScore for anything unknown.
func ParseSortKey(s string) SortKey {
	for _, k := range SortKeys {
		if string(k) == s {
			return k
		}
	}
	return ByFinalScore
}

// Next returns the key after k in SortKeys, wrapping around.
func (k SortKey) Next() SortKey {
	for i, key := range SortKeys {
		if key == k {
			return SortKeys[(i+1)%len(SortKeys)]
		}
	}
	return ByFinalScore
}

// Value extracts the sort value of r for k.
func (k SortKey) Value(r *Result) float64 {
	switch k {
	case BySemantic:
		return r.Components.Semantic
	case BySemanticRaw:
		return r.Components.SemanticRaw
	case ByRecency:
		return r.Components.Recency
	case ByFrequency:
		return r.Components.Frequency
	case BySourceBoost:
		return r.Components.SourceBoost
	case ByDensity:
		return r.Components.DensityMultiplier
	default:
		return r.FinalScore
	}
}

// Sort returns a copy of results ordered descending by key, ties keeping
// their input order, capped at MaxResults.
func Sort(results []Result, key SortKey) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		return key.Value(&out[i]) > key.Value(&out[j])
	})
	if len(out) > MaxResults {
		out = out[:MaxResults]
	}
	return out
}
