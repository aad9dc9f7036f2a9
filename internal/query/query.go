// Package query builds the search vector from a focus phrase and its
// surrounding context.
package query

import "strings"

// DefaultInfluence is the context slider's starting position.
const DefaultInfluence = 30

// Weights splits the blend between focus and ambient context. They sum to 1.
type Weights struct {
	Focus   float64
	Ambient float64
}

// WeightsFromInfluence converts a 0-100 slider into blend weights.
// Out-of-range values are clamped.
func WeightsFromInfluence(slider int) Weights {
	slider = max(0, min(100, slider))
	ambient := float64(slider) / 100
	return Weights{Focus: 1 - ambient, Ambient: ambient}
}

// Blend mixes focus and ambient component-wise. A nil or mismatched ambient
// is replaced by focus, so the result is focus scaled by the weight sum.
func Blend(focus, ambient []float32, w Weights) []float32 {
	if focus == nil {
		return nil
	}
	if len(ambient) != len(focus) {
		ambient = focus
	}
	out := make([]float32, len(focus))
	for i := range focus {
		out[i] = float32(float64(focus[i])*w.Focus + float64(ambient[i])*w.Ambient)
	}
	return out
}

// CheckRedundancy returns the ambient text to use, or "" when it only
// repeats the focus. Comparison ignores case and anything outside [a-z0-9].
// If either side has nothing left to compare, ambient is returned as is.
func CheckRedundancy(focus, ambient string) string {
	f := clean(focus)
	a := clean(ambient)
	if f == "" || a == "" {
		return ambient
	}
	if f == a || strings.Contains(f, a) {
		return ""
	}
	return ambient
}

func clean(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
