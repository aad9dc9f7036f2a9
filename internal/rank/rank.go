// Package rank combines similarity with recency, frequency and source
// signals into a single final score, and orders the results.
package rank

import (
	"math"
	"time"

	"github.com/abelbrown/linkstreak/internal/health"
	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/penalty"
	"github.com/abelbrown/linkstreak/internal/settings"
)

// MaxResults caps every ranked list.
const MaxResults = 50

const (
	recencyDecay   = 0.2 // per day
	sourceBoostMax = 0.5
)

// Components is the per-signal breakdown of a final score.
type Components struct {
	SemanticRaw       float64 `json:"semanticRaw"`
	Semantic          float64 `json:"semantic"` // SemanticRaw * DensityMultiplier
	DensityMultiplier float64 `json:"densityMultiplier"`
	PoisonMultiplier  float64 `json:"poisonMultiplier"`
	QualityScalar     float64 `json:"qualityScalar"`
	Recency           float64 `json:"recency"`
	Frequency         float64 `json:"frequency"`
	SourceBoost       float64 `json:"sourceBoost"`
}

// ComponentWeights are the raw 0-100 weights in effect for a result.
type ComponentWeights struct {
	Semantic  int `json:"semantic"`
	Recency   int `json:"recency"`
	Frequency int `json:"frequency"`
	Source    int `json:"source"`
}

// Result is one scored candidate.
type Result struct {
	Link             link.Candidate   `json:"link"`
	Score            float64          `json:"score"` // raw cosine similarity
	FinalScore       float64          `json:"finalScore"`
	Components       Components       `json:"components"`
	ComponentWeights ComponentWeights `json:"componentWeights"`
	Health           health.Score     `json:"health"`
	Penalties        []string         `json:"penalties,omitempty"`
}

// Recency decays by exp(-0.2 * days since last visit). A nil visit scores 1
// and future visits count as now.
func Recency(last *time.Time, now time.Time) float64 {
	if last == nil {
		return 1
	}
	days := now.Sub(*last).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-recencyDecay * days)
}

// Frequency maps a visit count onto [0,1] logarithmically; 100 visits saturate.
func Frequency(count *int) float64 {
	if count == nil || *count < 1 {
		return 0
	}
	return math.Min(math.Log10(float64(*count))/2, 1)
}

// Score computes the final score for a candidate with raw similarity s.
func Score(s float64, c *link.Candidate, w settings.Weights, b penalty.Breakdown, h health.Score, now time.Time) Result {
	wSem := float64(w.Signals.Semantic) / 100
	wRec := float64(w.Signals.Recency) / 100
	wFreq := float64(w.Signals.Frequency) / 100
	srcWeight := w.Source(c.Source)
	wSrc := float64(srcWeight) / 100

	rec := Recency(c.LastVisit, now)
	freq := Frequency(c.VisitCount)

	total := wSem + wRec + wFreq + sourceBoostMax
	final := (s*wSem*b.Density*b.Poison + rec*wRec + freq*wFreq + wSrc*sourceBoostMax) / total * b.Quality

	return Result{
		Link:       *c,
		Score:      s,
		FinalScore: final,
		Components: Components{
			SemanticRaw:       s,
			Semantic:          s * b.Density,
			DensityMultiplier: b.Density,
			PoisonMultiplier:  b.Poison,
			QualityScalar:     b.Quality,
			Recency:           rec,
			Frequency:         freq,
			SourceBoost:       wSrc,
		},
		ComponentWeights: ComponentWeights{
			Semantic:  w.Signals.Semantic,
			Recency:   w.Signals.Recency,
			Frequency: w.Signals.Frequency,
			Source:    srcWeight,
		},
		Health:    h,
		Penalties: b.Details,
	}
}
