// Package penalty computes the multipliers that demote thin, noisy or
// unhealthy pages.
package penalty

import (
	"fmt"
	"math"
	"strings"

	"github.com/abelbrown/linkstreak/internal/health"
	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/settings"
)

const (
	sparseFactor = 0.6
	noDescFactor = 0.8
	hardFactor   = 0.1
	softFactor   = 0.3
	minQuality   = 0.1
	sparseNote   = "Sparse Metadata (-40%)"
	noDescNote   = "No Description (-20%)"
)

// Breakdown is the full set of multipliers for one candidate.
type Breakdown struct {
	Density float64  `json:"density"`
	Poison  float64  `json:"poison"`
	Quality float64  `json:"quality"`
	Details []string `json:"details,omitempty"`
}

// Excluded reports whether a muted keyword removed the candidate.
func (b Breakdown) Excluded() bool { return b.Poison == 0 }

// Total is the product of all three multipliers.
func (b Breakdown) Total() float64 { return b.Density * b.Poison * b.Quality }

// MetaText concatenates title, description and headings (or legacy H1).
func MetaText(c *link.Candidate) string {
	return c.Title + c.Description + c.HeadingText()
}

// Density returns the sparse/no-description multiplier, between 0.48 and 1.
func Density(c *link.Candidate) float64 {
	d, _ := density(c)
	return d
}

func density(c *link.Candidate) (float64, []string) {
	m := 1.0
	var notes []string
	if health.TextLen(MetaText(c)) < health.DensityThreshold {
		m *= sparseFactor
		notes = append(notes, sparseNote)
	}
	if strings.TrimSpace(c.Description) == "" {
		m *= noDescFactor
		notes = append(notes, noDescNote)
	}
	return m, notes
}

// Poison returns the keyword multiplier for text. A muted match returns 0
// immediately; hard and soft matches compound.
func Poison(text string, keywords []settings.PoisonKeyword) float64 {
	p, _ := poison(text, keywords)
	return p
}

func poison(text string, keywords []settings.PoisonKeyword) (float64, []string) {
	lower := strings.ToLower(text)
	m := 1.0
	var notes []string
	for _, k := range keywords {
		if k.Word == "" || !strings.Contains(lower, strings.ToLower(k.Word)) {
			continue
		}
		switch k.Level {
		case settings.PoisonMuted:
			return 0, append(notes, fmt.Sprintf(`Muted: contains "%s"`, k.Word))
		case settings.PoisonHard:
			m *= hardFactor
			notes = append(notes, fmt.Sprintf(`Major Noise: "%s" (-90%%)`, k.Word))
		case settings.PoisonSoft:
			m *= softFactor
			notes = append(notes, fmt.Sprintf(`Minor Noise: "%s" (-70%%)`, k.Word))
		}
	}
	return m, notes
}

// Quality maps a health score to a multiplier floored at 0.1.
func Quality(h health.Score) float64 {
	return math.Max(minQuality, float64(h.Score)/100)
}

// Apply computes every multiplier for c.
func Apply(c *link.Candidate, keywords []settings.PoisonKeyword, h health.Score) Breakdown {
	d, details := density(c)
	p, poisonNotes := poison(MetaText(c), keywords)
	details = append(details, poisonNotes...)

	q := Quality(h)
	if q < 1 {
		details = append(details, fmt.Sprintf("Health Penalty: %d%% result quality (-%d%%)",
			h.Score, int(math.Round((1-q)*100))))
	}
	return Breakdown{Density: d, Poison: p, Quality: q, Details: details}
}
