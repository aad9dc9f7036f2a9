package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/abelbrown/linkstreak/internal/embed"
	"github.com/abelbrown/linkstreak/internal/health"
	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/penalty"
	"github.com/abelbrown/linkstreak/internal/query"
)

// ErrNothingToExplain is returned by Explain when neither phrase has text.
var ErrNothingToExplain = errors.New("search: enter a focus or ambient phrase")

// Explanation breaks one page's score into its parts.
type Explanation struct {
	FocusScore   float64           `json:"focusScore"`
	AmbientScore float64           `json:"ambientScore"`
	Weights      query.Weights     `json:"weights"`
	Semantic     float64           `json:"semantic"`
	Penalties    penalty.Breakdown `json:"penalties"`
	Health       health.Score      `json:"health"`
	FinalScore   float64           `json:"finalScore"`
	Reduction    int               `json:"reduction"` // percent removed by penalties
}

// Explain scores meta against focus and ambient separately and shows how
// the penalties shape the result. Phrases are compared against the page as
// given, not blended first.
func (e *Engine) Explain(ctx context.Context, focus, ambient string, meta health.Meta) (Explanation, error) {
	focus = strings.TrimSpace(focus)
	ambient = strings.TrimSpace(ambient)
	if focus == "" && ambient == "" {
		return Explanation{}, ErrNothingToExplain
	}
	if e.embedder == nil {
		return Explanation{}, embed.ErrUnavailable
	}

	prefs, err := e.store.SearchPrefs()
	if err != nil {
		return Explanation{}, err
	}
	keywords, err := e.store.PoisonKeywords()
	if err != nil {
		return Explanation{}, err
	}

	w := query.WeightsFromInfluence(prefs.Weight)
	switch {
	case focus == "":
		w = query.Weights{Ambient: 1}
	case ambient == "":
		w = query.Weights{Focus: 1}
	}

	page, err := e.embedder.EmbedRecord(ctx, meta.Title, meta.Description)
	if err != nil {
		return Explanation{}, fmt.Errorf("embed page: %w", err)
	}
	if page == nil {
		return Explanation{}, errors.New("search: page has no title or description to embed")
	}

	var x Explanation
	x.Weights = w
	if focus != "" {
		if x.FocusScore, err = e.phraseScore(ctx, focus, page); err != nil {
			return Explanation{}, err
		}
	}
	if ambient != "" {
		if x.AmbientScore, err = e.phraseScore(ctx, ambient, page); err != nil {
			return Explanation{}, err
		}
	}
	x.Semantic = x.FocusScore*w.Focus + x.AmbientScore*w.Ambient

	c := &link.Candidate{
		Title:       meta.Title,
		Description: meta.Description,
		Headings:    meta.Headings,
		H1:          meta.H1,
	}
	x.Health = health.Calculate(&meta)
	x.Penalties = penalty.Apply(c, keywords, x.Health)
	x.FinalScore = x.Semantic * x.Penalties.Total()
	x.Reduction = int(math.Round((1 - x.Penalties.Total()) * 100))
	return x, nil
}

func (e *Engine) phraseScore(ctx context.Context, phrase string, page []float32) (float64, error) {
	v, err := e.embedder.EmbedText(ctx, phrase)
	if err != nil {
		return 0, fmt.Errorf("embed %q: %w", phrase, err)
	}
	if v == nil {
		return 0, nil
	}
	return embed.CosineSimilarity(v, page), nil
}
