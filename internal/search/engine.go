// Package search runs the relevance pipeline: it loads the browser snapshot
// and settings, filters candidates, embeds the query and ranks every
// candidate against it.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/linkstreak/internal/browser"
	"github.com/abelbrown/linkstreak/internal/embed"
	"github.com/abelbrown/linkstreak/internal/filter"
	"github.com/abelbrown/linkstreak/internal/health"
	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/logging"
	"github.com/abelbrown/linkstreak/internal/metrics"
	"github.com/abelbrown/linkstreak/internal/otel"
	"github.com/abelbrown/linkstreak/internal/penalty"
	"github.com/abelbrown/linkstreak/internal/query"
	"github.com/abelbrown/linkstreak/internal/rank"
	"github.com/abelbrown/linkstreak/internal/settings"
	"github.com/abelbrown/linkstreak/internal/store"
)

// ErrStale is returned by Search when a newer search started before this one
// finished. The caller should discard the result.
var ErrStale = errors.New("search: superseded by a newer search")

const defaultEmbedConcurrency = 4

// Embedder turns queries and page records into vectors. *embed.Provider
// satisfies it.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedRecord(ctx context.Context, title, description string) ([]float32, error)
}

// Request is one search.
type Request struct {
	Focus   string `json:"focus"`
	Ambient string `json:"ambient,omitempty"`
	// Influence is the 0-100 context slider. Nil uses the stored preference.
	Influence *int `json:"influence,omitempty"`
}

// Options tunes an Engine. The zero value is usable.
type Options struct {
	Events           *otel.Logger
	Metrics          *metrics.Metrics
	EmbedConcurrency int
	Now              func() time.Time
}

// Engine ranks browser links against a query. Safe for concurrent use; only
// the most recently started search may return results.
type Engine struct {
	store    *store.Store
	source   browser.Source
	embedder Embedder
	cache    *embed.Cache

	events      *otel.Logger
	metrics     *metrics.Metrics
	concurrency int
	now         func() time.Time

	epoch atomic.Uint64
}

// New creates an engine reading settings and metadata from st and links
// from src.
func New(st *store.Store, src browser.Source, emb Embedder, opts Options) *Engine {
	e := &Engine{
		store:       st,
		source:      src,
		embedder:    emb,
		cache:       embed.NewCache(),
		events:      opts.Events,
		metrics:     opts.Metrics,
		concurrency: opts.EmbedConcurrency,
		now:         opts.Now,
	}
	if e.events == nil {
		e.events = otel.NewNullLogger()
	}
	if e.concurrency <= 0 {
		e.concurrency = defaultEmbedConcurrency
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Store returns the backing store.
func (e *Engine) Store() *store.Store { return e.store }

// SessionCacheLen reports how many record vectors this engine has computed.
func (e *Engine) SessionCacheLen() int { return e.cache.Len() }

// inputs is everything Search reads before touching the embedder.
type inputs struct {
	weights  settings.Weights
	keywords []settings.PoisonKeyword
	ignore   *filter.IgnoreList
	opts     settings.RetrievalOptions
	prefs    settings.SearchPrefs
	index    map[string]store.Entry
	raw      browser.Snapshot
}

func (e *Engine) load(ctx context.Context) (*inputs, error) {
	in := &inputs{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) { in.weights, err = e.store.Weights(); return })
	g.Go(func() (err error) { in.keywords, err = e.store.PoisonKeywords(); return })
	g.Go(func() (err error) { in.ignore, err = e.store.IgnoreList(); return })
	g.Go(func() (err error) { in.opts, err = e.store.RetrievalOptions(); return })
	g.Go(func() (err error) { in.prefs, err = e.store.SearchPrefs(); return })
	g.Go(func() (err error) { in.index, err = e.store.Index(); return })
	g.Go(func() error {
		if e.source == nil {
			return nil
		}
		snap, err := e.source.Load(gctx)
		if err != nil {
			return fmt.Errorf("load browser snapshot: %w", err)
		}
		in.raw = snap
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// Search ranks every eligible link against req. An empty focus, a failed
// focus embedding or an empty pool all yield an empty set and a nil error.
// ErrStale means a newer Search started meanwhile.
func (e *Engine) Search(ctx context.Context, req Request, fs settings.FilterState) (*ResultSet, error) {
	epoch := e.epoch.Add(1)
	sc := e.events.Scope("search", otel.NewQueryID())
	key := rank.ParseSortKey(fs.SortBy)

	sc.Emit(otel.Event{Kind: otel.KindSearchStart, Query: req.Focus})

	finish := func(set *ResultSet) (*ResultSet, error) {
		if e.stale(epoch) {
			return e.abandon(sc)
		}
		set.QueryID = sc.QueryID()
		outcome := metrics.OutcomeOK
		if set.Len() == 0 {
			outcome = metrics.OutcomeEmpty
		}
		e.metrics.ObserveSearch(outcome, sc.Elapsed().Seconds(), len(set.Items()))
		sc.Finish(otel.KindSearchComplete, set.Len())
		return set, nil
	}
	fail := func(err error) (*ResultSet, error) {
		e.metrics.ObserveSearch(metrics.OutcomeError, sc.Elapsed().Seconds(), 0)
		if ctx.Err() != nil {
			sc.Finish(otel.KindSearchCancel, 0)
			return nil, ctx.Err()
		}
		sc.Fail(otel.KindSearchFail, err)
		return nil, fmt.Errorf("search: %w", err)
	}

	focus := strings.TrimSpace(req.Focus)
	if focus == "" {
		return finish(NewResultSet(nil, key))
	}

	in, err := e.load(ctx)
	if err != nil {
		return fail(err)
	}

	cands := e.pool(in)
	sc.Emit(otel.Event{Kind: otel.KindSearchPool, Count: len(cands)})

	pipe := filter.Pipeline{
		Enabled:     fs.Sources,
		Weights:     &in.weights,
		Ignore:      in.ignore,
		TrackedOnly: fs.TrackedOnly,
	}
	cands, stats := pipe.Apply(cands)
	e.recordFilter(sc, stats)
	if len(cands) == 0 {
		set := NewResultSet(nil, key)
		set.Stats = stats
		return finish(set)
	}
	if e.stale(epoch) {
		return e.abandon(sc)
	}

	influence := in.prefs.Weight
	if req.Influence != nil {
		influence = *req.Influence
	}
	qvec, err := e.queryVector(ctx, sc, focus, req.Ambient, influence)
	if err != nil {
		return fail(err)
	}
	if qvec == nil {
		set := NewResultSet(nil, key)
		set.Stats = stats
		return finish(set)
	}

	vecs, err := e.vectors(ctx, cands, len(qvec))
	if err != nil {
		return fail(err)
	}

	now := e.now()
	results := make([]rank.Result, 0, len(cands))
	var noVector, muted int
	for i := range cands {
		c := &cands[i]
		if vecs[i] == nil {
			noVector++
			continue
		}
		sim := embed.CosineSimilarity(qvec, vecs[i])
		h := health.Calculate(metaOf(c))
		b := penalty.Apply(c, in.keywords, h)
		if b.Excluded() {
			muted++
			continue
		}
		results = append(results, rank.Score(sim, c, in.weights, b, h, now))
	}
	e.metrics.AddDropped("no_vector", noVector)
	e.metrics.AddDropped("muted", muted)
	sc.Emit(otel.Event{
		Kind:  otel.KindSearchScore,
		Count: len(results),
		Extra: map[string]any{otel.ExtraNoVector: noVector, otel.ExtraMuted: muted},
	})

	set := NewResultSet(results, key)
	set.Stats = stats
	return finish(set)
}

func (e *Engine) stale(epoch uint64) bool { return e.epoch.Load() != epoch }

func (e *Engine) abandon(sc *otel.Scope) (*ResultSet, error) {
	sc.Finish(otel.KindSearchStale, 0)
	e.metrics.ObserveSearch(metrics.OutcomeStale, sc.Elapsed().Seconds(), 0)
	logging.Debug("Search superseded", "qid", sc.QueryID())
	return nil, ErrStale
}

// pool applies the retrieval options and merges cached metadata into the
// snapshot's candidates.
func (e *Engine) pool(in *inputs) []link.Candidate {
	known := make(map[string]bool)
	for url, entry := range in.index {
		if entry.IsLocal != nil {
			known[url] = *entry.IsLocal
		}
	}

	snap, learned := browser.Retrieve(in.raw, in.opts, known)
	if len(learned) > 0 {
		if err := e.store.SetLocalFlags(learned); err != nil {
			logging.Warn("Failed to save local flags", "error", err)
			e.events.Error(otel.KindStoreError, "search", err)
		}
	}

	cands := snap.Candidates()
	for i := range cands {
		if entry, ok := in.index[cands[i].URL]; ok {
			merge(&cands[i], entry)
		}
	}
	return cands
}

// merge overlays the non-empty cached fields of entry onto c and marks it
// tracked.
func merge(c *link.Candidate, entry store.Entry) {
	if entry.Title != "" {
		c.Title = entry.Title
	}
	if entry.Description != "" {
		c.Description = entry.Description
	}
	if entry.Headings != "" {
		c.Headings = entry.Headings
	}
	if entry.H1 != "" {
		c.H1 = entry.H1
	}
	if len(entry.Embedding) > 0 {
		c.Embedding = entry.Embedding
	}
	if entry.IsLocal != nil {
		c.IsLocal = entry.IsLocal
	}
	c.Tracked = true
}

func (e *Engine) recordFilter(sc *otel.Scope, st filter.Stats) {
	e.metrics.AddDropped("disabled", st.Disabled)
	e.metrics.AddDropped("zero_weight", st.ZeroWeight)
	e.metrics.AddDropped("duplicate", st.Duplicate)
	e.metrics.AddDropped("ignored", st.Ignored)
	e.metrics.AddDropped("untracked", st.Untracked)
	sc.Emit(otel.Event{
		Kind:  otel.KindSearchFilter,
		Count: st.Out,
		Extra: map[string]any{
			otel.ExtraIn:  st.In,
			"disabled":    st.Disabled,
			"zero_weight": st.ZeroWeight,
			"duplicate":   st.Duplicate,
			"ignored":     st.Ignored,
			"untracked":   st.Untracked,
		},
	})
}

// queryVector embeds focus and ambient and blends them. A nil vector with a
// nil error means the focus could not be embedded.
func (e *Engine) queryVector(ctx context.Context, sc *otel.Scope, focus, ambient string, influence int) ([]float32, error) {
	ambient = query.CheckRedundancy(focus, ambient)

	fvec, err := e.embedText(ctx, focus)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Warn("Focus embedding failed", "error", err)
		sc.Fail(otel.KindEmbedError, err)
		return nil, nil
	}
	if fvec == nil {
		return nil, nil
	}

	var avec []float32
	if strings.TrimSpace(ambient) != "" {
		avec, err = e.embedText(ctx, ambient)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.Warn("Ambient embedding failed, using focus only", "error", err)
			sc.Fail(otel.KindEmbedError, err)
			avec = nil
		}
	}

	w := query.WeightsFromInfluence(influence)
	if avec == nil {
		w = query.Weights{Focus: 1}
	}
	vec := query.Blend(fvec, avec, w)
	sc.Emit(otel.Event{
		Kind:  otel.KindQueryEmbed,
		Dims:  len(vec),
		Extra: map[string]any{otel.ExtraFocusWeight: w.Focus, otel.ExtraAmbientWeight: w.Ambient},
	})
	return vec, nil
}

func (e *Engine) embedText(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil {
		return nil, embed.ErrUnavailable
	}
	return e.embedder.EmbedText(ctx, text)
}

// vectors resolves one vector per candidate, in order. A nil entry means the
// candidate has no usable vector. Only cancellation is an error.
func (e *Engine) vectors(ctx context.Context, cands []link.Candidate, dims int) ([][]float32, error) {
	out := make([][]float32, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := range cands {
		c := &cands[i]
		g.Go(func() error {
			out[i] = e.vectorFor(gctx, c, dims)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// vectorFor returns the stored vector, then the session cache, then a fresh
// record embedding which is written back to the store. Stored vectors of the
// wrong size are ignored.
func (e *Engine) vectorFor(ctx context.Context, c *link.Candidate, dims int) []float32 {
	if len(c.Embedding) == dims {
		e.metrics.IncEmbedding("stored")
		return c.Embedding
	}
	if v, ok := e.cache.Get(c.URL); ok && len(v) == dims {
		e.metrics.IncEmbedding("session")
		return v
	}
	if e.embedder == nil {
		e.metrics.IncEmbedding("failed")
		return nil
	}

	v, err := e.embedder.EmbedRecord(ctx, c.Title, c.Description)
	if err != nil || len(v) != dims {
		if err != nil && ctx.Err() == nil {
			logging.Debug("Record embedding failed", "url", c.URL, "error", err)
		}
		e.metrics.IncEmbedding("failed")
		return nil
	}

	e.cache.Put(c.URL, v)
	p := store.Patch{Embedding: v}
	if c.Title != "" {
		title := c.Title
		p.Title = &title
	}
	if err := e.store.SaveToCache(c.URL, p); err != nil {
		logging.Warn("Failed to cache embedding", "url", c.URL, "error", err)
	}
	e.metrics.IncEmbedding("computed")
	e.events.Emit(otel.Event{Kind: otel.KindEmbedRecord, Comp: "search", URL: c.URL, Dims: len(v)})
	return v
}

func metaOf(c *link.Candidate) *health.Meta {
	return &health.Meta{
		Title:       c.Title,
		Description: c.Description,
		Headings:    c.Headings,
		H1:          c.H1,
	}
}

// ComputeHealth rates the cached metadata for url. Unknown URLs score as
// missing metadata.
func (e *Engine) ComputeHealth(url string) (health.Score, error) {
	entry, err := e.store.Get(url)
	if errors.Is(err, store.ErrNotFound) {
		return health.Calculate(nil), nil
	}
	if err != nil {
		return health.Score{}, err
	}
	return health.Calculate(&health.Meta{
		Title:       entry.Title,
		Description: entry.Description,
		Headings:    entry.Headings,
		H1:          entry.H1,
	}), nil
}

// BlockURL adds url to the block list and returns set without it.
func (e *Engine) BlockURL(set *ResultSet, url, title string) (*ResultSet, error) {
	if err := e.store.BlockURL(url, title); err != nil {
		return set, err
	}
	e.metrics.IncBlock("url")
	e.events.Emit(otel.Event{Kind: otel.KindBlock, Comp: "search", URL: url, Msg: "url"})
	return set.WithoutURL(url), nil
}

// BlockDomain adds an ignore pattern for rawURL's host and returns set
// without that host. A URL with no host changes nothing.
func (e *Engine) BlockDomain(set *ResultSet, rawURL string) (*ResultSet, error) {
	added, err := e.store.BlockDomain(rawURL)
	if err != nil {
		return set, err
	}
	host, ok := hostOf(rawURL)
	if !ok {
		return set, nil
	}
	if added {
		e.metrics.IncBlock("domain")
		e.events.Emit(otel.Event{Kind: otel.KindBlock, Comp: "search", URL: rawURL, Msg: "domain"})
	}
	return set.WithoutHost(host), nil
}
