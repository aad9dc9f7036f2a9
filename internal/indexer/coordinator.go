// Package indexer keeps the metadata cache up to date: it fetches pages,
// stores their metadata and embeds them for search.
package indexer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/linkstreak/internal/browser"
	"github.com/abelbrown/linkstreak/internal/embed"
	"github.com/abelbrown/linkstreak/internal/fetch"
	"github.com/abelbrown/linkstreak/internal/logging"
	"github.com/abelbrown/linkstreak/internal/metrics"
	"github.com/abelbrown/linkstreak/internal/otel"
	"github.com/abelbrown/linkstreak/internal/store"
)

// fetchTimeout is the timeout for each individual page fetch.
const fetchTimeout = 30 * time.Second

// maxConcurrentFetches limits parallel fetch operations.
const maxConcurrentFetches = 5

// Outcome is what happened to one page.
type Outcome string

const (
	OutcomeIndexed   Outcome = "indexed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Result reports one page.
type Result struct {
	URL      string
	Outcome  Outcome
	Embedded bool // a vector was stored for the page
	Err      error
}

// pageFetcher interface for dependency injection (testing).
type pageFetcher interface {
	Page(ctx context.Context, url string) (fetch.Page, error)
}

// recordEmbedder turns page metadata into a vector. *embed.Provider satisfies it.
type recordEmbedder interface {
	EmbedRecord(ctx context.Context, title, description string) ([]float32, error)
}

// Coordinator manages page indexing.
// Uses context cancellation as the ONLY stop mechanism.
type Coordinator struct {
	store    *store.Store
	fetcher  pageFetcher
	embedder recordEmbedder // optional: nil to disable embedding
	events   *otel.Logger
	metrics  *metrics.Metrics
	notify   func(Result)
	wg       sync.WaitGroup
}

// NewCoordinator creates a Coordinator with the real fetcher.
// The provider is optional (nil to disable embedding).
func NewCoordinator(s *store.Store, f *fetch.Fetcher, p *embed.Provider, events *otel.Logger, m *metrics.Metrics) *Coordinator {
	var e recordEmbedder
	if p != nil {
		e = p
	}
	return NewCoordinatorWithFetcher(s, f, e, events, m)
}

// NewCoordinatorWithFetcher allows injecting a custom fetcher and embedder
// (for testing). A nil events logger discards events.
func NewCoordinatorWithFetcher(s *store.Store, f pageFetcher, e recordEmbedder, events *otel.Logger, m *metrics.Metrics) *Coordinator {
	if events == nil {
		events = otel.NewNullLogger()
	}
	return &Coordinator{
		store:    s,
		fetcher:  f,
		embedder: e,
		events:   events,
		metrics:  m,
	}
}

// OnResult registers fn to be called after every page. fn runs on the
// indexing goroutines and must be safe for concurrent use. Must be called
// before Start or Index.
func (c *Coordinator) OnResult(fn func(Result)) {
	c.notify = fn
}

// Start indexes the open tabs of src immediately, then every interval. A
// non-positive interval indexes once. Call with a cancellable context.
func (c *Coordinator) Start(ctx context.Context, src browser.Source, interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.indexTabs(ctx, src)
		if interval <= 0 {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.indexTabs(ctx, src)
			}
		}
	}()
}

// Wait blocks until the background goroutine exits.
// Call after canceling the context passed to Start.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) indexTabs(ctx context.Context, src browser.Source) {
	snap, err := src.Load(ctx)
	if err != nil {
		logging.Warn("indexer: load snapshot", "err", err)
		return
	}
	var urls []string
	for _, t := range snap.Tabs {
		if strings.HasPrefix(t.URL, "http") {
			urls = append(urls, t.URL)
		}
	}
	c.Index(ctx, urls)
}

// Index fetches and indexes urls in parallel. Results are in input order.
// Per-page failures are reported in the results, never as a group error.
func (c *Coordinator) Index(ctx context.Context, urls []string) []Result {
	start := time.Now()
	c.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindIndexStart, Comp: "indexer", Count: len(urls)})

	results := make([]Result, len(urls))
	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)

	for i, url := range urls {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = c.finish(Result{URL: url, Outcome: OutcomeFailed, Err: ctx.Err()})
				return nil
			}
			results[i] = c.indexURL(ctx, url)
			return nil // never fail the group - errors reported per-page
		})
	}
	_ = g.Wait()

	indexed := 0
	for _, r := range results {
		if r.Outcome == OutcomeIndexed {
			indexed++
		}
	}
	c.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindIndexComplete, Comp: "indexer", Count: indexed, Dur: time.Since(start)})
	return results
}

func (c *Coordinator) indexURL(ctx context.Context, url string) Result {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	page, err := c.fetcher.Page(fetchCtx, url)
	if err != nil {
		return c.finish(Result{URL: url, Outcome: OutcomeFailed, Err: err})
	}
	page.URL = url
	return c.IndexPage(ctx, page)
}

// IndexPage stores page unless the cache already holds the same content
// hash and a vector, then embeds it.
func (c *Coordinator) IndexPage(ctx context.Context, page fetch.Page) Result {
	hash := page.ContentHash()

	existing, err := c.store.Get(page.URL)
	switch {
	case err == nil:
		if existing.ContentHash == hash && len(existing.Embedding) > 0 {
			return c.finish(Result{URL: page.URL, Outcome: OutcomeUnchanged, Embedded: true})
		}
	case !errors.Is(err, store.ErrNotFound):
		return c.finish(Result{URL: page.URL, Outcome: OutcomeFailed, Err: err})
	}

	return c.save(ctx, page, hash)
}

// Reindex stores page and re-embeds it whether or not it changed. Used when
// the user edits a page's metadata by hand.
func (c *Coordinator) Reindex(ctx context.Context, page fetch.Page) Result {
	return c.save(ctx, page, page.ContentHash())
}

func (c *Coordinator) save(ctx context.Context, page fetch.Page, hash string) Result {
	err := c.store.SaveToCache(page.URL, store.Patch{
		Title:       &page.Title,
		Description: &page.Description,
		Headings:    &page.Headings,
		ContentHash: &hash,
	})
	if err != nil {
		return c.finish(Result{URL: page.URL, Outcome: OutcomeFailed, Err: err})
	}

	r := Result{URL: page.URL, Outcome: OutcomeIndexed}
	if c.embedder == nil {
		return c.finish(r)
	}

	vec, err := c.embedder.EmbedRecord(ctx, page.Title, page.Description)
	if err != nil {
		// Metadata is saved; search embeds the page lazily later.
		logging.Warn("indexer: embed page", "url", page.URL, "err", err)
		c.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindEmbedError, Comp: "indexer", URL: page.URL, Err: err.Error()})
		return c.finish(r)
	}
	if len(vec) == 0 {
		return c.finish(r)
	}
	if err := c.store.SaveEmbedding(page.URL, vec); err != nil {
		return c.finish(Result{URL: page.URL, Outcome: OutcomeFailed, Err: err})
	}
	r.Embedded = true
	return c.finish(r)
}

// finish records r in events and metrics and notifies the listener.
func (c *Coordinator) finish(r Result) Result {
	ev := otel.Event{Comp: "indexer", URL: r.URL, Msg: string(r.Outcome)}
	switch r.Outcome {
	case OutcomeIndexed:
		ev.Level, ev.Kind = otel.LevelInfo, otel.KindIndexPage
	case OutcomeUnchanged:
		ev.Level, ev.Kind = otel.LevelDebug, otel.KindIndexSkip
	default:
		ev.Level, ev.Kind = otel.LevelWarn, otel.KindIndexError
		if r.Err != nil {
			ev.Err = r.Err.Error()
		}
	}
	c.events.Emit(ev)
	c.metrics.IncPage(string(r.Outcome))

	if c.notify != nil {
		c.notify(r)
	}
	return r
}
