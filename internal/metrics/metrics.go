// Package metrics exposes Prometheus collectors for the ranking engine and
// the indexer. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricSearches       = "linkstreak_searches_total"
	MetricSearchDuration = "linkstreak_search_duration_seconds"
	MetricSearchResults  = "linkstreak_search_results"
	MetricCandidatesDrop = "linkstreak_candidates_dropped_total"
	MetricEmbeddings     = "linkstreak_candidate_embeddings_total"
	MetricPagesIndexed   = "linkstreak_pages_indexed_total"
	MetricCacheEntries   = "linkstreak_metadata_cache_entries"
	MetricProviderReady  = "linkstreak_embed_provider_ready"
	MetricBlocks         = "linkstreak_blocks_total"
)

// Search outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeStale = "stale"
	OutcomeError = "error"
)

// Metrics holds every collector. All operations are thread-safe.
type Metrics struct {
	searches       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	searchResults  prometheus.Histogram
	candidatesDrop *prometheus.CounterVec
	embeddings     *prometheus.CounterVec
	pagesIndexed   *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	providerReady  prometheus.Gauge
	blocks         *prometheus.CounterVec
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSearches,
			Help: "Searches by outcome (ok, empty, stale, error)",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricSearchDuration,
			Help:    "End-to-end search latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricSearchResults,
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 5, 10, 25, 50},
		}),
		candidatesDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCandidatesDrop,
			Help: "Candidates removed by each filter stage",
		}, []string{"stage"}),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEmbeddings,
			Help: "Candidate vectors resolved during search, by origin (stored, session, provider, failed)",
		}, []string{"origin"}),
		pagesIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPagesIndexed,
			Help: "Pages processed by the indexer, by outcome",
		}, []string{"outcome"}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricCacheEntries,
			Help: "Entries in the metadata cache at the last search",
		}),
		providerReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricProviderReady,
			Help: "1 when the embedding provider is ready, 0 otherwise",
		}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBlocks,
			Help: "Pages and sites blocked from results",
		}, []string{"kind"}),
	}
}

// Collectors returns every collector.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.searches,
		m.searchDuration,
		m.searchResults,
		m.candidatesDrop,
		m.embeddings,
		m.pagesIndexed,
		m.cacheEntries,
		m.providerReady,
		m.blocks,
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveSearch records one finished search.
func (m *Metrics) ObserveSearch(outcome string, seconds float64, results int) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(seconds)
	if outcome == OutcomeOK || outcome == OutcomeEmpty {
		m.searchResults.Observe(float64(results))
	}
}

// AddDropped adds n candidates dropped by stage.
func (m *Metrics) AddDropped(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.candidatesDrop.WithLabelValues(stage).Add(float64(n))
}

// IncEmbedding counts one candidate vector by origin.
func (m *Metrics) IncEmbedding(origin string) {
	if m == nil {
		return
	}
	m.embeddings.WithLabelValues(origin).Inc()
}

// IncPage counts one indexed page by outcome.
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.pagesIndexed.WithLabelValues(outcome).Inc()
}

// SetCacheEntries records the metadata cache size.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// SetProviderReady records whether the embedding provider is ready.
func (m *Metrics) SetProviderReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.providerReady.Set(1)
	} else {
		m.providerReady.Set(0)
	}
}

// IncBlock counts one block of the given kind ("url" or "domain").
func (m *Metrics) IncBlock(kind string) {
	if m == nil {
		return
	}
	m.blocks.WithLabelValues(kind).Inc()
}
