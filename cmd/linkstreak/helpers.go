package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abelbrown/linkstreak/internal/browser"
	"github.com/abelbrown/linkstreak/internal/config"
	"github.com/abelbrown/linkstreak/internal/embed"
	"github.com/abelbrown/linkstreak/internal/fetch"
	"github.com/abelbrown/linkstreak/internal/indexer"
	"github.com/abelbrown/linkstreak/internal/logging"
	"github.com/abelbrown/linkstreak/internal/metrics"
	"github.com/abelbrown/linkstreak/internal/otel"
	"github.com/abelbrown/linkstreak/internal/search"
	"github.com/abelbrown/linkstreak/internal/store"
)

// app bundles what a subcommand needs. Build it with setup and release it
// with close.
type app struct {
	cfg      *config.Config
	store    *store.Store
	events   *otel.Logger
	ring     *otel.RingBuffer
	eventsF  *os.File
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	provider *embed.Provider
	source   browser.Source
	engine   *search.Engine
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "linkstreak: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig reads .env files, the YAML config and environment overrides,
// exiting on any validation error. LINKSTREAK_CONFIG selects the file.
func loadConfig() *config.Config {
	if err := config.LoadDotEnv(".env", filepath.Join(config.DefaultDataDir(), ".env")); err != nil {
		fatalf("load .env: %v", err)
	}
	cfg, errs := config.Load(os.Getenv("LINKSTREAK_CONFIG"))
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fatalf("create data directory: %v", err)
	}
	return cfg
}

// setup loads config and opens the store, event log, metrics and engine.
func setup() *app {
	cfg := loadConfig()

	if err := logging.Init(cfg.DataDir, logging.ParseLevel(cfg.LogLevel)); err != nil {
		fatalf("init logging: %v", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fatalf("open database: %v", err)
	}

	a := &app{cfg: cfg, store: st, ring: otel.NewRingBuffer(otel.DefaultRingSize)}

	f, err := os.OpenFile(cfg.Events.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logging.Warn("Event log unavailable, discarding events", "path", cfg.Events.Path, "error", err)
		a.events = otel.NewNullLogger()
	} else {
		a.eventsF = f
		a.events = otel.NewLogger(f)
	}
	a.events.SetRingBuffer(a.ring)
	st.SetEvents(a.events)
	a.events.Emit(otel.Event{Kind: otel.KindStartup, Comp: "main", Msg: os.Args[0]})

	a.metrics = metrics.NewMetrics()
	a.registry = prometheus.NewRegistry()
	if err := a.metrics.Register(a.registry); err != nil {
		logging.Warn("Metrics registration failed", "error", err)
	}

	a.provider = embed.NewProvider(newEmbedder(cfg.Embed))
	a.source = newSource(cfg.Browser)
	a.engine = search.New(st, a.source, a.provider, search.Options{
		Events:           a.events,
		Metrics:          a.metrics,
		EmbedConcurrency: cfg.Search.EmbedConcurrency,
	})
	return a
}

func (a *app) close() {
	a.events.Emit(otel.Event{Kind: otel.KindShutdown, Comp: "main"})
	a.events.Close()
	if a.eventsF != nil {
		a.eventsF.Close()
	}
	if err := a.store.Close(); err != nil {
		logging.Error("Failed to close store", "error", err)
	}
	logging.Close()
}

// newIndexer wires the page fetcher and provider into a coordinator.
func (a *app) newIndexer() *indexer.Coordinator {
	f := fetch.NewFetcher(a.cfg.Index.FetchTimeout)
	f.SetHostInterval(a.cfg.Index.HostInterval)
	return indexer.NewCoordinator(a.store, f, a.provider, a.events, a.metrics)
}

func newEmbedder(c config.EmbedConfig) embed.Embedder {
	if c.Provider == config.ProviderJina {
		return embed.NewJinaEmbedder(c.JinaAPIKey, c.JinaModel)
	}
	return embed.NewOllamaEmbedder(c.OllamaURL, c.OllamaModel)
}

// newSource reads the extension's snapshot file. Without one, searches only
// see an empty browser.
func newSource(c config.BrowserConfig) browser.Source {
	if c.Snapshot == "" {
		logging.Warn("No browser snapshot configured; set browser.snapshot or LINKSTREAK_SNAPSHOT")
		return browser.Snapshot{}
	}
	return browser.FileSource{Path: c.Snapshot}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// truncate shortens a string to max runes, appending "..." if truncated.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
