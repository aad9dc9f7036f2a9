package main

import (
	"flag"
	"os"

	"github.com/abelbrown/linkstreak/internal/logging"
	"github.com/abelbrown/linkstreak/internal/server"
)

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (default from config)")
	noIndex := fs.Bool("no-index", false, "Disable background indexing of open tabs")
	fs.Parse(os.Args[1:])

	a := setup()
	defer a.close()

	listen := a.cfg.Addr
	if *addr != "" {
		listen = *addr
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Pulls the Ollama model on first run.
	go func() {
		if err := a.provider.Warm(ctx); err != nil {
			logging.Warn("Embedding provider not ready", "error", err)
		}
	}()

	coord := a.newIndexer()
	if !*noIndex && a.cfg.Browser.Snapshot != "" {
		coord.Start(ctx, a.source, a.cfg.Index.Interval)
	}

	srv := server.New(server.Config{
		Engine:   a.engine,
		Indexer:  coord,
		Provider: a.provider,
		Registry: a.registry,
		Metrics:  a.metrics,
		Events:   a.events,
	})
	err := srv.ListenAndServe(ctx, listen)
	cancel()
	coord.Wait()
	if err != nil {
		fatalf("serve: %v", err)
	}
}
