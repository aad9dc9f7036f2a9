package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abelbrown/linkstreak/internal/fetch"
	"github.com/abelbrown/linkstreak/internal/indexer"
)

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	tabs := fs.Bool("tabs", false, "Index every open tab in the browser snapshot")
	title := fs.String("title", "", "Re-embed one URL from this title instead of fetching it")
	desc := fs.String("description", "", "Description to use with --title")
	headings := fs.String("headings", "", "Headings to use with --title")
	fs.Parse(os.Args[1:])

	urls := fs.Args()
	if len(urls) == 0 && !*tabs {
		fmt.Fprintln(os.Stderr, "usage: linkstreak index [--tabs] <url>... | --title T <url>")
		os.Exit(1)
	}

	a := setup()
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	coord := a.newIndexer()

	if *title != "" {
		if len(urls) != 1 {
			fatalf("--title takes exactly one URL")
		}
		printIndexResult(coord.Reindex(ctx, fetch.Page{URL: urls[0], Title: *title, Description: *desc, Headings: *headings}))
		return
	}

	if *tabs {
		snap, err := a.source.Load(ctx)
		if err != nil {
			fatalf("load snapshot: %v", err)
		}
		for _, t := range snap.Tabs {
			urls = append(urls, t.URL)
		}
	}

	t0 := time.Now()
	var failed int
	for _, r := range coord.Index(ctx, urls) {
		printIndexResult(r)
		if r.Err != nil {
			failed++
		}
	}
	fmt.Printf("\n%d pages, %d failed in %v\n", len(urls), failed, time.Since(t0).Round(time.Millisecond))
}

func printIndexResult(r indexer.Result) {
	mark := " "
	if r.Embedded {
		mark = "*"
	}
	line := fmt.Sprintf("%s %-9s %s", mark, r.Outcome, truncate(r.URL, 70))
	if r.Err != nil {
		line += "  err=" + r.Err.Error()
	}
	fmt.Println(line)
}
