package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/abelbrown/linkstreak/internal/otel"
	"github.com/abelbrown/linkstreak/internal/settings"
)

func runBlock() {
	fs := flag.NewFlagSet("block", flag.ExitOnError)
	domain := fs.Bool("domain", false, "Block every page on the URL's host")
	title := fs.String("title", "", "Title to record with a page block")
	restore := fs.Bool("restore", false, "Remove a page block instead")
	list := fs.Bool("list", false, "List blocked pages")
	fs.Parse(os.Args[1:])

	a := setup()
	defer a.close()

	if *list {
		blocked, err := a.store.BlockedURLs()
		if err != nil {
			fatalf("load blocked: %v", err)
		}
		for _, b := range blocked {
			fmt.Printf("%s  %s\n", b.URL, truncate(b.Title, 50))
		}
		return
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: linkstreak block [--domain | --restore] [--title T] <url> | --list")
		os.Exit(1)
	}
	url := fs.Arg(0)

	switch {
	case *restore:
		if err := a.store.RestoreURL(url); err != nil {
			fatalf("restore: %v", err)
		}
		fmt.Printf("Restored %s\n", url)
	case *domain:
		added, err := a.store.BlockDomain(url)
		if err != nil {
			fatalf("block domain: %v", err)
		}
		if !added {
			fmt.Println("Site already blocked or URL has no host")
			return
		}
		a.metrics.IncBlock("domain")
		a.events.Emit(otel.Event{Kind: otel.KindBlock, Comp: "cli", URL: url, Msg: "domain"})
		fmt.Printf("Blocked site of %s\n", url)
	default:
		if err := a.store.BlockURL(url, *title); err != nil {
			fatalf("block: %v", err)
		}
		a.metrics.IncBlock("url")
		a.events.Emit(otel.Event{Kind: otel.KindBlock, Comp: "cli", URL: url, Msg: "url"})
		fmt.Printf("Blocked %s\n", url)
	}
}

func runWeights() {
	fs := flag.NewFlagSet("weights", flag.ExitOnError)
	reset := fs.Bool("reset", false, "Restore the default weights")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: linkstreak weights [--reset] [name=value ...]")
		fmt.Fprintln(os.Stderr, "  names: tabs history bookmarks recency frequency semantic influence")
	}
	fs.Parse(os.Args[1:])

	a := setup()
	defer a.close()

	w, err := a.store.Weights()
	if err != nil {
		fatalf("load weights: %v", err)
	}
	prefs, err := a.store.SearchPrefs()
	if err != nil {
		fatalf("load search prefs: %v", err)
	}

	if *reset {
		w = settings.DefaultWeights()
		prefs = settings.DefaultSearchPrefs()
	}

	var patch settings.WeightsPatch
	for _, arg := range fs.Args() {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			fs.Usage()
			os.Exit(1)
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			fatalf("%s: %v", name, err)
		}
		if !applyWeight(&patch, &prefs, strings.ToLower(name), v) {
			fatalf("unknown weight %q", name)
		}
	}

	if *reset || fs.NArg() > 0 {
		w = w.Merge(patch)
		if err := w.Validate(); err != nil {
			fatalf("%v", err)
		}
		if prefs.Weight < 0 || prefs.Weight > 100 {
			fatalf("influence must be 0-100, got %d", prefs.Weight)
		}
		if err := a.store.SaveWeights(w); err != nil {
			fatalf("save weights: %v", err)
		}
		if err := a.store.SaveSearchPrefs(prefs); err != nil {
			fatalf("save search prefs: %v", err)
		}
		a.events.Emit(otel.Event{Kind: otel.KindSettingsChange, Comp: "cli", Msg: settings.KeyWeights})
	}

	fmt.Printf("Sources:  tabs %d  history %d  bookmarks %d\n", w.Sources.Tabs, w.Sources.History, w.Sources.Bookmarks)
	fmt.Printf("Signals:  semantic %d  recency %d  frequency %d\n", w.Signals.Semantic, w.Signals.Recency, w.Signals.Frequency)
	fmt.Printf("Context:  influence %d\n", prefs.Weight)
}

func applyWeight(p *settings.WeightsPatch, prefs *settings.SearchPrefs, name string, v int) bool {
	if p.Sources == nil {
		p.Sources = &settings.SourcesPatch{}
	}
	if p.Signals == nil {
		p.Signals = &settings.SignalsPatch{}
	}
	switch name {
	case "tabs":
		p.Sources.Tabs = &v
	case "history":
		p.Sources.History = &v
	case "bookmarks":
		p.Sources.Bookmarks = &v
	case "recency":
		p.Signals.Recency = &v
	case "frequency":
		p.Signals.Frequency = &v
	case "semantic":
		p.Signals.Semantic = &v
	case "influence", "context":
		prefs.Weight = v
	default:
		return false
	}
	return true
}

func runPoison() {
	fs := flag.NewFlagSet("poison", flag.ExitOnError)
	level := fs.String("level", "soft", "soft (x0.3), hard (x0.1) or muted (hidden)")
	remove := fs.Bool("rm", false, "Remove the keyword instead")
	fs.Parse(os.Args[1:])

	a := setup()
	defer a.close()

	switch {
	case fs.NArg() == 0:
		kws, err := a.store.PoisonKeywords()
		if err != nil {
			fatalf("load keywords: %v", err)
		}
		if len(kws) == 0 {
			fmt.Println("No poison keywords")
		}
		for _, kw := range kws {
			fmt.Printf("%-6s %s\n", kw.Level, kw.Word)
		}
		return
	case *remove:
		for _, word := range fs.Args() {
			if err := a.store.RemovePoisonKeyword(word); err != nil {
				fatalf("remove %q: %v", word, err)
			}
		}
	default:
		lvl, err := settings.ParsePoisonLevel(*level)
		if err != nil {
			fatalf("%v", err)
		}
		for _, word := range fs.Args() {
			if err := a.store.AddPoisonKeyword(word, lvl); err != nil {
				fatalf("add %q: %v", word, err)
			}
		}
	}
	a.events.Emit(otel.Event{Kind: otel.KindSettingsChange, Comp: "cli", Msg: settings.KeyPoisonKeywords})
	fmt.Println("Saved")
}

func runPatterns() {
	fs := flag.NewFlagSet("patterns", flag.ExitOnError)
	remove := fs.Bool("rm", false, "Remove the patterns instead")
	reset := fs.Bool("reset", false, "Restore the default patterns")
	fs.Parse(os.Args[1:])

	a := setup()
	defer a.close()

	patterns, err := a.store.IgnoredPatterns()
	if err != nil {
		fatalf("load patterns: %v", err)
	}

	switch {
	case *reset:
		patterns = settings.DefaultIgnoredPatterns()
	case fs.NArg() == 0:
		for _, p := range patterns {
			fmt.Println(p)
		}
		return
	case *remove:
		patterns = slices.DeleteFunc(patterns, func(p string) bool {
			return slices.Contains(fs.Args(), p)
		})
	default:
		for _, p := range fs.Args() {
			if !slices.Contains(patterns, p) {
				patterns = append(patterns, p)
			}
		}
	}

	if err := a.store.SaveIgnoredPatterns(patterns); err != nil {
		fatalf("save patterns: %v", err)
	}
	a.events.Emit(otel.Event{Kind: otel.KindSettingsChange, Comp: "cli", Msg: settings.KeyIgnoredPatterns})
	fmt.Printf("%d patterns\n", len(patterns))
}
