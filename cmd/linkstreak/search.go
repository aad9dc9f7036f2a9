package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abelbrown/linkstreak/internal/embed"
	"github.com/abelbrown/linkstreak/internal/health"
	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/rank"
	"github.com/abelbrown/linkstreak/internal/search"
)

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	ambient := fs.String("ambient", "", "Background context blended into the query")
	influence := fs.Int("influence", -1, "Ambient influence 0-100 (default: stored preference)")
	sortBy := fs.String("sort", "", "Sort key: "+sortKeyList())
	sources := fs.String("sources", "", "Comma-separated sources to include (tabs,history,bookmarks)")
	tracked := fs.Bool("tracked", false, "Only pages with a metadata cache entry")
	top := fs.Int("top", 20, "Number of results to print")
	why := fs.Bool("why", false, "Print the score breakdown of each result")
	asJSON := fs.Bool("json", false, "Output the result set as JSON")
	fs.Parse(os.Args[1:])

	focus := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(focus) == "" {
		fmt.Fprintln(os.Stderr, "usage: linkstreak search [flags] <focus query>")
		os.Exit(1)
	}

	a := setup()
	defer a.close()

	filters, err := a.store.FilterState()
	if err != nil {
		fatalf("load filters: %v", err)
	}
	if *sortBy != "" {
		filters.SortBy = string(rank.ParseSortKey(*sortBy))
	}
	if *sources != "" {
		filters.Sources = parseSources(*sources)
	}
	if *tracked {
		filters.TrackedOnly = true
	}

	req := search.Request{Focus: focus, Ambient: *ambient}
	if *influence >= 0 {
		req.Influence = influence
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	t0 := time.Now()
	set, err := a.engine.Search(ctx, req, filters)
	if err != nil {
		fatalf("search: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(set); err != nil {
			fatalf("encode: %v", err)
		}
		return
	}

	st := set.Stats
	fmt.Printf("Candidates: %d in, %d after filters (disabled %d, zero-weight %d, duplicate %d, ignored %d, untracked %d)\n",
		st.In, st.Out, st.Disabled, st.ZeroWeight, st.Duplicate, st.Ignored, st.Untracked)
	fmt.Printf("Scored: %d, sorted by %s in %v\n", set.Len(), set.Key(), time.Since(t0).Round(time.Millisecond))
	fmt.Println(strings.Repeat("=", 80))

	for i, r := range set.Items() {
		if i >= *top {
			break
		}
		title := r.Link.Title
		if title == "" {
			title = r.Link.URL
		}
		fmt.Printf("%3d. %.3f  [%-9s] %s\n", i+1, r.FinalScore, r.Link.Source, truncate(title, 60))
		fmt.Printf("               %s\n", truncate(r.Link.URL, 70))
		if *why {
			printComponents(r)
		}
	}
}

func printComponents(r rank.Result) {
	c, w := r.Components, r.ComponentWeights
	fmt.Printf("               semantic %.3f (raw %.3f, density x%.2f, w=%d)  recency %.3f (w=%d)  frequency %.3f (w=%d)  source %+.2f (w=%d)\n",
		c.Semantic, c.SemanticRaw, c.DensityMultiplier, w.Semantic, c.Recency, w.Recency, c.Frequency, w.Frequency, c.SourceBoost, w.Source)
	fmt.Printf("               poison x%.2f  quality x%.2f  health %d/100\n", c.PoisonMultiplier, c.QualityScalar, r.Health.Score)
	for _, p := range r.Penalties {
		fmt.Printf("               - %s\n", p)
	}
}

func parseSources(list string) map[link.Source]bool {
	out := make(map[link.Source]bool, len(link.Sources))
	for _, s := range link.Sources {
		out[s] = false
	}
	for _, name := range strings.Split(list, ",") {
		src := link.Source(strings.TrimSpace(strings.ToLower(name)))
		if !src.Valid() {
			fatalf("unknown source %q", name)
		}
		out[src] = true
	}
	return out
}

func sortKeyList() string {
	keys := make([]string, len(rank.SortKeys))
	for i, k := range rank.SortKeys {
		keys[i] = string(k)
	}
	return strings.Join(keys, ", ")
}

func runHealth() {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	title := fs.String("title", "", "Rate this title instead of a cached page")
	desc := fs.String("description", "", "Description to rate with --title")
	headings := fs.String("headings", "", "Headings to rate with --title")
	fs.Parse(os.Args[1:])

	var h health.Score
	switch {
	case fs.NArg() == 1:
		a := setup()
		defer a.close()
		var err error
		h, err = a.engine.ComputeHealth(fs.Arg(0))
		if err != nil {
			fatalf("health: %v", err)
		}
	case *title != "" || *desc != "" || *headings != "":
		h = health.Calculate(&health.Meta{Title: *title, Description: *desc, Headings: *headings})
	default:
		fmt.Fprintln(os.Stderr, "usage: linkstreak health <url> | --title T [--description D] [--headings H]")
		os.Exit(1)
	}

	fmt.Printf("Health: %d/100\n", h.Score)
	for _, n := range h.Notes {
		fmt.Printf("  [%-4s] %s\n", n.Type, n.Text)
	}
}

func runExplain() {
	fs := flag.NewFlagSet("explain", flag.ExitOnError)
	ambient := fs.String("ambient", "", "Background context")
	title := fs.String("title", "", "Page title")
	desc := fs.String("description", "", "Page description")
	headings := fs.String("headings", "", "Page headings")
	fs.Parse(os.Args[1:])

	focus := strings.Join(fs.Args(), " ")

	a := setup()
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	x, err := a.engine.Explain(ctx, focus, *ambient, health.Meta{Title: *title, Description: *desc, Headings: *headings})
	switch {
	case errors.Is(err, search.ErrNothingToExplain):
		fmt.Fprintln(os.Stderr, "usage: linkstreak explain [--ambient A] --title T [--description D] <focus query>")
		os.Exit(1)
	case errors.Is(err, embed.ErrUnavailable):
		fatalf("embedding provider unavailable: %v", err)
	case err != nil:
		fatalf("explain: %v", err)
	}

	fmt.Printf("Focus:     %.3f (weight %.2f)\n", x.FocusScore, x.Weights.Focus)
	fmt.Printf("Ambient:   %.3f (weight %.2f)\n", x.AmbientScore, x.Weights.Ambient)
	fmt.Printf("Semantic:  %.3f\n", x.Semantic)
	fmt.Printf("Penalties: density x%.2f  poison x%.2f  quality x%.2f  (-%d%%)\n",
		x.Penalties.Density, x.Penalties.Poison, x.Penalties.Quality, x.Reduction)
	for _, d := range x.Penalties.Details {
		fmt.Printf("  - %s\n", d)
	}
	fmt.Printf("Health:    %d/100\n", x.Health.Score)
	fmt.Printf("Final:     %.3f\n", x.FinalScore)
}
