package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abelbrown/linkstreak/internal/otel"
)

// eventLine is the subset of otel.Event the viewer prints. Decoding into a
// local type keeps old logs readable when the event schema grows.
type eventLine struct {
	Time    time.Time `json:"t"`
	Level   string    `json:"level"`
	Kind    string    `json:"kind"`
	Comp    string    `json:"comp"`
	QueryID string    `json:"qid"`
	DurMs   float64   `json:"dur_ms"`
	Count   int       `json:"count"`
	Source  string    `json:"source"`
	URL     string    `json:"url"`
	Query   string    `json:"query"`
	Dims    int       `json:"dims"`
	Err     string    `json:"err"`
	Msg     string    `json:"msg"`
}

var levelRanks = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// eventFilter selects which lines are printed.
type eventFilter struct {
	kind     string
	minLevel int
	comp     string
	qid      string
	since    time.Time
}

func (f eventFilter) match(ev eventLine) bool {
	switch {
	case f.kind != "" && !strings.HasPrefix(ev.Kind, f.kind):
		return false
	case levelRanks[ev.Level] < f.minLevel:
		return false
	case f.comp != "" && ev.Comp != f.comp:
		return false
	case f.qid != "" && !strings.HasPrefix(ev.QueryID, f.qid):
		return false
	case !f.since.IsZero() && ev.Time.Before(f.since):
		return false
	}
	return true
}

func runEvents() {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	tail := fs.Int("tail", 50, "Number of recent lines to show")
	follow := fs.Bool("f", false, "Follow mode (like tail -f)")
	kind := fs.String("kind", "", "Filter by event kind prefix (e.g. 'search')")
	level := fs.String("level", "", "Minimum level: debug, info, warn, error")
	comp := fs.String("comp", "", "Filter by component name")
	qid := fs.String("qid", "", "Filter by query ID prefix")
	since := fs.Duration("since", 0, "Only events newer than this (e.g. 10m)")
	rawJSON := fs.Bool("json", false, "Output raw JSON lines")
	searches := fs.Bool("searches", false, "Summarize each search's pipeline instead of listing events")
	fs.Parse(os.Args[1:])

	cfg := loadConfig()
	f, err := os.Open(cfg.Events.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		fmt.Fprintf(os.Stderr, "  Event log not found at %s\n", cfg.Events.Path)
		fmt.Fprintf(os.Stderr, "  Run 'linkstreak search', 'tui' or 'serve' first to generate events.\n")
		os.Exit(1)
	}
	defer f.Close()

	filter := eventFilter{kind: *kind, comp: *comp, qid: *qid, minLevel: levelRanks[strings.ToLower(*level)]}
	if *since > 0 {
		filter.since = time.Now().Add(-*since)
	}

	if *searches {
		for _, t := range foldSearchLog(f, *tail, filter) {
			fmt.Println(formatTrace(t))
		}
		return
	}

	emit := func(ev eventLine, raw []byte) {
		if *rawJSON {
			fmt.Println(string(raw))
			return
		}
		fmt.Println(formatEvent(ev))
	}

	for _, l := range lastMatching(f, *tail, filter) {
		emit(l.ev, l.raw)
	}
	if !*follow {
		return
	}

	// Poll for lines appended after the initial read.
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if err != nil {
			return
		}
		line = trimLine(line)
		var ev eventLine
		if len(line) == 0 || json.Unmarshal(line, &ev) != nil {
			continue
		}
		if filter.match(ev) {
			emit(ev, line)
		}
	}
}

func formatEvent(ev eventLine) string {
	lvl := strings.ToUpper(ev.Level)
	if lvl == "" {
		lvl = "?"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s [%-7s] %-20s", ev.Time.Format("15:04:05.000"), lvl, ev.Comp, ev.Kind)

	if ev.Msg != "" {
		b.WriteString(" : " + ev.Msg)
	}
	if ev.DurMs > 0 {
		fmt.Fprintf(&b, " (%.*fms)", durPrecision(ev.DurMs), ev.DurMs)
	}
	if ev.Count > 0 {
		fmt.Fprintf(&b, " n=%d", ev.Count)
	}
	if ev.Dims > 0 {
		fmt.Fprintf(&b, " dims=%d", ev.Dims)
	}
	if ev.Source != "" {
		b.WriteString(" src=" + ev.Source)
	}
	if ev.URL != "" {
		b.WriteString(" url=" + truncate(ev.URL, 60))
	}
	if ev.Query != "" {
		fmt.Fprintf(&b, " q=%q", ev.Query)
	}
	if ev.QueryID != "" && len(ev.QueryID) >= 8 {
		b.WriteString(" qid=" + ev.QueryID[:8])
	}
	if ev.Err != "" {
		b.WriteString(" err=" + ev.Err)
	}
	return b.String()
}

type parsedLine struct {
	ev  eventLine
	raw []byte
}

// lastMatching reads r to the end and returns the last n lines that match.
func lastMatching(r io.Reader, n int, filter eventFilter) []parsedLine {
	if n <= 0 {
		n = 1
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	ring := make([]parsedLine, 0, n)
	for scanner.Scan() {
		raw := scanner.Bytes()
		var ev eventLine
		if len(raw) == 0 || json.Unmarshal(raw, &ev) != nil || !filter.match(ev) {
			continue
		}
		line := parsedLine{ev: ev, raw: append([]byte(nil), raw...)}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring[n-1] = line
		} else {
			ring = append(ring, line)
		}
	}
	return ring
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func durPrecision(ms float64) int {
	switch {
	case ms >= 100:
		return 0
	case ms >= 1:
		return 1
	default:
		return 2
	}
}

// foldSearchLog reads r to the end and returns the last n searches whose
// query ID and start time pass filter.
func foldSearchLog(r io.Reader, n int, filter eventFilter) []otel.SearchTrace {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	var events []otel.Event
	for scanner.Scan() {
		var ev otel.Event
		if json.Unmarshal(scanner.Bytes(), &ev) != nil || ev.QueryID == "" {
			continue
		}
		if filter.qid != "" && !strings.HasPrefix(ev.QueryID, filter.qid) {
			continue
		}
		events = append(events, ev)
	}

	var out []otel.SearchTrace
	for _, t := range otel.FoldSearches(events) {
		if !filter.since.IsZero() && t.Start.Before(filter.since) {
			continue
		}
		out = append(out, t)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func formatTrace(t otel.SearchTrace) string {
	qid := t.QueryID
	if len(qid) > 8 {
		qid = qid[:8]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-9s qid=%s q=%q  %s",
		t.Start.Format("15:04:05.000"), t.Outcome, qid, t.Query, t.Funnel())
	if t.Dur > 0 {
		ms := float64(t.Dur) / float64(time.Millisecond)
		fmt.Fprintf(&b, " (%.*fms)", durPrecision(ms), ms)
	}
	if d := t.DropSummary(); d != "" {
		b.WriteString(" drop[" + d + "]")
	}
	if t.Dims > 0 {
		fmt.Fprintf(&b, " blend=%.2f/%.2f", t.Focus, t.Ambient)
	}
	if t.EmbedErrors > 0 {
		fmt.Fprintf(&b, " embed_err=%d", t.EmbedErrors)
	}
	if t.Err != "" {
		b.WriteString(" err=" + t.Err)
	}
	return b.String()
}
