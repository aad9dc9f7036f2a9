package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/abelbrown/linkstreak/internal/otel"
)

// debugPanelChrome is the number of terminal lines DebugPanel's border and
// vertical padding take.
const debugPanelChrome = 4

// debugOverlay renders the last search's pipeline, the few before it, and
// the newest events. Returns "" if ring is nil.
func debugOverlay(ring *otel.RingBuffer, width, height int) string {
	if ring == nil {
		return ""
	}

	var lines []string
	searches := ring.Searches(6)
	lines = append(lines, DebugHeaderStyle.Render("Last Search"))
	if len(searches) == 0 {
		lines = append(lines, "  (no searches yet)")
	} else {
		lines = append(lines, traceDetail(searches[len(searches)-1])...)
	}

	if prev := searches[:max(len(searches)-1, 0)]; len(prev) > 0 {
		lines = append(lines, "", DebugHeaderStyle.Render("Earlier"))
		for i := len(prev) - 1; i >= 0; i-- {
			lines = append(lines, traceRow(prev[i]))
		}
	}

	stats := ring.Stats()
	lines = append(lines, "",
		DebugHeaderStyle.Render("Events"),
		fmt.Sprintf("  %d / %d buffered  index %d/%d err  embed err %d  store %d/%d damaged",
			ring.Len(), ring.Cap(),
			stats[otel.KindIndexPage], stats[otel.KindIndexError],
			stats[otel.KindEmbedError],
			stats[otel.KindStoreError], stats[otel.KindStoreCorrupt]))
	for _, e := range ring.Last(8) {
		lines = append(lines, eventRow(e))
	}

	maxHeight := max(height-debugPanelChrome, 1)
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}
	panelWidth := max(min(76, width-4), 20)
	return DebugPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

func traceDetail(t otel.SearchTrace) []string {
	out := []string{
		fmt.Sprintf("  %q  qid:%s  %s %s", truncateRunes(t.Query, 30), shortID(t.QueryID), t.Outcome, formatAge(t.Dur)),
		fmt.Sprintf("  pool → kept → scored → shown   %s", t.Funnel()),
	}
	if d := t.DropSummary(); d != "" {
		out = append(out, "  dropped  "+d)
	}
	if t.Dims > 0 {
		out = append(out, fmt.Sprintf("  query    %d dims  focus %.2f  ambient %.2f", t.Dims, t.Focus, t.Ambient))
	}
	if t.EmbedErrors > 0 {
		out = append(out, fmt.Sprintf("  embed errors %d", t.EmbedErrors))
	}
	if t.Err != "" {
		out = append(out, "  ERR:"+truncateRunes(t.Err, 60))
	}
	return out
}

func traceRow(t otel.SearchTrace) string {
	return fmt.Sprintf("  %-9s %-20s %s  -%d", t.Outcome, truncateRunes(t.Query, 20), t.Funnel(), t.Dropped()+t.Muted)
}

func eventRow(e otel.Event) string {
	line := fmt.Sprintf("  %6s  %-20s", formatAge(time.Since(e.Time)), string(e.Kind))
	if e.Msg != "" {
		line += "  " + truncateRunes(e.Msg, 30)
	}
	if e.Err != "" {
		line += "  ERR:" + truncateRunes(e.Err, 30)
	}
	if e.QueryID != "" {
		line += "  qid:" + shortID(e.QueryID)
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatAge formats a duration compactly. Negative durations from clock skew
// clamp to "0ms".
func formatAge(d time.Duration) string {
	if d < 0 {
		return "0ms"
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
}

// debugStatusBar renders the status bar for the debug overlay.
func debugStatusBar(width int) string {
	keys := StatusBarKey.Render("D") + StatusBarText.Render(":close")
	return StatusBar.Width(width).Render("  [DEBUG]  " + keys)
}
