package ui

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/linkstreak/internal/health"
	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/rank"
)

// RenderResults renders the ranked list, scrolled so the cursor stays
// visible. The output is padded to height lines.
func RenderResults(items []rank.Result, cursor, width, height int) string {
	if height < 1 {
		height = 1
	}
	if len(items) == 0 {
		return padLines(HelpStyle.Render("No results. Press / to search."), height)
	}

	offset := scrollOffset(cursor, len(items), height)
	end := offset + height
	if end > len(items) {
		end = len(items)
	}

	lines := make([]string, 0, height)
	for i := offset; i < end; i++ {
		lines = append(lines, renderResultLine(items[i], i == cursor, width))
	}
	return padLines(strings.Join(lines, "\n"), height)
}

// scrollOffset returns the first visible index, keeping the cursor roughly
// centred once the list is taller than the window.
func scrollOffset(cursor, total, height int) int {
	if height <= 0 || total <= height {
		return 0
	}
	off := cursor - height/2
	if off < 0 {
		off = 0
	}
	if off > total-height {
		off = total - height
	}
	return off
}

func renderResultLine(r rank.Result, selected bool, width int) string {
	score := fmt.Sprintf("%5.3f", r.FinalScore)
	badge := sourceLabel(r.Link.Source)
	host := hostname(r.Link.URL)

	title := r.Link.Title
	if title == "" {
		title = r.Link.URL
	}
	// score, badge padding, separators and host
	titleWidth := width - len(score) - utf8.RuneCountInString(badge) - utf8.RuneCountInString(host) - 8
	if titleWidth < 20 {
		titleWidth = 20
	}
	title = truncateRunes(title, titleWidth)

	if selected {
		plain := fmt.Sprintf("%s [%s] %s  %s", score, badge, title, host)
		return SelectedItem.Width(width).Render(plain)
	}

	titleStyle := NormalItem
	if !r.Link.Tracked {
		titleStyle = UntrackedItem
	}
	return ScoreStyle.Render(score) + " " +
		SourceBadge.Render(badge) +
		titleStyle.Render(title) + " " +
		MetaItem.Render(host)
}

// RenderBreakdown renders the score components, penalties and health notes
// of one result.
func RenderBreakdown(r rank.Result, width int) string {
	c := r.Components
	w := r.ComponentWeights

	lines := []string{
		fmt.Sprintf("semantic  %.3f (raw %.3f x density %.2f) w=%d",
			c.Semantic, c.SemanticRaw, c.DensityMultiplier, w.Semantic),
		fmt.Sprintf("recency   %.3f w=%d   frequency %.3f w=%d   source %+.2f w=%d",
			c.Recency, w.Recency, c.Frequency, w.Frequency, c.SourceBoost, w.Source),
		fmt.Sprintf("poison x%.2f   quality x%.2f   health %d/100   final %.3f",
			c.PoisonMultiplier, c.QualityScalar, r.Health.Score, r.FinalScore),
	}
	if len(r.Penalties) > 0 {
		lines = append(lines, NoteWarn.Render("penalties: "+strings.Join(r.Penalties, ", ")))
	}
	for _, n := range r.Health.Notes {
		lines = append(lines, renderNote(n))
	}
	lines = append(lines, MetaItem.Render(truncateRunes(r.Link.URL, max(width-4, 20))))

	if width < 24 {
		width = 24
	}
	return BreakdownPanel.Width(width).Render(strings.Join(lines, "\n"))
}

func renderNote(n health.Note) string {
	switch n.Type {
	case health.Pass:
		return NotePass.Render("+ " + n.Text)
	case health.Warn:
		return NoteWarn.Render("~ " + n.Text)
	default:
		return NoteFail.Render("- " + n.Text)
	}
}

// StatusInfo is what the status bar shows.
type StatusInfo struct {
	Cursor    int
	Total     int
	Sort      rank.SortKey
	Searching string // spinner frame while a search is in flight
	Text      string // transient message, e.g. "blocked example.com"
	Editing   bool
}

// RenderStatusBar renders the bottom status bar with key hints.
func RenderStatusBar(s StatusInfo, width int) string {
	var left string
	switch {
	case s.Searching != "":
		left = fmt.Sprintf(" %s searching... ", s.Searching)
	case s.Text != "":
		left = " " + s.Text + " "
	case s.Total == 0:
		left = " 0/0 "
	default:
		left = fmt.Sprintf(" %d/%d ", s.Cursor+1, s.Total)
	}
	left += StatusBarText.Render("sort:" + string(s.Sort))

	var keys []string
	if s.Editing {
		keys = []string{
			StatusBarKey.Render("Enter") + StatusBarText.Render(":search"),
			StatusBarKey.Render("Tab") + StatusBarText.Render(":focus/ambient"),
			StatusBarKey.Render("Esc") + StatusBarText.Render(":done"),
		}
	} else {
		keys = []string{
			StatusBarKey.Render("j/k") + StatusBarText.Render(":nav"),
			StatusBarKey.Render("/") + StatusBarText.Render(":query"),
			StatusBarKey.Render("s") + StatusBarText.Render(":sort"),
			StatusBarKey.Render("b") + StatusBarText.Render(":why"),
			StatusBarKey.Render("x/X") + StatusBarText.Render(":block"),
			StatusBarKey.Render("1-3") + StatusBarText.Render(":sources"),
			StatusBarKey.Render("t") + StatusBarText.Render(":tracked"),
			StatusBarKey.Render("D") + StatusBarText.Render(":debug"),
			StatusBarKey.Render("q") + StatusBarText.Render(":quit"),
		}
	}
	keyHints := strings.Join(keys, " ")

	padding := width - lipgloss.Width(left) - lipgloss.Width(keyHints)
	if padding < 0 {
		padding = 0
	}
	return StatusBar.Width(width).Render(left + strings.Repeat(" ", padding) + keyHints)
}

func sourceLabel(s link.Source) string {
	switch s {
	case link.SourceTabs:
		return "tab"
	case link.SourceHistory:
		return "hist"
	case link.SourceBookmarks:
		return "bmk"
	default:
		return string(s)
	}
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}

// truncateRunes shortens s to at most n runes, ending in "..." when cut.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func padLines(s string, height int) string {
	n := strings.Count(s, "\n") + 1
	if n >= height {
		return s
	}
	return s + strings.Repeat("\n", height-n)
}
