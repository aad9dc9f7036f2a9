package ui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/linkstreak/internal/health"
	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/rank"
	"github.com/abelbrown/linkstreak/internal/search"
	"github.com/abelbrown/linkstreak/internal/settings"
)

// mockCmd records calls to the injected command functions.
type mockCmd struct {
	searches []search.Request
	filters  []settings.FilterState
	seqs     []int
	blocked  string
	domain   string
}

func (m *mockCmd) search(seq int, req search.Request, fs settings.FilterState) tea.Cmd {
	m.seqs = append(m.seqs, seq)
	m.searches = append(m.searches, req)
	m.filters = append(m.filters, fs)
	return func() tea.Msg { return ResultsLoaded{Seq: seq, Set: testSet()} }
}

func (m *mockCmd) blockURL(set *search.ResultSet, url, title string) tea.Cmd {
	m.blocked = url
	return func() tea.Msg { return Blocked{Target: url, Set: set.WithoutURL(url)} }
}

func (m *mockCmd) blockDomain(set *search.ResultSet, url string) tea.Cmd {
	m.domain = url
	return nil
}

func result(url, title string, src link.Source, final, recency float64) rank.Result {
	return rank.Result{
		Link:       link.Candidate{URL: url, Title: title, Source: src, Tracked: true},
		FinalScore: final,
		Components: rank.Components{Semantic: final, Recency: recency, DensityMultiplier: 1, PoisonMultiplier: 1, QualityScalar: 1},
		Health:     health.Score{Score: 80, Notes: []health.Note{{Type: health.Pass, Text: "Strong Title"}}},
	}
}

func testSet() *search.ResultSet {
	return search.NewResultSet([]rank.Result{
		result("https://go.dev/doc", "Go docs", link.SourceTabs, 0.9, 0.1),
		result("https://pkg.go.dev/std", "Standard library", link.SourceHistory, 0.7, 0.9),
		result("https://blog.example.com/post", "A blog post", link.SourceBookmarks, 0.5, 0.5),
	}, rank.ByFinalScore)
}

func newTestApp(m *mockCmd) App {
	app := NewAppWithConfig(AppConfig{
		Search:      m.search,
		BlockURL:    m.blockURL,
		BlockDomain: m.blockDomain,
	})
	app.ready = true
	app.width = 100
	app.height = 30
	return app
}

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func update(app App, msg tea.Msg) App {
	model, _ := app.Update(msg)
	return model.(App)
}

// send applies msg and feeds any ResultsLoaded/Blocked produced by the
// returned command back into the model. Only use it for keys whose command
// returns immediately.
func send(t *testing.T, app App, msg tea.Msg) App {
	t.Helper()
	model, cmd := app.Update(msg)
	app = model.(App)
	if cmd == nil {
		return app
	}
	switch out := cmd().(type) {
	case ResultsLoaded, Blocked:
		model, _ = app.Update(out)
		app = model.(App)
	}
	return app
}

// loaded returns an app already showing testSet.
func loaded(m *mockCmd) App {
	app := newTestApp(m)
	model, _ := app.Update(ResultsLoaded{Seq: 0, Set: testSet()})
	return model.(App)
}

func TestAppInitWithoutFocus(t *testing.T) {
	mock := &mockCmd{}
	app := newTestApp(mock)

	if cmd := app.Init(); cmd == nil {
		t.Fatal("Init should return the cursor blink command")
	}
	if len(mock.searches) != 0 {
		t.Error("Init should not search without a focus query")
	}
}

func TestAppInitWithFocus(t *testing.T) {
	mock := &mockCmd{}
	app := NewAppWithConfig(AppConfig{Search: mock.search, Focus: "go generics", Ambient: "work"})

	if app.Init() == nil {
		t.Fatal("Init should return a command")
	}
	if len(mock.searches) != 1 {
		t.Fatalf("searches = %d, want 1", len(mock.searches))
	}
	if got := mock.searches[0]; got.Focus != "go generics" || got.Ambient != "work" {
		t.Errorf("request = %+v", got)
	}
	if !app.searching {
		t.Error("app should be searching after Init")
	}
}

func TestAppResultsLoaded(t *testing.T) {
	app := loaded(&mockCmd{})
	if len(app.Items()) != 3 {
		t.Fatalf("items = %d, want 3", len(app.Items()))
	}
	if app.Items()[0].Link.URL != "https://go.dev/doc" {
		t.Errorf("first = %s", app.Items()[0].Link.URL)
	}
}

func TestAppNavigation(t *testing.T) {
	app := loaded(&mockCmd{})

	steps := []struct {
		key  rune
		want int
	}{
		{'j', 1},
		{'j', 2},
		{'j', 2}, // bottom
		{'k', 1},
		{'g', 0},
		{'k', 0}, // top
		{'G', 2},
	}
	for i, s := range steps {
		model, _ := app.Update(key(s.key))
		app = model.(App)
		if app.Cursor() != s.want {
			t.Errorf("step %d (%c): cursor = %d, want %d", i, s.key, app.Cursor(), s.want)
		}
	}
}

func TestAppNavigationEmpty(t *testing.T) {
	app := newTestApp(&mockCmd{})
	for _, r := range "jkgG" {
		model, _ := app.Update(key(r))
		app = model.(App)
	}
	if app.Cursor() != 0 {
		t.Errorf("cursor = %d, want 0", app.Cursor())
	}
}

func TestAppEditAndSearch(t *testing.T) {
	mock := &mockCmd{}
	app := newTestApp(mock)

	app = update(app, key('/'))
	if !app.editing {
		t.Fatal("/ should start editing")
	}
	for _, r := range "rust" {
		app = update(app, key(r))
	}
	if app.focus.Value() != "rust" {
		t.Fatalf("focus = %q", app.focus.Value())
	}

	// q while editing is text, not quit
	app = update(app, key('q'))
	if app.focus.Value() != "rustq" {
		t.Fatalf("q while editing should be typed, focus = %q", app.focus.Value())
	}
	app.focus.SetValue("rust")

	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	if app.editing {
		t.Error("enter should stop editing")
	}
	if !app.searching {
		t.Error("enter should start a search")
	}
	if len(mock.searches) != 1 || mock.searches[0].Focus != "rust" {
		t.Fatalf("searches = %+v", mock.searches)
	}
	if mock.filters[0].SortBy != string(rank.ByFinalScore) {
		t.Errorf("SortBy = %q", mock.filters[0].SortBy)
	}
}

func TestAppAmbientInput(t *testing.T) {
	mock := &mockCmd{}
	app := newTestApp(mock)
	app.focus.SetValue("go")

	app = update(app, key('a'))
	for _, r := range "home" {
		app = update(app, key(r))
	}
	update(app, tea.KeyMsg{Type: tea.KeyEnter})

	if len(mock.searches) != 1 {
		t.Fatalf("searches = %d", len(mock.searches))
	}
	if got := mock.searches[0]; got.Focus != "go" || got.Ambient != "home" {
		t.Errorf("request = %+v", got)
	}
}

func TestAppEscapeCancelsEditing(t *testing.T) {
	mock := &mockCmd{}
	app := newTestApp(mock)
	app = update(app, key('/'))
	app = update(app, tea.KeyMsg{Type: tea.KeyEsc})
	if app.editing {
		t.Error("esc should stop editing")
	}
	if len(mock.searches) != 0 {
		t.Error("esc should not search")
	}
}

func TestAppEmptyFocusClearsResults(t *testing.T) {
	mock := &mockCmd{}
	app := loaded(mock)

	model, _ := app.Update(key('r'))
	app = model.(App)
	if len(app.Items()) != 0 {
		t.Errorf("items = %d, want 0 for empty focus", len(app.Items()))
	}
	if len(mock.searches) != 0 {
		t.Error("empty focus should not call search")
	}
}

func TestAppDropsOutdatedResults(t *testing.T) {
	mock := &mockCmd{}
	app := newTestApp(mock)
	app.focus.SetValue("go")

	model, _ := app.Update(key('r')) // seq 1
	app = model.(App)
	model, _ = app.Update(key('r')) // seq 2
	app = model.(App)

	model, _ = app.Update(ResultsLoaded{Seq: 1, Set: testSet()})
	app = model.(App)
	if len(app.Items()) != 0 || !app.searching {
		t.Error("results for an older search should be dropped")
	}

	model, _ = app.Update(ResultsLoaded{Seq: 2, Err: search.ErrStale})
	app = model.(App)
	if app.err != nil {
		t.Error("stale searches should not surface as errors")
	}

	model, _ = app.Update(ResultsLoaded{Seq: 2, Set: testSet()})
	app = model.(App)
	if len(app.Items()) != 3 || app.searching {
		t.Errorf("items = %d searching = %v", len(app.Items()), app.searching)
	}
}

func TestAppSearchError(t *testing.T) {
	app := newTestApp(&mockCmd{})
	model, _ := app.Update(ResultsLoaded{Seq: 0, Err: errors.New("provider down")})
	app = model.(App)
	if app.err == nil {
		t.Fatal("error should be stored")
	}
	if !strings.Contains(app.View(), "provider down") {
		t.Error("view should show the error")
	}

	model, _ = app.Update(key('j'))
	app = model.(App)
	if app.err != nil {
		t.Error("key press should dismiss the error")
	}
}

func TestAppSortCycle(t *testing.T) {
	mock := &mockCmd{}
	app := loaded(mock)

	model, _ := app.Update(key('s'))
	app = model.(App)
	if app.sortKey != rank.BySemantic {
		t.Errorf("sortKey = %q, want %q", app.sortKey, rank.BySemantic)
	}
	if len(mock.searches) != 0 {
		t.Error("sorting should not search again")
	}

	// semantic -> semanticRaw -> recency
	for range 2 {
		model, _ = app.Update(key('s'))
		app = model.(App)
	}
	if app.sortKey != rank.ByRecency {
		t.Fatalf("sortKey = %q", app.sortKey)
	}
	if app.Items()[0].Link.URL != "https://pkg.go.dev/std" {
		t.Errorf("first by recency = %s", app.Items()[0].Link.URL)
	}
}

func TestAppBlockURL(t *testing.T) {
	mock := &mockCmd{}
	app := loaded(mock)
	app = send(t, app, key('j'))
	app = send(t, app, key('x'))

	if mock.blocked != "https://pkg.go.dev/std" {
		t.Errorf("blocked = %q", mock.blocked)
	}
	if len(app.Items()) != 2 {
		t.Fatalf("items = %d, want 2 after block", len(app.Items()))
	}
	for _, r := range app.Items() {
		if r.Link.URL == mock.blocked {
			t.Error("blocked URL still listed")
		}
	}
	if app.status != "blocked https://pkg.go.dev/std" {
		t.Errorf("status = %q", app.status)
	}
}

func TestAppBlockDomain(t *testing.T) {
	mock := &mockCmd{}
	app := loaded(mock)
	app = send(t, app, key('X'))
	if mock.domain != "https://go.dev/doc" {
		t.Errorf("domain block = %q", mock.domain)
	}
}

func TestAppBlockError(t *testing.T) {
	app := loaded(&mockCmd{})
	model, _ := app.Update(Blocked{Target: "x", Err: errors.New("disk full")})
	app = model.(App)
	if app.err == nil || len(app.Items()) != 3 {
		t.Error("failed block should keep results and report the error")
	}
}

func TestAppToggleSources(t *testing.T) {
	mock := &mockCmd{}
	initial := settings.FilterState{Sources: map[link.Source]bool{link.SourceBookmarks: false}}
	app := NewAppWithConfig(AppConfig{Search: mock.search, Filters: initial})
	app.focus.SetValue("go")

	model, _ := app.Update(key('2'))
	app = model.(App)
	if len(mock.filters) != 1 {
		t.Fatalf("searches = %d", len(mock.filters))
	}
	fs := mock.filters[0]
	if fs.SourceEnabled(link.SourceHistory) {
		t.Error("2 should disable history")
	}
	if fs.SourceEnabled(link.SourceBookmarks) {
		t.Error("bookmarks should stay disabled")
	}
	if !initial.SourceEnabled(link.SourceHistory) {
		t.Error("toggle must not mutate the caller's map")
	}

	model, _ = app.Update(key('t'))
	app = model.(App)
	if !mock.filters[1].TrackedOnly {
		t.Error("t should enable tracked-only")
	}
}

func TestAppBreakdownToggle(t *testing.T) {
	app := loaded(&mockCmd{})
	model, _ := app.Update(key('b'))
	app = model.(App)
	if !app.showBreakdown {
		t.Fatal("b should show the breakdown")
	}
	view := app.View()
	if !strings.Contains(view, "Strong Title") || !strings.Contains(view, "health 80/100") {
		t.Errorf("breakdown missing from view:\n%s", view)
	}

	model, _ = app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	app = model.(App)
	if app.showBreakdown {
		t.Error("enter should hide the breakdown")
	}
}

func TestAppQuit(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
	}{
		{"q", key('q')},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cmd := newTestApp(&mockCmd{}).Update(tt.msg)
			if cmd == nil {
				t.Fatal("expected quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("expected tea.QuitMsg")
			}
		})
	}
}

func TestAppWindowSize(t *testing.T) {
	app := NewAppWithConfig(AppConfig{})
	model, _ := app.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	app = model.(App)
	if !app.ready || app.width != 120 || app.height != 40 {
		t.Errorf("ready=%v width=%d height=%d", app.ready, app.width, app.height)
	}
}

func TestAppViewNotReady(t *testing.T) {
	if got := NewAppWithConfig(AppConfig{}).View(); got != "Loading..." {
		t.Errorf("View = %q", got)
	}
}

func TestAppView(t *testing.T) {
	app := loaded(&mockCmd{})
	view := app.View()
	for _, want := range []string{"Go docs", "go.dev", "tab", "sort:finalScore", "1/3"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestAppCursorClampedOnReload(t *testing.T) {
	app := loaded(&mockCmd{})
	app.cursor = 2
	small := search.NewResultSet([]rank.Result{result("https://a.example/", "A", link.SourceTabs, 1, 0)}, rank.ByFinalScore)
	model, _ := app.Update(ResultsLoaded{Seq: 0, Set: small})
	app = model.(App)
	if app.Cursor() != 0 {
		t.Errorf("cursor = %d, want 0", app.Cursor())
	}
}
