package ui

import (
	"errors"
	"maps"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/otel"
	"github.com/abelbrown/linkstreak/internal/rank"
	"github.com/abelbrown/linkstreak/internal/search"
	"github.com/abelbrown/linkstreak/internal/settings"
)

// AppConfig holds the command functions and initial state for the App.
// Every function is optional.
type AppConfig struct {
	// Search runs one search and reports it as ResultsLoaded carrying seq.
	Search func(seq int, req search.Request, fs settings.FilterState) tea.Cmd
	// BlockURL and BlockDomain persist a block and report it as Blocked.
	BlockURL    func(set *search.ResultSet, url, title string) tea.Cmd
	BlockDomain func(set *search.ResultSet, url string) tea.Cmd

	Filters settings.FilterState
	Focus   string // initial focus query; searched on Init when set
	Ambient string
	Ring    *otel.RingBuffer
}

const (
	inputFocus = iota
	inputAmbient
)

// App is the root Bubble Tea model.
// IMPORTANT: App does NOT hold the engine or the store. Results arrive via messages.
type App struct {
	search      func(seq int, req search.Request, fs settings.FilterState) tea.Cmd
	blockURL    func(set *search.ResultSet, url, title string) tea.Cmd
	blockDomain func(set *search.ResultSet, url string) tea.Cmd
	ring        *otel.RingBuffer

	focus   textinput.Model
	ambient textinput.Model
	active  int
	editing bool
	spinner spinner.Model

	filters settings.FilterState
	sortKey rank.SortKey
	set     *search.ResultSet
	items   []rank.Result
	cursor  int

	seq       int // bumped per search; older ResultsLoaded are dropped
	searching bool

	showBreakdown bool
	debugVisible  bool
	status        string
	err           error
	width         int
	height        int
	ready         bool
}

// NewAppWithConfig creates an App from cfg.
func NewAppWithConfig(cfg AppConfig) App {
	focus := textinput.New()
	focus.Prompt = ""
	focus.Placeholder = "what are you working on?"
	focus.CharLimit = 200
	focus.SetValue(cfg.Focus)

	ambient := textinput.New()
	ambient.Prompt = ""
	ambient.Placeholder = "background context (optional)"
	ambient.CharLimit = 200
	ambient.SetValue(cfg.Ambient)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	a := App{
		search:      cfg.Search,
		blockURL:    cfg.BlockURL,
		blockDomain: cfg.BlockDomain,
		ring:        cfg.Ring,
		focus:       focus,
		ambient:     ambient,
		spinner:     sp,
		filters:     cfg.Filters,
		sortKey:     rank.ParseSortKey(cfg.Filters.SortBy),
	}
	a.searching = a.search != nil && strings.TrimSpace(cfg.Focus) != ""
	return a
}

// Init runs the initial search when a focus query was given, otherwise
// starts in the query editor.
func (a App) Init() tea.Cmd {
	if !a.searching {
		return textinput.Blink
	}
	req, fs := a.request()
	return tea.Batch(a.search(a.seq, req, fs), a.spinner.Tick)
}

// Update handles messages and returns the updated model and any commands.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		a.focus.Width = max(msg.Width-14, 10)
		a.ambient.Width = a.focus.Width
		return a, nil

	case spinner.TickMsg:
		if !a.searching {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case ResultsLoaded:
		if msg.Seq != a.seq || errors.Is(msg.Err, search.ErrStale) {
			return a, nil
		}
		a.searching = false
		if msg.Err != nil {
			a.err = msg.Err
			return a, nil
		}
		a.err = nil
		a.setResults(msg.Set)
		return a, nil

	case Blocked:
		if msg.Err != nil {
			a.err = msg.Err
			return a, nil
		}
		a.status = "blocked " + msg.Target
		if msg.Set != nil {
			a.setResults(msg.Set)
		}
		return a, nil
	}

	return a, nil
}

func (a *App) setResults(set *search.ResultSet) {
	a.set = set
	a.items = set.Items()
	if k := set.Key(); k != "" {
		a.sortKey = k
	}
	a.clampCursor()
}

func (a *App) clampCursor() {
	if a.cursor >= len(a.items) {
		a.cursor = len(a.items) - 1
	}
	if a.cursor < 0 {
		a.cursor = 0
	}
}

// runSearch starts a search for the current inputs. An empty focus clears
// the results without searching.
func (a App) runSearch() (App, tea.Cmd) {
	a.seq++
	a.status = ""
	focus := strings.TrimSpace(a.focus.Value())
	if focus == "" || a.search == nil {
		a.searching = false
		a.set = nil
		a.items = nil
		a.cursor = 0
		return a, nil
	}

	req, fs := a.request()
	a.searching = true
	return a, tea.Batch(a.search(a.seq, req, fs), a.spinner.Tick)
}

func (a App) request() (search.Request, settings.FilterState) {
	fs := a.filters
	fs.SortBy = string(a.sortKey)
	return search.Request{
		Focus:   strings.TrimSpace(a.focus.Value()),
		Ambient: strings.TrimSpace(a.ambient.Value()),
	}, fs
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}
	if a.editing {
		return a.handleEditKey(msg)
	}

	// Clear any existing error on key press
	a.err = nil

	switch msg.String() {
	case "q":
		return a, tea.Quit

	case "j", "down":
		if a.cursor < len(a.items)-1 {
			a.cursor++
		}
		return a, nil

	case "k", "up":
		if a.cursor > 0 {
			a.cursor--
		}
		return a, nil

	case "g", "home":
		a.cursor = 0
		return a, nil

	case "G", "end":
		if len(a.items) > 0 {
			a.cursor = len(a.items) - 1
		}
		return a, nil

	case "/":
		return a.startEditing(inputFocus)

	case "a":
		return a.startEditing(inputAmbient)

	case "s":
		a.sortKey = a.sortKey.Next()
		if a.set != nil {
			a.setResults(a.set.Sorted(a.sortKey))
		}
		return a, nil

	case "b", "enter":
		a.showBreakdown = !a.showBreakdown
		return a, nil

	case "x":
		if r, ok := a.selected(); ok && a.blockURL != nil {
			return a, a.blockURL(a.set, r.Link.URL, r.Link.Title)
		}
		return a, nil

	case "X":
		if r, ok := a.selected(); ok && a.blockDomain != nil {
			return a, a.blockDomain(a.set, r.Link.URL)
		}
		return a, nil

	case "t":
		a.filters.TrackedOnly = !a.filters.TrackedOnly
		return a.runSearch()

	case "1", "2", "3":
		src := link.Sources[msg.Runes[0]-'1']
		a.filters.Sources = maps.Clone(a.filters.Sources)
		if a.filters.Sources == nil {
			a.filters.Sources = make(map[link.Source]bool, len(link.Sources))
		}
		a.filters.Sources[src] = !a.filters.SourceEnabled(src)
		return a.runSearch()

	case "r":
		return a.runSearch()

	case "D":
		a.debugVisible = !a.debugVisible
		return a, nil
	}

	return a, nil
}

func (a App) startEditing(which int) (tea.Model, tea.Cmd) {
	a.editing = true
	a.active = which
	a.focus.Blur()
	a.ambient.Blur()
	if which == inputAmbient {
		return a, a.ambient.Focus()
	}
	return a, a.focus.Focus()
}

func (a App) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		a.editing = false
		a.focus.Blur()
		a.ambient.Blur()
		return a.runSearch()

	case "esc":
		a.editing = false
		a.focus.Blur()
		a.ambient.Blur()
		return a, nil

	case "tab", "shift+tab":
		if a.active == inputFocus {
			return a.startEditing(inputAmbient)
		}
		return a.startEditing(inputFocus)
	}

	var cmd tea.Cmd
	if a.active == inputAmbient {
		a.ambient, cmd = a.ambient.Update(msg)
	} else {
		a.focus, cmd = a.focus.Update(msg)
	}
	return a, cmd
}

func (a App) selected() (rank.Result, bool) {
	if a.cursor < 0 || a.cursor >= len(a.items) {
		return rank.Result{}, false
	}
	return a.items[a.cursor], true
}

// View renders the UI.
func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}

	if a.debugVisible {
		return debugOverlay(a.ring, a.width, a.height-1) + "\n" + debugStatusBar(a.width)
	}

	header := QueryBar.Width(a.width).Render(QueryLabel.Render("focus   ") + a.focus.View()) + "\n" +
		QueryBar.Width(a.width).Render(QueryLabel.Render("ambient ") + a.ambient.View())

	breakdown := ""
	if r, ok := a.selected(); ok && a.showBreakdown {
		breakdown = RenderBreakdown(r, a.width) + "\n"
	}

	// Calculate height for content: header (2), status bar (1), error bar and breakdown
	contentHeight := a.height - 3 - strings.Count(breakdown, "\n")
	if a.err != nil {
		contentHeight--
	}
	if contentHeight < 1 {
		contentHeight = 1
	}

	list := RenderResults(a.items, a.cursor, a.width, contentHeight)

	errorBar := ""
	if a.err != nil {
		errorBar = ErrorStyle.Width(a.width).Render("Error: "+a.err.Error()+" (press any key to dismiss)") + "\n"
	}

	info := StatusInfo{
		Cursor:  a.cursor,
		Total:   len(a.items),
		Sort:    a.sortKey,
		Text:    a.status,
		Editing: a.editing,
	}
	if a.searching {
		info.Searching = a.spinner.View()
	}

	return header + "\n" + list + "\n" + breakdown + errorBar + RenderStatusBar(info, a.width)
}

// Cursor returns the current cursor position (for testing).
func (a App) Cursor() int {
	return a.cursor
}

// Items returns the displayed results (for testing).
func (a App) Items() []rank.Result {
	return a.items
}
