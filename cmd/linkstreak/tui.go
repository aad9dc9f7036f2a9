package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/linkstreak/internal/logging"
	"github.com/abelbrown/linkstreak/internal/search"
	"github.com/abelbrown/linkstreak/internal/settings"
	"github.com/abelbrown/linkstreak/internal/ui"
)

const searchTimeout = 2 * time.Minute

func runTUI() {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	ambient := fs.String("ambient", "", "Background context")
	noIndex := fs.Bool("no-index", false, "Disable background indexing of open tabs")
	fs.Parse(os.Args[1:])

	a := setup()
	defer a.close()

	filters, err := a.store.FilterState()
	if err != nil {
		fatalf("load filters: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := a.newIndexer()
	if !*noIndex && a.cfg.Browser.Snapshot != "" {
		coord.Start(ctx, a.source, a.cfg.Index.Interval)
	}

	cfg := ui.AppConfig{
		Search: func(seq int, req search.Request, state settings.FilterState) tea.Cmd {
			return func() tea.Msg {
				if err := a.store.SaveFilterState(state); err != nil {
					logging.Warn("Failed to save filter state", "error", err)
				}
				sctx, scancel := context.WithTimeout(ctx, searchTimeout)
				defer scancel()
				set, err := a.engine.Search(sctx, req, state)
				return ui.ResultsLoaded{Seq: seq, Set: set, Err: err}
			}
		},
		BlockURL: func(set *search.ResultSet, url, title string) tea.Cmd {
			return func() tea.Msg {
				next, err := a.engine.BlockURL(set, url, title)
				return ui.Blocked{Target: url, Set: next, Err: err}
			}
		},
		BlockDomain: func(set *search.ResultSet, url string) tea.Cmd {
			return func() tea.Msg {
				next, err := a.engine.BlockDomain(set, url)
				return ui.Blocked{Target: "site of " + url, Set: next, Err: err}
			}
		},
		Filters: filters,
		Focus:   strings.Join(fs.Args(), " "),
		Ambient: *ambient,
		Ring:    a.ring,
	}

	p := tea.NewProgram(ui.NewAppWithConfig(cfg), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		logging.Error("TUI exited with error", "error", err)
	}

	cancel()
	coord.Wait()
}
