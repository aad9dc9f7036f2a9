package search

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/linkstreak/internal/browser"
	"github.com/abelbrown/linkstreak/internal/link"
	"github.com/abelbrown/linkstreak/internal/otel"
	"github.com/abelbrown/linkstreak/internal/rank"
	"github.com/abelbrown/linkstreak/internal/settings"
	"github.com/abelbrown/linkstreak/internal/store"
)

// topics are the axes of the fake vector space.
var topics = []string{"golang", "rust", "cooking"}

func topicVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(topics))
	for i, t := range topics {
		if strings.Contains(lower, t) {
			v[i] = 1
		}
	}
	return v
}

// fakeEmbedder maps text onto topic axes.
type fakeEmbedder struct {
	mu        sync.Mutex
	textErr   error
	recordErr map[string]error // by title

	texts   atomic.Int32
	records atomic.Int32
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.texts.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.textErr != nil {
		return nil, f.textErr
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return topicVector(text), nil
}

func (f *fakeEmbedder) EmbedRecord(ctx context.Context, title, description string) ([]float32, error) {
	f.records.Add(1)
	f.mu.Lock()
	err := f.recordErr[title]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title+description) == "" {
		return nil, nil
	}
	return topicVector(title + " " + description), nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestEngine(t *testing.T, snap browser.Snapshot, emb Embedder) (*Engine, *store.Store) {
	t.Helper()
	st := openStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New(st, snap, emb, Options{Now: func() time.Time { return now }})
	return e, st
}

func tabSnapshot() browser.Snapshot {
	return browser.Snapshot{
		Tabs: []browser.Tab{
			{ID: 1, WindowID: 1, URL: "https://go.dev/learn", Title: "Learning golang basics"},
			{ID: 2, WindowID: 1, URL: "https://rust-lang.org/learn", Title: "Learning rust basics"},
			{ID: 3, WindowID: 1, URL: "https://food.example.com/", Title: "Weeknight cooking ideas"},
		},
	}
}

func urls(set *ResultSet) []string {
	var out []string
	for _, r := range set.Items() {
		out = append(out, r.Link.URL)
	}
	return out
}

func TestSearchEmptyFocus(t *testing.T) {
	emb := &fakeEmbedder{}
	e, _ := newTestEngine(t, tabSnapshot(), emb)

	set, err := e.Search(context.Background(), Request{Focus: "   ", Ambient: "rust"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("got %d results, want 0", set.Len())
	}
	if emb.texts.Load() != 0 || emb.records.Load() != 0 {
		t.Error("embedder should not be called for an empty focus")
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	e, _ := newTestEngine(t, tabSnapshot(), &fakeEmbedder{})

	set, err := e.Search(context.Background(), Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	got := urls(set)
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3: %v", len(got), got)
	}
	if got[0] != "https://go.dev/learn" {
		t.Errorf("top result = %s, want go.dev", got[0])
	}
	top := set.Items()[0]
	if top.Score != 1 {
		t.Errorf("top similarity = %v, want 1", top.Score)
	}
	if set.QueryID == "" {
		t.Error("QueryID should be set")
	}
	if set.Key() != rank.ByFinalScore {
		t.Errorf("Key = %s, want finalScore", set.Key())
	}
}

func TestSearchWritesBackEmbeddings(t *testing.T) {
	emb := &fakeEmbedder{}
	e, st := newTestEngine(t, tabSnapshot(), emb)
	ctx := context.Background()

	if _, err := e.Search(ctx, Request{Focus: "golang"}, settings.FilterState{}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if n := emb.records.Load(); n != 3 {
		t.Fatalf("EmbedRecord calls = %d, want 3", n)
	}

	entry, err := st.Get("https://go.dev/learn")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(entry.Embedding) != 3 || entry.Title != "Learning golang basics" {
		t.Errorf("entry = %+v, want title and 3-dim embedding", entry)
	}

	// A second engine over the same store uses the stored vectors.
	emb2 := &fakeEmbedder{}
	e2 := New(st, tabSnapshot(), emb2, Options{})
	set, err := e2.Search(ctx, Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if n := emb2.records.Load(); n != 0 {
		t.Errorf("EmbedRecord calls = %d, want 0 with stored vectors", n)
	}
	for _, r := range set.Items() {
		if !r.Link.Tracked {
			t.Errorf("%s should be tracked after write-back", r.Link.URL)
		}
	}
}

func TestSearchSessionCache(t *testing.T) {
	emb := &fakeEmbedder{}
	e, st := newTestEngine(t, tabSnapshot(), emb)
	ctx := context.Background()

	if _, err := e.Search(ctx, Request{Focus: "golang"}, settings.FilterState{}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	// Drop the stored copy; the session cache still has it.
	if err := st.Delete("https://go.dev/learn"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	before := emb.records.Load()
	if _, err := e.Search(ctx, Request{Focus: "golang"}, settings.FilterState{}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if n := emb.records.Load() - before; n != 0 {
		t.Errorf("EmbedRecord calls = %d, want 0", n)
	}
	if e.SessionCacheLen() != 3 {
		t.Errorf("SessionCacheLen = %d, want 3", e.SessionCacheLen())
	}
}

func TestSearchMergesCachedMetadata(t *testing.T) {
	snap := browser.Snapshot{
		Tabs: []browser.Tab{{ID: 1, WindowID: 1, URL: "https://example.com/a", Title: "Untitled"}},
	}
	emb := &fakeEmbedder{}
	e, st := newTestEngine(t, snap, emb)

	desc := "A long walk through golang concurrency patterns"
	if err := st.SaveToCache("https://example.com/a", store.Patch{Description: &desc}); err != nil {
		t.Fatalf("SaveToCache failed: %v", err)
	}
	if err := st.SaveEmbedding("https://example.com/a", []float32{1, 0, 0}); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}

	set, err := e.Search(context.Background(), Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	items := set.Items()
	if len(items) != 1 {
		t.Fatalf("got %d results, want 1", len(items))
	}
	r := items[0]
	if r.Link.Description != desc || r.Link.Title != "Untitled" || !r.Link.Tracked {
		t.Errorf("merged link = %+v", r.Link)
	}
	if r.Score != 1 {
		t.Errorf("Score = %v, want 1 from stored vector", r.Score)
	}
	if emb.records.Load() != 0 {
		t.Error("stored vector should be used without embedding")
	}
}

func TestSearchIgnoresMismatchedStoredVector(t *testing.T) {
	snap := browser.Snapshot{
		Tabs: []browser.Tab{{ID: 1, WindowID: 1, URL: "https://go.dev/", Title: "golang home"}},
	}
	emb := &fakeEmbedder{}
	e, st := newTestEngine(t, snap, emb)
	if err := st.SaveEmbedding("https://go.dev/", []float32{1, 0}); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}

	set, err := e.Search(context.Background(), Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if set.Len() != 1 || emb.records.Load() != 1 {
		t.Errorf("Len = %d, records = %d; want re-embedded result", set.Len(), emb.records.Load())
	}
}

func TestSearchFocusEmbedFailure(t *testing.T) {
	e, _ := newTestEngine(t, tabSnapshot(), &fakeEmbedder{textErr: errors.New("model offline")})

	set, err := e.Search(context.Background(), Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search error = %v, want nil", err)
	}
	if set.Len() != 0 {
		t.Errorf("got %d results, want 0", set.Len())
	}
}

func TestSearchNilEmbedder(t *testing.T) {
	e, _ := newTestEngine(t, tabSnapshot(), nil)

	set, err := e.Search(context.Background(), Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search error = %v, want nil", err)
	}
	if set.Len() != 0 {
		t.Errorf("got %d results, want 0", set.Len())
	}
}

func TestSearchRecordFailureExcludesOnlyThatCandidate(t *testing.T) {
	emb := &fakeEmbedder{recordErr: map[string]error{"Learning rust basics": errors.New("boom")}}
	e, _ := newTestEngine(t, tabSnapshot(), emb)

	set, err := e.Search(context.Background(), Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	got := urls(set)
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 results", got)
	}
	for _, u := range got {
		if u == "https://rust-lang.org/learn" {
			t.Error("candidate without a vector should be excluded")
		}
	}
}

func TestSearchMutedKeyword(t *testing.T) {
	e, st := newTestEngine(t, tabSnapshot(), &fakeEmbedder{})
	if err := st.AddPoisonKeyword("rust", settings.PoisonMuted); err != nil {
		t.Fatalf("AddPoisonKeyword failed: %v", err)
	}
	if err := st.AddPoisonKeyword("cooking", settings.PoisonHard); err != nil {
		t.Fatalf("AddPoisonKeyword failed: %v", err)
	}

	set, err := e.Search(context.Background(), Request{Focus: "cooking"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	got := urls(set)
	if len(got) != 2 {
		t.Fatalf("got %v, want muted page removed", got)
	}
	for _, r := range set.Items() {
		if r.Link.URL == "https://food.example.com/" && r.Components.PoisonMultiplier != 0.1 {
			t.Errorf("PoisonMultiplier = %v, want 0.1", r.Components.PoisonMultiplier)
		}
	}
}

func TestSearchFilterState(t *testing.T) {
	hist := 1772366400000.0 // 2026-03-01T12:00:00Z
	snap := tabSnapshot()
	snap.History = []browser.HistoryItem{
		{URL: "https://go.dev/blog", Title: "The golang blog", LastVisitTime: &hist},
	}
	e, st := newTestEngine(t, snap, &fakeEmbedder{})
	ctx := context.Background()

	set, err := e.Search(ctx, Request{Focus: "golang"}, settings.FilterState{
		Sources: map[link.Source]bool{link.SourceTabs: false},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if got := urls(set); len(got) != 1 || got[0] != "https://go.dev/blog" {
		t.Errorf("tabs disabled: got %v", got)
	}
	if set.Stats.Disabled != 3 {
		t.Errorf("Stats.Disabled = %d, want 3", set.Stats.Disabled)
	}

	// Only the history page was embedded and written back. Replace it with
	// a single tracked tab.
	if err := st.Delete("https://go.dev/blog"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	title := "Learning golang basics"
	if err := st.SaveToCache("https://go.dev/learn", store.Patch{Title: &title}); err != nil {
		t.Fatalf("SaveToCache failed: %v", err)
	}
	set, err = e.Search(ctx, Request{Focus: "golang"}, settings.FilterState{TrackedOnly: true})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if got := urls(set); len(got) != 1 || got[0] != "https://go.dev/learn" {
		t.Errorf("tracked only: got %v", got)
	}
	if set.Stats.Untracked != 3 {
		t.Errorf("Stats.Untracked = %d, want 3", set.Stats.Untracked)
	}
}

func TestSearchBlockedAndIgnored(t *testing.T) {
	snap := tabSnapshot()
	snap.Tabs = append(snap.Tabs, browser.Tab{ID: 4, WindowID: 1, URL: "chrome://settings", Title: "golang settings"})
	e, st := newTestEngine(t, snap, &fakeEmbedder{})
	if err := st.BlockURL("https://go.dev/learn", "Learning golang basics"); err != nil {
		t.Fatalf("BlockURL failed: %v", err)
	}

	set, err := e.Search(context.Background(), Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, u := range urls(set) {
		if u == "https://go.dev/learn" || strings.HasPrefix(u, "chrome://") {
			t.Errorf("unexpected result %s", u)
		}
	}
	if set.Stats.Ignored != 2 {
		t.Errorf("Stats.Ignored = %d, want 2", set.Stats.Ignored)
	}
}

func TestSearchInfluence(t *testing.T) {
	e, _ := newTestEngine(t, tabSnapshot(), &fakeEmbedder{})
	ctx := context.Background()

	for _, tt := range []struct {
		influence int
		want      string
	}{
		{0, "https://go.dev/learn"},
		{100, "https://rust-lang.org/learn"},
	} {
		inf := tt.influence
		set, err := e.Search(ctx, Request{Focus: "golang", Ambient: "rust", Influence: &inf}, settings.FilterState{})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if got := urls(set); len(got) == 0 || got[0] != tt.want {
			t.Errorf("influence %d: got %v, want %s first", tt.influence, got, tt.want)
		}
	}
}

func TestSearchRedundantAmbientIgnored(t *testing.T) {
	e, _ := newTestEngine(t, tabSnapshot(), &fakeEmbedder{})
	inf := 100

	set, err := e.Search(context.Background(), Request{Focus: "Golang!", Ambient: "golang", Influence: &inf}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if got := urls(set); len(got) == 0 || got[0] != "https://go.dev/learn" {
		t.Errorf("got %v, want go.dev first", got)
	}
}

// phraseEmbedder returns a fixed vector per phrase and counts lookups.
type phraseEmbedder struct {
	vecs  map[string][]float32
	calls map[string]int
}

func (p *phraseEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	p.calls[text]++
	return p.vecs[text], nil
}

func (p *phraseEmbedder) EmbedRecord(ctx context.Context, title, description string) ([]float32, error) {
	return p.vecs[title], nil
}

func TestQueryVectorRedundantAmbientMatchesEmpty(t *testing.T) {
	emb := &phraseEmbedder{
		vecs: map[string][]float32{
			"machine learning basics": {1, 0, 0},
			"machine learning":        {0, 1, 0},
		},
		calls: map[string]int{},
	}
	e, _ := newTestEngine(t, browser.Snapshot{}, emb)
	ctx := context.Background()

	guarded, err := e.queryVector(ctx, e.events.Scope("search", "q1"), "machine learning basics", "machine learning", 30)
	if err != nil {
		t.Fatalf("queryVector: %v", err)
	}
	empty, err := e.queryVector(ctx, e.events.Scope("search", "q2"), "machine learning basics", "", 30)
	if err != nil {
		t.Fatalf("queryVector: %v", err)
	}

	if len(guarded) != len(empty) {
		t.Fatalf("dims %d vs %d", len(guarded), len(empty))
	}
	for i := range empty {
		if guarded[i] != empty[i] {
			t.Errorf("vec[%d] = %v, want %v", i, guarded[i], empty[i])
		}
	}
	if empty[0] != 1 || empty[1] != 0 {
		t.Errorf("empty-ambient vector = %v, want pure focus", empty)
	}
	if emb.calls["machine learning"] != 0 {
		t.Error("redundant ambient should not be embedded")
	}
}

func TestSearchTrace(t *testing.T) {
	snap := tabSnapshot()
	snap.Tabs = append(snap.Tabs, browser.Tab{ID: 4, WindowID: 1, URL: "chrome://settings", Title: "golang settings"})
	st := openStore(t)
	if err := st.AddPoisonKeyword("cooking", settings.PoisonMuted); err != nil {
		t.Fatal(err)
	}
	ring := otel.NewRingBuffer(64)
	events := otel.NewNullLogger()
	events.SetRingBuffer(ring)

	e := New(st, snap, &fakeEmbedder{}, Options{Events: events})
	set, err := e.Search(context.Background(), Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	events.Close()

	tr, ok := ring.LastSearch()
	if !ok {
		t.Fatal("no search in ring")
	}
	if tr.QueryID != set.QueryID || tr.Query != "golang" || tr.Outcome != otel.OutcomeComplete {
		t.Errorf("trace = %+v", tr)
	}
	if tr.Pool != 4 || tr.Kept != 3 || tr.Drops["ignored"] != 1 {
		t.Errorf("filter: pool=%d kept=%d drops=%v", tr.Pool, tr.Kept, tr.Drops)
	}
	if tr.Muted != 1 || tr.Scored != 2 || tr.Results != 2 || tr.Dims != 3 || tr.Focus != 1 {
		t.Errorf("scoring = %+v", tr)
	}
	if got := tr.DropSummary(); got != "ignored=1 muted=1" {
		t.Errorf("DropSummary = %q", got)
	}

	evs := ring.ForQuery(set.QueryID)
	if len(evs) == 0 || evs[0].Kind != otel.KindSearchStart || evs[len(evs)-1].Kind != otel.KindSearchComplete {
		t.Errorf("events = %+v", evs)
	}
	for _, ev := range evs {
		if ev.Comp != "search" {
			t.Errorf("%s comp = %q", ev.Kind, ev.Comp)
		}
	}
}

func TestSearchSurvivesDamagedSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkstreak.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	for key, value := range map[string]string{
		settings.KeyPoisonKeywords:  `["spam","ads"]`,
		settings.KeyWeights:         `"heavy"`,
		settings.KeyRetrieval:       `[1]`,
		settings.KeyIgnoredPatterns: `{"x":1}`,
		settings.KeyBlockedURLs:     `[42]`,
	} {
		if _, err := db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)`, key, value); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New(st, tabSnapshot(), &fakeEmbedder{}, Options{Now: func() time.Time { return now }})
	set, err := e.Search(context.Background(), Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if got := urls(set); len(got) != 3 || got[0] != "https://go.dev/learn" {
		t.Errorf("got %v, want all tabs with go.dev first", got)
	}
}

func TestSearchLearnsLocalFlags(t *testing.T) {
	remote := browser.HistoryItem{
		URL:    "https://go.dev/remote",
		Title:  "golang on another device",
		Visits: []browser.Visit{{VisitTime: 1, IsLocal: false}},
	}
	snap := browser.Snapshot{History: []browser.HistoryItem{remote}}
	e, st := newTestEngine(t, snap, &fakeEmbedder{})
	ctx := context.Background()

	if _, err := e.Search(ctx, Request{Focus: "golang"}, settings.FilterState{}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	entry, err := st.Get(remote.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.IsLocal == nil || *entry.IsLocal {
		t.Errorf("IsLocal = %v, want false", entry.IsLocal)
	}

	opts := settings.DefaultRetrievalOptions()
	opts.LocalOnly = true
	if err := st.SaveRetrievalOptions(opts); err != nil {
		t.Fatalf("SaveRetrievalOptions failed: %v", err)
	}
	set, err := e.Search(ctx, Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("LocalOnly: got %v, want none", urls(set))
	}
}

func TestSearchCancelled(t *testing.T) {
	e, _ := newTestEngine(t, tabSnapshot(), &fakeEmbedder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Search(ctx, Request{Focus: "golang"}, settings.FilterState{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// slowEmbedder blocks EmbedText for the phrase "slow" until released.
type slowEmbedder struct {
	fakeEmbedder
	entered chan struct{}
	release chan struct{}
}

func (s *slowEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "slow golang" {
		close(s.entered)
		<-s.release
	}
	return s.fakeEmbedder.EmbedText(ctx, text)
}

func TestSearchStale(t *testing.T) {
	emb := &slowEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
	e, _ := newTestEngine(t, tabSnapshot(), emb)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := e.Search(ctx, Request{Focus: "slow golang"}, settings.FilterState{})
		errc <- err
	}()
	<-emb.entered

	set, err := e.Search(ctx, Request{Focus: "rust"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("newer Search failed: %v", err)
	}
	if got := urls(set); len(got) == 0 || got[0] != "https://rust-lang.org/learn" {
		t.Errorf("newer search got %v", got)
	}

	close(emb.release)
	if err := <-errc; !errors.Is(err, ErrStale) {
		t.Errorf("older search err = %v, want ErrStale", err)
	}
}

func TestSearchSortKey(t *testing.T) {
	e, _ := newTestEngine(t, tabSnapshot(), &fakeEmbedder{})

	set, err := e.Search(context.Background(), Request{Focus: "golang"}, settings.FilterState{SortBy: "recency"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if set.Key() != rank.ByRecency {
		t.Errorf("Key = %s, want recency", set.Key())
	}
}

func TestEngineBlock(t *testing.T) {
	snap := tabSnapshot()
	snap.Tabs = append(snap.Tabs, browser.Tab{ID: 5, WindowID: 1, URL: "https://go.dev/doc", Title: "golang docs"})
	e, st := newTestEngine(t, snap, &fakeEmbedder{})
	ctx := context.Background()

	set, err := e.Search(ctx, Request{Focus: "golang"}, settings.FilterState{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if set.Len() != 4 {
		t.Fatalf("Len = %d, want 4", set.Len())
	}

	set, err = e.BlockURL(set, "https://rust-lang.org/learn", "Learning rust basics")
	if err != nil {
		t.Fatalf("BlockURL failed: %v", err)
	}
	if set.Len() != 3 {
		t.Errorf("after BlockURL Len = %d, want 3", set.Len())
	}
	if ignored, _ := st.IsURLIgnored("https://rust-lang.org/learn"); !ignored {
		t.Error("blocked URL should be ignored")
	}

	set, err = e.BlockDomain(set, "https://go.dev/learn")
	if err != nil {
		t.Fatalf("BlockDomain failed: %v", err)
	}
	if got := urls(set); len(got) != 1 || got[0] != "https://food.example.com/" {
		t.Errorf("after BlockDomain got %v", got)
	}
	if ignored, _ := st.IsURLIgnored("https://go.dev/anything"); !ignored {
		t.Error("domain pattern should ignore the whole host")
	}

	same, err := e.BlockDomain(set, "not a url")
	if err != nil {
		t.Fatalf("BlockDomain malformed: %v", err)
	}
	if same.Len() != set.Len() {
		t.Error("malformed URL should leave the set unchanged")
	}
}

func TestComputeHealth(t *testing.T) {
	e, st := newTestEngine(t, browser.Snapshot{}, &fakeEmbedder{})

	h, err := e.ComputeHealth("https://nowhere.example/")
	if err != nil {
		t.Fatalf("ComputeHealth failed: %v", err)
	}
	if h.Score != 0 {
		t.Errorf("unknown URL score = %d, want 0", h.Score)
	}

	title := "Effective golang"
	headings := "Intro | Names"
	desc := strings.Repeat("d", 51)
	if err := st.SaveToCache("https://go.dev/doc", store.Patch{Title: &title, Description: &desc, Headings: &headings}); err != nil {
		t.Fatalf("SaveToCache failed: %v", err)
	}
	h, err = e.ComputeHealth("https://go.dev/doc")
	if err != nil {
		t.Fatalf("ComputeHealth failed: %v", err)
	}
	if h.Score != 100 {
		t.Errorf("Score = %d, want 100 (%+v)", h.Score, h.Notes)
	}
}
