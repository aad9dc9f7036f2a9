package store

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/abelbrown/linkstreak/internal/otel"
	"github.com/abelbrown/linkstreak/internal/settings"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func str(s string) *string { return &s }

func TestOpen(t *testing.T) {
	st := openTest(t)

	for _, table := range []string{"metadata", "kv"} {
		var name string
		err := st.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("%s table not created: %v", table, err)
		}
	}
}

func TestMigrationIdempotent(t *testing.T) {
	st := openTest(t)
	if err := st.createTables(); err != nil {
		t.Fatalf("second createTables: %v", err)
	}
}

func TestSaveToCacheAndGet(t *testing.T) {
	st := openTest(t)

	err := st.SaveToCache("https://go.dev/", Patch{
		Title:       str("Go"),
		Description: str("The Go programming language"),
		Headings:    str("Build | Learn"),
		ContentHash: str("abc"),
		Embedding:   []float32{0.1, -0.2, 0.3},
	})
	if err != nil {
		t.Fatalf("SaveToCache: %v", err)
	}

	e, err := st.Get("https://go.dev/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Title != "Go" || e.Description != "The Go programming language" || e.Headings != "Build | Learn" || e.ContentHash != "abc" {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Embedding) != 3 || e.Embedding[1] != -0.2 {
		t.Errorf("embedding = %v", e.Embedding)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if e.IsLocal != nil {
		t.Errorf("IsLocal = %v, want nil", *e.IsLocal)
	}
}

func TestGetMissing(t *testing.T) {
	st := openTest(t)
	_, err := st.Get("https://nowhere/")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveToCacheMerges(t *testing.T) {
	st := openTest(t)

	if err := st.SaveToCache("u", Patch{Title: str("T"), Description: str("D")}); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveEmbedding("u", []float32{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveToCache("u", Patch{Description: str("")}); err != nil {
		t.Fatal(err)
	}

	e, err := st.Get("u")
	if err != nil {
		t.Fatal(err)
	}
	if e.Title != "T" {
		t.Errorf("Title = %q, want kept", e.Title)
	}
	if e.Description != "" {
		t.Errorf("Description = %q, want explicitly cleared", e.Description)
	}
	if len(e.Embedding) != 2 {
		t.Errorf("Embedding = %v, want kept", e.Embedding)
	}
}

func TestEvictionInsertionOrder(t *testing.T) {
	st := openTest(t)

	for i := 0; i < MaxEntries; i++ {
		if err := st.SaveToCache(fmt.Sprintf("u%03d", i), Patch{Title: str("t")}); err != nil {
			t.Fatal(err)
		}
	}
	// Updating the oldest entry does not move it to the back.
	if err := st.SaveToCache("u000", Patch{Title: str("updated")}); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveToCache("new", Patch{Title: str("n")}); err != nil {
		t.Fatal(err)
	}

	n, err := st.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != MaxEntries {
		t.Errorf("Count = %d, want %d", n, MaxEntries)
	}
	if _, err := st.Get("u000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest entry not evicted: %v", err)
	}
	if _, err := st.Get("u001"); err != nil {
		t.Errorf("second entry evicted: %v", err)
	}

	entries, err := st.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].URL != "u001" || entries[len(entries)-1].URL != "new" {
		t.Errorf("order: first %s last %s", entries[0].URL, entries[len(entries)-1].URL)
	}
}

func TestUpdateMetadata(t *testing.T) {
	st := openTest(t)

	if err := st.UpdateMetadata("missing", Patch{Title: str("x")}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing url: err = %v, want ErrNotFound", err)
	}

	if err := st.SaveToCache("u", Patch{Title: str("old")}); err != nil {
		t.Fatal(err)
	}
	before, _ := st.Get("u")
	if err := st.UpdateMetadata("u", Patch{Title: str("new"), Headings: str("H")}); err != nil {
		t.Fatal(err)
	}
	after, _ := st.Get("u")
	if after.Title != "new" || after.Headings != "H" {
		t.Errorf("after = %+v", after)
	}
	if !after.Timestamp.Equal(before.Timestamp) {
		t.Error("UpdateMetadata changed the timestamp")
	}
}

func TestSetLocalFlags(t *testing.T) {
	st := openTest(t)

	if err := st.SaveToCache("known", Patch{Title: str("K")}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetLocalFlags(map[string]bool{"known": false, "fresh": true}); err != nil {
		t.Fatal(err)
	}

	known, _ := st.Get("known")
	if known.IsLocal == nil || *known.IsLocal || known.Title != "K" {
		t.Errorf("known = %+v", known)
	}
	fresh, err := st.Get("fresh")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.IsLocal == nil || !*fresh.IsLocal || !fresh.Timestamp.IsZero() {
		t.Errorf("fresh = %+v", fresh)
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, math.MaxFloat32, math.SmallestNonzeroFloat32, float32(math.Inf(1))}
	out := deserializeEmbedding(serializeEmbedding(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if deserializeEmbedding([]byte{1, 2, 3}) != nil {
		t.Error("odd-length blob should decode to nil")
	}
}

func TestExportImportPreservesOrder(t *testing.T) {
	src := openTest(t)
	for _, u := range []string{"https://c/", "https://a/", "https://b/"} {
		if err := src.SaveToCache(u, Patch{Title: str(u), Embedding: []float32{1, 0}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := src.SetLocalFlags(map[string]bool{"https://a/": false}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := src.Export(&buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	out := buf.String()
	if !(strings.Index(out, "https://c/") < strings.Index(out, "https://a/") && strings.Index(out, "https://a/") < strings.Index(out, "https://b/")) {
		t.Errorf("export not in insertion order: %s", out)
	}

	dst := openTest(t)
	n, err := dst.Import(&buf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 3 {
		t.Errorf("imported %d, want 3", n)
	}
	entries, err := dst.Entries()
	if err != nil {
		t.Fatal(err)
	}
	got := []string{entries[0].URL, entries[1].URL, entries[2].URL}
	if got[0] != "https://c/" || got[1] != "https://a/" || got[2] != "https://b/" {
		t.Errorf("imported order = %v", got)
	}
	a, _ := dst.Get("https://a/")
	if a.IsLocal == nil || *a.IsLocal || len(a.Embedding) != 2 {
		t.Errorf("a = %+v", a)
	}
	orig, _ := src.Get("https://a/")
	if !a.Timestamp.Equal(orig.Timestamp) {
		t.Errorf("timestamp %v, want %v", a.Timestamp, orig.Timestamp)
	}
}

func TestImportLegacyShape(t *testing.T) {
	st := openTest(t)
	data := `{"https://x/":{"title":"X","h1":"Old heading","embedding":[0.5,0.5],"timestamp":1700000000000}}`
	if _, err := st.Import(strings.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	e, err := st.Get("https://x/")
	if err != nil {
		t.Fatal(err)
	}
	if e.H1 != "Old heading" || e.Timestamp.UnixMilli() != 1700000000000 {
		t.Errorf("entry = %+v", e)
	}
}

func TestImportRejectsNonObject(t *testing.T) {
	st := openTest(t)
	if _, err := st.Import(strings.NewReader(`[1,2]`)); err == nil {
		t.Error("expected error for array input")
	}
}

func TestConcurrentAccess(t *testing.T) {
	st := openTest(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := st.SaveToCache(fmt.Sprintf("u%d", i), Patch{Title: str("t")}); err != nil {
				t.Errorf("SaveToCache: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := st.Entries(); err != nil {
				t.Errorf("Entries: %v", err)
			}
		}()
	}
	wg.Wait()

	if n, _ := st.Count(); n != 10 {
		t.Errorf("Count = %d, want 10", n)
	}
}

func TestWeightsDefaultsAndPartialMerge(t *testing.T) {
	st := openTest(t)

	w, err := st.Weights()
	if err != nil {
		t.Fatal(err)
	}
	if w != settings.DefaultWeights() {
		t.Errorf("fresh store weights = %+v", w)
	}

	// A partially stored object keeps the other defaults.
	if err := st.putJSON(settings.KeyWeights, map[string]any{"signals": map[string]int{"semantic": 0}}); err != nil {
		t.Fatal(err)
	}
	w, err = st.Weights()
	if err != nil {
		t.Fatal(err)
	}
	if w.Signals.Semantic != 0 || w.Signals.Recency != 80 || w.Sources.Tabs != 70 {
		t.Errorf("merged weights = %+v", w)
	}

	w.Sources.History = 0
	if err := st.SaveWeights(w); err != nil {
		t.Fatal(err)
	}
	got, _ := st.Weights()
	if got != w {
		t.Errorf("round trip = %+v, want %+v", got, w)
	}

	w.Sources.Tabs = 200
	if err := st.SaveWeights(w); err == nil {
		t.Error("out-of-range weights should be rejected")
	}
}

func TestRetrievalAndSearchPrefs(t *testing.T) {
	st := openTest(t)

	o, err := st.RetrievalOptions()
	if err != nil || o != settings.DefaultRetrievalOptions() {
		t.Fatalf("defaults = %+v, %v", o, err)
	}
	o.LocalOnly = true
	o.IgnorePinnedTabs = false
	if err := st.SaveRetrievalOptions(o); err != nil {
		t.Fatal(err)
	}
	if got, _ := st.RetrievalOptions(); got != o {
		t.Errorf("retrieval round trip = %+v", got)
	}

	p, _ := st.SearchPrefs()
	if p.Weight != 30 {
		t.Errorf("default influence = %d", p.Weight)
	}
	if err := st.SaveSearchPrefs(settings.SearchPrefs{Weight: 0}); err != nil {
		t.Fatal(err)
	}
	if p, _ := st.SearchPrefs(); p.Weight != 0 {
		t.Errorf("explicit 0 influence lost: %d", p.Weight)
	}
}

func TestPoisonKeywords(t *testing.T) {
	st := openTest(t)

	if err := st.AddPoisonKeyword("Crypto", settings.PoisonSoft); err != nil {
		t.Fatal(err)
	}
	if err := st.AddPoisonKeyword("casino", settings.PoisonHard); err != nil {
		t.Fatal(err)
	}
	if err := st.AddPoisonKeyword("crypto", settings.PoisonMuted); err != nil {
		t.Fatal(err)
	}
	if err := st.AddPoisonKeyword("  ", settings.PoisonSoft); err == nil {
		t.Error("blank keyword accepted")
	}

	kws, err := st.PoisonKeywords()
	if err != nil {
		t.Fatal(err)
	}
	if len(kws) != 2 || kws[0].Word != "Crypto" || kws[0].Level != settings.PoisonMuted || kws[1].Word != "casino" {
		t.Errorf("keywords = %+v", kws)
	}

	if err := st.RemovePoisonKeyword("CRYPTO"); err != nil {
		t.Fatal(err)
	}
	kws, _ = st.PoisonKeywords()
	if len(kws) != 1 || kws[0].Word != "casino" {
		t.Errorf("after remove = %+v", kws)
	}
}

func TestIgnoredPatternsSeeded(t *testing.T) {
	st := openTest(t)

	patterns, err := st.IgnoredPatterns()
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != len(settings.DefaultIgnoredPatterns()) {
		t.Errorf("patterns = %v", patterns)
	}
	_, found, err := st.getRaw(settings.KeyIgnoredPatterns)
	if err != nil || !found {
		t.Errorf("defaults not persisted: found=%v err=%v", found, err)
	}

	if err := st.SaveIgnoredPatterns(nil); err != nil {
		t.Fatal(err)
	}
	patterns, _ = st.IgnoredPatterns()
	if len(patterns) != 0 {
		t.Errorf("cleared patterns re-seeded: %v", patterns)
	}
}

func TestBlockURLAndRestore(t *testing.T) {
	st := openTest(t)

	if err := st.BlockURL("https://spam/", ""); err != nil {
		t.Fatal(err)
	}
	if err := st.BlockURL("https://spam/", "dup"); err != nil {
		t.Fatal(err)
	}
	blocked, _ := st.BlockedURLs()
	if len(blocked) != 1 || blocked[0].Title != "Unknown Page" {
		t.Errorf("blocked = %+v", blocked)
	}

	ignored, err := st.IsURLIgnored("https://spam/")
	if err != nil || !ignored {
		t.Errorf("IsURLIgnored = %v, %v", ignored, err)
	}
	if ignored, _ := st.IsURLIgnored("https://www.google.com/search?q=1"); !ignored {
		t.Error("default pattern not applied")
	}

	if err := st.RestoreURL("https://spam/"); err != nil {
		t.Fatal(err)
	}
	if ignored, _ := st.IsURLIgnored("https://spam/"); ignored {
		t.Error("restored url still ignored")
	}
}

func TestBlockedURLsLegacyStrings(t *testing.T) {
	st := openTest(t)
	if err := st.putJSON(settings.KeyBlockedURLs, []any{"https://old/", map[string]string{"url": "https://new/", "title": "New"}}); err != nil {
		t.Fatal(err)
	}
	blocked, err := st.BlockedURLs()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocked) != 2 || blocked[0] != (settings.BlockedURL{URL: "https://old/", Title: "Unknown Page"}) {
		t.Errorf("blocked = %+v", blocked)
	}
}

func TestBlockDomain(t *testing.T) {
	st := openTest(t)

	added, err := st.BlockDomain("https://news.example.com/a/b?c=d")
	if err != nil || !added {
		t.Fatalf("BlockDomain = %v, %v", added, err)
	}
	added, _ = st.BlockDomain("http://news.example.com/other")
	if added {
		t.Error("second block of the same host added a duplicate pattern")
	}
	added, err = st.BlockDomain("not a url")
	if err != nil || added {
		t.Errorf("malformed url: added=%v err=%v", added, err)
	}

	for url, want := range map[string]bool{
		"https://news.example.com/x": true,
		"http://news.example.com/":   true,
		"https://example.com/":       false,
	} {
		if got, _ := st.IsURLIgnored(url); got != want {
			t.Errorf("IsURLIgnored(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestFilterStateRoundTrip(t *testing.T) {
	st := openTest(t)
	f := settings.FilterState{TrackedOnly: true, SortBy: "recency"}
	if err := st.SaveFilterState(f); err != nil {
		t.Fatal(err)
	}
	got, err := st.FilterState()
	if err != nil || !got.TrackedOnly || got.SortBy != "recency" {
		t.Errorf("FilterState = %+v, %v", got, err)
	}
}

// putRaw stores value under key verbatim, bypassing encoding.
func putRaw(t *testing.T, st *Store, key, value string) {
	t.Helper()
	_, err := st.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func TestDamagedSettingsFallBackToDefaults(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(t *testing.T, st *Store)
	}{
		{"weights string", settings.KeyWeights, `"heavy"`, func(t *testing.T, st *Store) {
			w, err := st.Weights()
			if err != nil || w != settings.DefaultWeights() {
				t.Errorf("Weights = %+v, %v", w, err)
			}
		}},
		{"weights wrong field type", settings.KeyWeights, `{"sources":{"tabs":"high"},"signals":{"semantic":10}}`, func(t *testing.T, st *Store) {
			w, err := st.Weights()
			if err != nil || w != settings.DefaultWeights() {
				t.Errorf("Weights = %+v, %v", w, err)
			}
		}},
		{"retrieval array", settings.KeyRetrieval, `[1,2]`, func(t *testing.T, st *Store) {
			o, err := st.RetrievalOptions()
			if err != nil || o != settings.DefaultRetrievalOptions() {
				t.Errorf("RetrievalOptions = %+v, %v", o, err)
			}
		}},
		{"search prefs string", settings.KeySearchPrefs, `"30"`, func(t *testing.T, st *Store) {
			p, err := st.SearchPrefs()
			if err != nil || p != settings.DefaultSearchPrefs() {
				t.Errorf("SearchPrefs = %+v, %v", p, err)
			}
		}},
		{"filter state number", settings.KeyUserSettings, `42`, func(t *testing.T, st *Store) {
			f, err := st.FilterState()
			if err != nil || f.SortBy != "" || f.Sources != nil || f.TrackedOnly {
				t.Errorf("FilterState = %+v, %v", f, err)
			}
		}},
		{"not json", settings.KeyWeights, `{oops`, func(t *testing.T, st *Store) {
			if _, err := st.Weights(); err != nil {
				t.Errorf("Weights err = %v", err)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := openTest(t)
			putRaw(t, st, tt.key, tt.value)
			tt.check(t, st)
		})
	}
}

func TestPoisonKeywordsSkipDamagedEntries(t *testing.T) {
	st := openTest(t)

	putRaw(t, st, settings.KeyPoisonKeywords, `["spam",{"word":"ads","level":"hard"},{"word":" ","level":"soft"},7,null]`)
	kws, err := st.PoisonKeywords()
	if err != nil {
		t.Fatalf("PoisonKeywords: %v", err)
	}
	if len(kws) != 1 || kws[0] != (settings.PoisonKeyword{Word: "ads", Level: settings.PoisonHard}) {
		t.Errorf("keywords = %+v", kws)
	}

	// Adding rewrites the list without the damaged entries.
	if err := st.AddPoisonKeyword("casino", settings.PoisonSoft); err != nil {
		t.Fatal(err)
	}
	raw, _, _ := st.getRaw(settings.KeyPoisonKeywords)
	if strings.Contains(string(raw), "spam") {
		t.Errorf("stored = %s", raw)
	}

	putRaw(t, st, settings.KeyPoisonKeywords, `["spam","ads"]`)
	kws, err = st.PoisonKeywords()
	if err != nil || len(kws) != 0 {
		t.Errorf("legacy strings = %+v, %v", kws, err)
	}

	putRaw(t, st, settings.KeyPoisonKeywords, `{"word":"x"}`)
	kws, err = st.PoisonKeywords()
	if err != nil || len(kws) != 0 {
		t.Errorf("object instead of list = %+v, %v", kws, err)
	}
}

func TestIgnoredPatternsDamaged(t *testing.T) {
	st := openTest(t)

	putRaw(t, st, settings.KeyIgnoredPatterns, `["*spam*", 3, "about:*"]`)
	patterns, err := st.IgnoredPatterns()
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 2 || patterns[0] != "*spam*" || patterns[1] != "about:*" {
		t.Errorf("patterns = %v", patterns)
	}

	putRaw(t, st, settings.KeyIgnoredPatterns, `"chrome://*"`)
	patterns, err = st.IgnoredPatterns()
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != len(settings.DefaultIgnoredPatterns()) {
		t.Errorf("non-list value should re-seed defaults, got %v", patterns)
	}

	putRaw(t, st, settings.KeyBlockedURLs, `["https://old/", 12, {"title":"no url"}]`)
	blocked, err := st.BlockedURLs()
	if err != nil || len(blocked) != 1 || blocked[0].URL != "https://old/" {
		t.Errorf("blocked = %+v, %v", blocked, err)
	}
}

func TestDamagedValueReported(t *testing.T) {
	st := openTest(t)
	var buf bytes.Buffer
	events := otel.NewLogger(&buf)
	st.SetEvents(events)

	putRaw(t, st, settings.KeyPoisonKeywords, `["spam"]`)
	if _, err := st.PoisonKeywords(); err != nil {
		t.Fatal(err)
	}
	events.Close()

	out := buf.String()
	if !strings.Contains(out, `"kind":"store.corrupt"`) || !strings.Contains(out, settings.KeyPoisonKeywords) {
		t.Errorf("events = %s", out)
	}
}

func TestImportSkipsDamagedEntries(t *testing.T) {
	st := openTest(t)
	data := `{
		"https://a/": {"title": "A", "embedding": [1, 0]},
		"https://legacy/": "just a title",
		"https://num/": 5,
		"https://null/": null,
		"https://bad/": {"title": 7},
		"https://b/": {"title": "B"}
	}`

	n, err := st.Import(strings.NewReader(data))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 3 {
		t.Errorf("imported %d, want 3", n)
	}

	entries, _ := st.Entries()
	var urls []string
	for _, e := range entries {
		urls = append(urls, e.URL)
	}
	if strings.Join(urls, " ") != "https://a/ https://legacy/ https://b/" {
		t.Errorf("order = %v", urls)
	}

	legacy, err := st.Get("https://legacy/")
	if err != nil {
		t.Fatal(err)
	}
	if legacy.Title != "just a title" || legacy.Embedding != nil {
		t.Errorf("legacy entry = %+v", legacy)
	}
	if _, err := st.Get("https://num/"); !errors.Is(err, ErrNotFound) {
		t.Errorf("number value imported: %v", err)
	}
}
