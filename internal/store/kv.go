package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/abelbrown/linkstreak/internal/filter"
	"github.com/abelbrown/linkstreak/internal/settings"
)

// getRaw returns the JSON stored under key. It reports false when the key
// has never been written.
// Thread-safe: acquires read lock.
func (s *Store) getRaw(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(raw), true, nil
}

// getSetting decodes the object stored under key over def. A value that
// does not decode is reported and def is returned, so a damaged setting
// degrades to its default instead of failing the caller. def must not share
// maps with anything the caller keeps.
func getSetting[T any](s *Store, key string, def T) (T, error) {
	raw, found, err := s.getRaw(key)
	if err != nil {
		var zero T
		return zero, err
	}
	if !found {
		return def, nil
	}
	v := def
	if err := json.Unmarshal(raw, &v); err != nil {
		s.corrupt(key, err)
		return def, nil
	}
	return v, nil
}

// getList decodes the array stored under key one element at a time,
// skipping elements that do not decode. A value that is not an array at all
// is reported and treated as never written.
func getList[T any](s *Store, key string) ([]T, bool, error) {
	raw, found, err := s.getRaw(key)
	if err != nil || !found {
		return nil, false, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		s.corrupt(key, err)
		return nil, false, nil
	}

	out := make([]T, 0, len(items))
	var firstErr error
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, v)
	}
	if skipped := len(items) - len(out); skipped > 0 {
		s.corrupt(key, fmt.Errorf("skipped %d of %d items: %w", skipped, len(items), firstErr))
	}
	return out, true, nil
}

// putJSON stores v under key.
// Thread-safe: acquires write lock.
func (s *Store) putJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(raw))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Weights returns the stored weights deep-merged over the defaults, so a
// partially stored object still yields every field.
func (s *Store) Weights() (settings.Weights, error) {
	p, err := getSetting(s, settings.KeyWeights, settings.WeightsPatch{})
	if err != nil {
		return settings.Weights{}, err
	}
	return settings.DefaultWeights().Merge(p), nil
}

// SaveWeights validates and stores w.
func (s *Store) SaveWeights(w settings.Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return s.putJSON(settings.KeyWeights, w)
}

// RetrievalOptions returns the stored options merged over the defaults.
func (s *Store) RetrievalOptions() (settings.RetrievalOptions, error) {
	p, err := getSetting(s, settings.KeyRetrieval, settings.RetrievalPatch{})
	if err != nil {
		return settings.RetrievalOptions{}, err
	}
	return settings.DefaultRetrievalOptions().Merge(p), nil
}

// SaveRetrievalOptions stores o.
func (s *Store) SaveRetrievalOptions(o settings.RetrievalOptions) error {
	return s.putJSON(settings.KeyRetrieval, o)
}

// SearchPrefs returns the stored search preferences or the defaults.
func (s *Store) SearchPrefs() (settings.SearchPrefs, error) {
	return getSetting(s, settings.KeySearchPrefs, settings.DefaultSearchPrefs())
}

// SaveSearchPrefs stores p.
func (s *Store) SaveSearchPrefs(p settings.SearchPrefs) error {
	return s.putJSON(settings.KeySearchPrefs, p)
}

// FilterState returns the persisted source toggles, tracked-only flag and sort.
func (s *Store) FilterState() (settings.FilterState, error) {
	return getSetting(s, settings.KeyUserSettings, settings.FilterState{})
}

// SaveFilterState stores f.
func (s *Store) SaveFilterState(f settings.FilterState) error {
	return s.putJSON(settings.KeyUserSettings, f)
}

// PoisonKeywords returns the keyword list in the order it was built.
// Entries that are not keyword objects, or have a blank word, are skipped.
func (s *Store) PoisonKeywords() ([]settings.PoisonKeyword, error) {
	kws, _, err := getList[settings.PoisonKeyword](s, settings.KeyPoisonKeywords)
	if err != nil {
		return nil, err
	}
	out := kws[:0]
	for _, k := range kws {
		if strings.TrimSpace(k.Word) != "" {
			out = append(out, k)
		}
	}
	return out, nil
}

// SavePoisonKeywords replaces the keyword list.
func (s *Store) SavePoisonKeywords(kws []settings.PoisonKeyword) error {
	if kws == nil {
		kws = []settings.PoisonKeyword{}
	}
	return s.putJSON(settings.KeyPoisonKeywords, kws)
}

// AddPoisonKeyword appends word, or changes its level if it is already listed
// (case-insensitive). Blank words are rejected.
func (s *Store) AddPoisonKeyword(word string, level settings.PoisonLevel) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return fmt.Errorf("store: empty poison keyword")
	}
	kws, err := s.PoisonKeywords()
	if err != nil {
		return err
	}
	for i := range kws {
		if strings.EqualFold(kws[i].Word, word) {
			kws[i].Level = level
			return s.SavePoisonKeywords(kws)
		}
	}
	return s.SavePoisonKeywords(append(kws, settings.PoisonKeyword{Word: word, Level: level}))
}

// RemovePoisonKeyword deletes word (case-insensitive). Missing words are a no-op.
func (s *Store) RemovePoisonKeyword(word string) error {
	kws, err := s.PoisonKeywords()
	if err != nil {
		return err
	}
	out := kws[:0]
	for _, k := range kws {
		if !strings.EqualFold(k.Word, strings.TrimSpace(word)) {
			out = append(out, k)
		}
	}
	return s.SavePoisonKeywords(out)
}

// IgnoredPatterns returns the wildcard patterns, seeding and persisting the
// defaults on first read. A stored value that is not a list is replaced by
// the defaults.
func (s *Store) IgnoredPatterns() ([]string, error) {
	patterns, found, err := getList[string](s, settings.KeyIgnoredPatterns)
	if err != nil {
		return nil, err
	}
	if !found {
		patterns = settings.DefaultIgnoredPatterns()
		if err := s.SaveIgnoredPatterns(patterns); err != nil {
			return nil, err
		}
	}
	return patterns, nil
}

// SaveIgnoredPatterns replaces the pattern list.
func (s *Store) SaveIgnoredPatterns(patterns []string) error {
	if patterns == nil {
		patterns = []string{}
	}
	return s.putJSON(settings.KeyIgnoredPatterns, patterns)
}

// BlockedURLs returns the per-URL block list. Legacy string entries are
// normalized on read; anything else that is not an entry is skipped.
func (s *Store) BlockedURLs() ([]settings.BlockedURL, error) {
	blocked, _, err := getList[settings.BlockedURL](s, settings.KeyBlockedURLs)
	if err != nil {
		return nil, err
	}
	out := blocked[:0]
	for _, b := range blocked {
		if b.URL != "" {
			out = append(out, b)
		}
	}
	return out, nil
}

// BlockURL adds url to the block list unless it is already there.
func (s *Store) BlockURL(url, title string) error {
	blocked, err := s.BlockedURLs()
	if err != nil {
		return err
	}
	for _, b := range blocked {
		if b.URL == url {
			return nil
		}
	}
	return s.putJSON(settings.KeyBlockedURLs, append(blocked, settings.NewBlockedURL(url, title)))
}

// RestoreURL removes url from the block list.
func (s *Store) RestoreURL(url string) error {
	blocked, err := s.BlockedURLs()
	if err != nil {
		return err
	}
	out := make([]settings.BlockedURL, 0, len(blocked))
	for _, b := range blocked {
		if b.URL != url {
			out = append(out, b)
		}
	}
	return s.putJSON(settings.KeyBlockedURLs, out)
}

// DomainPattern returns the wildcard pattern covering every page on rawURL's
// host, or false if rawURL has no host.
func DomainPattern(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return "*://" + u.Hostname() + "/*", true
}

// BlockDomain adds a pattern for rawURL's host. It reports whether a pattern
// was added; malformed URLs and already-blocked hosts are a no-op.
func (s *Store) BlockDomain(rawURL string) (bool, error) {
	pattern, ok := DomainPattern(rawURL)
	if !ok {
		return false, nil
	}
	patterns, err := s.IgnoredPatterns()
	if err != nil {
		return false, err
	}
	for _, p := range patterns {
		if p == pattern {
			return false, nil
		}
	}
	if err := s.SaveIgnoredPatterns(append(patterns, pattern)); err != nil {
		return false, err
	}
	return true, nil
}

// IgnoreList loads the block list and patterns for the filter pipeline.
func (s *Store) IgnoreList() (*filter.IgnoreList, error) {
	blocked, err := s.BlockedURLs()
	if err != nil {
		return nil, err
	}
	patterns, err := s.IgnoredPatterns()
	if err != nil {
		return nil, err
	}
	return filter.NewIgnoreList(blocked, patterns), nil
}

// IsURLIgnored reports whether url is blocked or matches an ignore pattern.
func (s *Store) IsURLIgnored(url string) (bool, error) {
	l, err := s.IgnoreList()
	if err != nil {
		return false, err
	}
	return l.Ignored(url), nil
}
