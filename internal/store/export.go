package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/abelbrown/linkstreak/internal/logging"
)

// cacheRecord is one value of the linky_vector_cache object.
type cacheRecord struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Headings    *string   `json:"headings,omitempty"`
	H1          *string   `json:"h1,omitempty"`
	ContentHash *string   `json:"contentHash,omitempty"`
	IsLocal     *bool     `json:"isLocal,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Timestamp   int64     `json:"timestamp,omitempty"` // unix millis
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Export writes the metadata cache as a URL-keyed JSON object in insertion
// order, the shape the browser extension stores under linky_vector_cache.
func (s *Store) Export(w io.Writer) error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	bw.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			bw.WriteString(",")
		}
		key, err := json.Marshal(e.URL)
		if err != nil {
			return fmt.Errorf("export %s: %w", e.URL, err)
		}
		rec := cacheRecord{
			Title:       strOrNil(e.Title),
			Description: strOrNil(e.Description),
			Headings:    strOrNil(e.Headings),
			H1:          strOrNil(e.H1),
			ContentHash: strOrNil(e.ContentHash),
			IsLocal:     e.IsLocal,
			Embedding:   e.Embedding,
		}
		if !e.Timestamp.IsZero() {
			rec.Timestamp = e.Timestamp.UnixMilli()
		}
		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("export %s: %w", e.URL, err)
		}
		bw.Write(key)
		bw.WriteString(":")
		bw.Write(val)
	}
	bw.WriteString("}\n")
	return bw.Flush()
}

// decodeRecord reads one cache value. A bare string is a legacy entry
// holding only the page title. It reports false for anything else that is
// not an object.
func decodeRecord(raw json.RawMessage) (cacheRecord, bool, error) {
	var rec cacheRecord
	t := bytes.TrimSpace(raw)
	switch {
	case len(t) > 0 && t[0] == '"':
		var title string
		if err := json.Unmarshal(t, &title); err != nil {
			return rec, false, err
		}
		if title != "" {
			rec.Title = &title
		}
		return rec, true, nil
	case len(t) > 0 && t[0] == '{':
		if err := json.Unmarshal(t, &rec); err != nil {
			return rec, false, err
		}
		return rec, true, nil
	}
	return rec, false, fmt.Errorf("not an object: %.20s", t)
}

// Import merges a linky_vector_cache object into the store, preserving the
// object's key order as insertion order. Entries keep their exported
// timestamps. Values that are neither objects nor legacy title strings are
// skipped and reported. It returns the number of entries imported.
func (s *Store) Import(r io.Reader) (int, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return 0, fmt.Errorf("import: expected object, got %v", tok)
	}

	var order []string
	patches := make(map[string]Patch)
	stamps := make(map[string]int64)
	var skipped int
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return 0, fmt.Errorf("import: %w", err)
		}
		url, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return 0, fmt.Errorf("import %s: %w", url, err)
		}
		rec, ok, err := decodeRecord(raw)
		if !ok || url == "" {
			if err == nil {
				err = errors.New("empty url")
			}
			skipped++
			s.corrupt("linky_vector_cache["+url+"]", err)
			continue
		}
		if _, seen := patches[url]; !seen {
			order = append(order, url)
		}
		patches[url] = Patch{
			Title:       rec.Title,
			Description: rec.Description,
			Headings:    rec.Headings,
			H1:          rec.H1,
			ContentHash: rec.ContentHash,
			IsLocal:     rec.IsLocal,
			Embedding:   rec.Embedding,
		}
		stamps[url] = rec.Timestamp
	}
	if _, err := dec.Token(); err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}

	for _, url := range order {
		// upsert stamps a whole batch with one time, so go one entry at a time.
		if err := s.upsert(map[string]Patch{url: patches[url]}, []string{url}, stamps[url] > 0, time.UnixMilli(stamps[url])); err != nil {
			return 0, err
		}
	}
	if skipped > 0 {
		logging.Warn("Import skipped unreadable entries", "skipped", skipped, "imported", len(order))
	}
	return len(order), nil
}
