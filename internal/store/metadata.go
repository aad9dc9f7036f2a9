package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Entry is one page in the metadata cache.
type Entry struct {
	URL         string
	Title       string
	Description string
	Headings    string
	H1          string // legacy single heading from older exports
	ContentHash string
	IsLocal     *bool
	Embedding   []float32
	Timestamp   time.Time // zero when the entry was only tagged, never indexed
}

// Patch is a partial Entry. Nil fields leave the stored value unchanged.
type Patch struct {
	Title       *string
	Description *string
	Headings    *string
	H1          *string
	ContentHash *string
	IsLocal     *bool
	Embedding   []float32
}

const entryColumns = `url, title, description, headings, h1, content_hash, is_local, embedding, updated_at`

// upsertSQL merges a patch into an entry, inserting it if absent.
// The last parameter selects whether updated_at is refreshed.
const upsertSQL = `
	INSERT INTO metadata (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		title = COALESCE(excluded.title, metadata.title),
		description = COALESCE(excluded.description, metadata.description),
		headings = COALESCE(excluded.headings, metadata.headings),
		h1 = COALESCE(excluded.h1, metadata.h1),
		content_hash = COALESCE(excluded.content_hash, metadata.content_hash),
		is_local = COALESCE(excluded.is_local, metadata.is_local),
		embedding = COALESCE(excluded.embedding, metadata.embedding),
		updated_at = CASE WHEN ? THEN excluded.updated_at ELSE metadata.updated_at END
`

// Get returns the entry for url, or ErrNotFound.
// Thread-safe: acquires read lock.
func (s *Store) Get(url string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM metadata WHERE url = ?`, url)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// Entries returns every entry in insertion order.
// Thread-safe: acquires read lock.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + entryColumns + ` FROM metadata ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Index returns every entry keyed by URL.
func (s *Store) Index() (map[string]Entry, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	idx := make(map[string]Entry, len(entries))
	for _, e := range entries {
		idx[e.URL] = e
	}
	return idx, nil
}

// Count returns the number of cached entries.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM metadata").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// SaveToCache merges p into the entry for url, creating it if needed, and
// stamps it with the current time. An existing entry keeps its insertion
// position; a new one may evict the oldest entry.
// Thread-safe: acquires write lock.
func (s *Store) SaveToCache(url string, p Patch) error {
	return s.upsert(map[string]Patch{url: p}, []string{url}, true, time.Now())
}

// SaveEmbedding stores vec for url.
func (s *Store) SaveEmbedding(url string, vec []float32) error {
	return s.SaveToCache(url, Patch{Embedding: vec})
}

// SetLocalFlags records where each URL's last visit came from, without
// touching timestamps. Unknown URLs get a bare entry.
func (s *Store) SetLocalFlags(flags map[string]bool) error {
	if len(flags) == 0 {
		return nil
	}
	patches := make(map[string]Patch, len(flags))
	order := make([]string, 0, len(flags))
	for url, local := range flags {
		patches[url] = Patch{IsLocal: &local}
		order = append(order, url)
	}
	sort.Strings(order)
	return s.upsert(patches, order, false, time.Time{})
}

// UpdateMetadata merges p into an existing entry without changing its
// timestamp. Returns ErrNotFound if url is not cached.
// Thread-safe: acquires write lock.
func (s *Store) UpdateMetadata(url string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE metadata SET
			title = COALESCE(?, title),
			description = COALESCE(?, description),
			headings = COALESCE(?, headings),
			h1 = COALESCE(?, h1),
			content_hash = COALESCE(?, content_hash),
			is_local = COALESCE(?, is_local),
			embedding = COALESCE(?, embedding)
		WHERE url = ?`,
		nullString(p.Title), nullString(p.Description), nullString(p.Headings),
		nullString(p.H1), nullString(p.ContentHash), nullBool(p.IsLocal),
		nullBlob(p.Embedding), url)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return nil
}

// Delete removes url from the cache. Missing URLs are not an error.
func (s *Store) Delete(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM metadata WHERE url = ?", url); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// upsert applies patches in order inside one transaction, then evicts the
// oldest entries beyond MaxEntries.
func (s *Store) upsert(patches map[string]Patch, order []string, touch bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	var stamp int64
	if touch {
		stamp = now.UnixMilli()
	}
	for _, url := range order {
		p := patches[url]
		_, err := stmt.Exec(url,
			nullString(p.Title), nullString(p.Description), nullString(p.Headings),
			nullString(p.H1), nullString(p.ContentHash), nullBool(p.IsLocal),
			nullBlob(p.Embedding), stamp, boolToInt(touch))
		if err != nil {
			return fmt.Errorf("upsert %s: %w", url, err)
		}
	}

	if err := evict(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// evict deletes the earliest-inserted entries until at most MaxEntries remain.
func evict(tx *sql.Tx) error {
	var n int
	if err := tx.QueryRow("SELECT COUNT(*) FROM metadata").Scan(&n); err != nil {
		return fmt.Errorf("count entries: %w", err)
	}
	if n <= MaxEntries {
		return nil
	}
	_, err := tx.Exec(`
		DELETE FROM metadata WHERE seq IN (
			SELECT seq FROM metadata ORDER BY seq ASC LIMIT ?
		)`, n-MaxEntries)
	if err != nil {
		return fmt.Errorf("evict entries: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var e Entry
	var title, desc, headings, h1, contentHash sql.NullString
	var isLocal sql.NullInt64
	var blob []byte
	var updated int64
	if err := r.Scan(&e.URL, &title, &desc, &headings, &h1, &contentHash, &isLocal, &blob, &updated); err != nil {
		return Entry{}, err
	}
	e.Title = title.String
	e.Description = desc.String
	e.Headings = headings.String
	e.H1 = h1.String
	e.ContentHash = contentHash.String
	if isLocal.Valid {
		v := isLocal.Int64 != 0
		e.IsLocal = &v
	}
	e.Embedding = deserializeEmbedding(blob)
	if updated > 0 {
		e.Timestamp = time.UnixMilli(updated)
	}
	return e, nil
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullBool(p *bool) any {
	if p == nil {
		return nil
	}
	return boolToInt(*p)
}

func nullBlob(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return serializeEmbedding(v)
}
