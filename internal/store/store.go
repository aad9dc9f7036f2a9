// Package store provides SQLite persistence for LinkStreak: the metadata
// cache of indexed pages and the user's settings.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/abelbrown/linkstreak/internal/logging"
	"github.com/abelbrown/linkstreak/internal/otel"
)

// MaxEntries bounds the metadata cache. Inserting past it evicts the
// earliest-inserted URL.
const MaxEntries = 500

// ErrNotFound is returned when a URL has no metadata cache entry.
var ErrNotFound = errors.New("store: not found")

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex // Protects all database operations
	events atomic.Pointer[otel.Logger]
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each new connection to :memory: would be a fresh, empty database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required tables and indexes if they don't exist.
// seq records insertion order for eviction; updates never change it.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS metadata (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		description TEXT,
		headings TEXT,
		h1 TEXT,
		content_hash TEXT,
		is_local INTEGER,
		embedding BLOB,
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// SetEvents routes reports of damaged stored values to l.
func (s *Store) SetEvents(l *otel.Logger) {
	s.events.Store(l)
}

// corrupt reports a stored value that could not be read as-is. Callers
// carry on with a default or a partial value.
func (s *Store) corrupt(key string, err error) {
	logging.Warn("Ignoring damaged stored value", "key", key, "error", err)
	if l := s.events.Load(); l != nil {
		l.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindStoreCorrupt, Comp: "store", Msg: key, Err: err.Error()})
	}
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// serializeEmbedding converts a float32 slice to bytes for storage.
// Uses little-endian IEEE 754 format (4 bytes per float).
func serializeEmbedding(embedding []float32) []byte {
	if embedding == nil {
		return nil
	}
	blob := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		bits := math.Float32bits(v)
		blob[i*4] = byte(bits)
		blob[i*4+1] = byte(bits >> 8)
		blob[i*4+2] = byte(bits >> 16)
		blob[i*4+3] = byte(bits >> 24)
	}
	return blob
}

// deserializeEmbedding converts bytes back to a float32 slice.
func deserializeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(blob)/4)
	for i := range embedding {
		bits := uint32(blob[i*4]) |
			uint32(blob[i*4+1])<<8 |
			uint32(blob[i*4+2])<<16 |
			uint32(blob[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

// boolToInt converts a bool to an int for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
