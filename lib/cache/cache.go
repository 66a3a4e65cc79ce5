// Package cache stores compiled scripts in SQLite, keyed by a hash of
// their source. The driver consults it before compiling and fills it after
// a fresh compile; blobs are the canonical CBOR wire form, so cache hits
// rebuild heap objects through the same constructors as cached loads from
// disk.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chazu/ripley/pkg/bytecode"
)

// ErrNotFound indicates the requested entry is not in the cache.
var ErrNotFound = errors.New("cache entry not found")

// Store is a SQLite-backed compile cache.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open creates or opens a cache database at the given path, creating
// parent directories as needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		source_hash TEXT PRIMARY KEY,
		wire_version INTEGER NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating chunks table: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HashSource returns the cache key for a source text.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Load retrieves the compiled wire form for a source hash.
// Returns ErrNotFound when the entry is absent, and treats an entry from
// an older wire version as absent so it gets recompiled and overwritten.
func (s *Store) Load(sourceHash string) (*bytecode.WireFunction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int
	var data []byte
	err := s.db.QueryRow(
		"SELECT wire_version, data FROM chunks WHERE source_hash = ?", sourceHash,
	).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying cache: %w", err)
	}

	if version != int(bytecode.WireVersion) {
		return nil, ErrNotFound
	}

	fn, err := bytecode.UnmarshalScript(data)
	if err != nil {
		// A corrupt blob behaves like a miss; the caller recompiles.
		return nil, ErrNotFound
	}
	return fn, nil
}

// Put stores the compiled wire form for a source hash, replacing any
// previous entry.
func (s *Store) Put(sourceHash string, fn *bytecode.WireFunction) error {
	data, err := bytecode.MarshalScript(fn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO chunks (source_hash, wire_version, data) VALUES (?, ?, ?)",
		sourceHash, int(bytecode.WireVersion), data,
	); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}
