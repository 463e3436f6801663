package pipeline

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"
)

// cborEncMode uses canonical mode so cache entries encode
// deterministically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("pipeline: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Entry is one cached per-file result: the tree-relative output path and
// the produced bytes.
type Entry struct {
	OutputPath string `cbor:"1,keyasint"`
	Output     []byte `cbor:"2,keyasint"`
}

// Store is the persistent per-file cache backing the tree processor.
// Entries are keyed by the combined stage/compiler/content digest and
// survive across builds.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStore opens the cache database at path, creating it (and its
// parent directory) if needed.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}

	// Set busy timeout for concurrent build processes sharing one store
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		entry BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating entries table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the cached entry for key, if present.
func (s *Store) Get(key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blob []byte
	err := s.db.QueryRow("SELECT entry FROM entries WHERE key = ?", key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying cache entry: %w", err)
	}

	var e Entry
	if err := cbor.Unmarshal(blob, &e); err != nil {
		return nil, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &e, true, nil
}

// Put stores entry under key, replacing any previous value.
func (s *Store) Put(key string, e *Entry) error {
	blob, err := cborEncMode.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO entries (key, entry) VALUES (?, ?)",
		key, blob,
	); err != nil {
		return fmt.Errorf("saving cache entry: %w", err)
	}
	return nil
}
