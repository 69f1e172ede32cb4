// Package store implements the local durable store: a file-backed,
// partitioned key/value store with per-entry TTL support. It is the
// single source of truth shared by the cache coordinator and the sync
// queue; both access it only through this transactional API.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/pkg/log"
)

const dbFileName = "venuesync.json"

// database is the on-disk document. Every mutation rewrites it
// atomically (write to temp file, then rename) to prevent corruption.
type database struct {
	Partitions map[string]map[string]json.RawMessage `json:"partitions"`
}

// Store is a file-backed partitioned key/value store. All operations
// run under one mutex; a successful mutation is persisted before it
// returns, so no two operations observe a torn write.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger log.Logger

	// db is the open handle. It stays nil after a failed open so the
	// next operation re-attempts initialization instead of caching a
	// broken handle.
	db *database

	now func() time.Time
}

// Stats holds per-partition entry counts for observability.
type Stats struct {
	Partitions map[string]int `json:"partitions"`
}

// New creates a store rooted at dir. The backing file is opened lazily
// on first use.
func New(dir string, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// Put upserts a record into a partition.
func (s *Store) Put(ctx context.Context, partition, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &domain.StorageError{Op: "put", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return err
	}
	part := db.Partitions[partition]
	if part == nil {
		part = make(map[string]json.RawMessage)
		db.Partitions[partition] = part
	}
	prev, hadPrev := part[key]
	part[key] = raw

	if err := s.persist(db); err != nil {
		// Undo the in-memory change so a later retry starts clean.
		if hadPrev {
			part[key] = prev
		} else {
			delete(part, key)
		}
		return err
	}
	return nil
}

// Get retrieves one record from a partition into out.
// Returns domain.ErrNotFound when the key is absent.
func (s *Store) Get(ctx context.Context, partition, key string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return err
	}
	raw, ok := db.Partitions[partition][key]
	if !ok {
		return domain.ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.StorageError{Op: "get", Err: err}
	}
	return nil
}

// GetAll returns a copy of every record in a partition, keyed by record key.
// An unknown partition yields an empty map, not an error.
func (s *Store) GetAll(ctx context.Context, partition string) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(db.Partitions[partition]))
	for k, v := range db.Partitions[partition] {
		out[k] = v
	}
	return out, nil
}

// Delete removes a record from a partition. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, partition, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return err
	}
	part, ok := db.Partitions[partition]
	if !ok {
		return nil
	}
	prev, hadPrev := part[key]
	if !hadPrev {
		return nil
	}
	delete(part, key)

	if err := s.persist(db); err != nil {
		part[key] = prev
		return err
	}
	return nil
}

// ClearAll removes every record in every partition.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return err
	}
	prev := db.Partitions
	db.Partitions = make(map[string]map[string]json.RawMessage)

	if err := s.persist(db); err != nil {
		db.Partitions = prev
		return err
	}
	return nil
}

// Stats returns per-partition entry counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Partitions: make(map[string]int, len(db.Partitions))}
	for name, part := range db.Partitions {
		st.Partitions[name] = len(part)
	}
	return st, nil
}

// Path returns the full path to the backing file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, dbFileName)
}

// open returns the handle, loading the backing file on first use.
// Callers must hold s.mu. A load failure leaves the handle nil so the
// next call retries instead of serving a broken handle forever.
func (s *Store) open() (*database, error) {
	if s.db != nil {
		return s.db, nil
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			s.db = &database{Partitions: make(map[string]map[string]json.RawMessage)}
			return s.db, nil
		}
		return nil, &domain.StorageError{Op: "open", Err: err}
	}

	var db database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	if db.Partitions == nil {
		db.Partitions = make(map[string]map[string]json.RawMessage)
	}
	s.db = &db
	return s.db, nil
}

// persist writes the document atomically. Callers must hold s.mu.
// On failure the handle is reset so the next operation reloads from the
// last good file, then one retry is attempted before surfacing the error.
func (s *Store) persist(db *database) error {
	if err := s.write(db); err != nil {
		s.logger.Warn("store persist failed, retrying once", log.Err(err))
		if retryErr := s.write(db); retryErr != nil {
			s.db = nil
			return &domain.StorageError{Op: "persist", Err: retryErr}
		}
	}
	return nil
}

func (s *Store) write(db *database) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	path := s.Path()
	tmp := path + ".tmp"

	data, err := json.Marshal(db)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// sortedKeys returns the keys of a partition snapshot in stable order.
func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
