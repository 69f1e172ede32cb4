package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/pkg/log"
)

// cacheEntry is the stored shape of a TTL-bounded generic cache value.
type cacheEntry struct {
	Data     json.RawMessage `json:"data"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// SetWithTTL stores a value in the generic cache partition with an expiry.
func (s *Store) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &domain.StorageError{Op: "set-ttl", Err: err}
	}
	entry := cacheEntry{Data: raw, StoredAt: s.now(), TTL: ttl}
	return s.Put(ctx, domain.PartitionCache, key, entry)
}

// GetTTL retrieves a generic cache value into out. An expired entry is
// treated as absent and deleted as a side effect, so a read after expiry
// behaves identically whether or not a sweep has run.
func (s *Store) GetTTL(ctx context.Context, key string, out any) error {
	var entry cacheEntry
	if err := s.Get(ctx, domain.PartitionCache, key, &entry); err != nil {
		return err
	}
	if entry.expired(s.now()) {
		if err := s.Delete(ctx, domain.PartitionCache, key); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("lazy purge failed", log.String("key", key), log.Err(err))
		}
		return domain.ErrNotFound
	}
	if err := json.Unmarshal(entry.Data, out); err != nil {
		return &domain.StorageError{Op: "get-ttl", Err: err}
	}
	return nil
}

// RemoveTTL deletes a generic cache entry.
func (s *Store) RemoveTTL(ctx context.Context, key string) error {
	return s.Delete(ctx, domain.PartitionCache, key)
}

// ClearExpired scans the generic cache partition and removes entries
// whose TTL has lapsed. It is idempotent and safe to call concurrently
// with reads and writes. Returns the number of entries removed.
func (s *Store) ClearExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return 0, err
	}
	part := db.Partitions[domain.PartitionCache]
	if len(part) == 0 {
		return 0, nil
	}

	now := s.now()
	removed := 0
	for _, key := range sortedKeys(part) {
		var entry cacheEntry
		if err := json.Unmarshal(part[key], &entry); err != nil {
			// Unreadable entries are purged too; they can never be served.
			delete(part, key)
			removed++
			continue
		}
		if entry.expired(now) {
			delete(part, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.persist(db); err != nil {
		return 0, err
	}
	return removed, nil
}
