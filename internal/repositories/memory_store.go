package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/presencekit/presenced/internal/models"
)

type memoryEntry struct {
	record    models.PresenceRecord
	expiresAt time.Time
}

// MemoryPresenceStore is an in-process PresenceStore for tests and
// single-node deployments. Expired entries are dropped lazily on read; an
// optional reaper goroutine (StartReaper) bounds how long an expired entry
// can linger unread, so the maximum eviction lag is the reaper interval.
type MemoryPresenceStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryPresenceStore() *MemoryPresenceStore {
	return &MemoryPresenceStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// NewMemoryPresenceStoreWithClock pins the store to an injected time source
// so tests can age records deterministically.
func NewMemoryPresenceStoreWithClock(now func() time.Time) *MemoryPresenceStore {
	return &MemoryPresenceStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (s *MemoryPresenceStore) Get(_ context.Context, key string) (*models.PresenceRecord, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.After(s.now()) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have
		// refreshed the entry.
		if cur, ok := s.entries[key]; ok && !cur.expiresAt.After(s.now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	record := entry.record
	return &record, nil
}

func (s *MemoryPresenceStore) Put(_ context.Context, key string, record *models.PresenceRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{
		record:    *record,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryPresenceStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryPresenceStore) GetMulti(ctx context.Context, keys []string) (map[string]*models.PresenceRecord, error) {
	records := make(map[string]*models.PresenceRecord, len(keys))
	for _, key := range keys {
		record, err := s.Get(ctx, key)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records[key] = record
	}
	return records, nil
}

// StartReaper periodically evicts expired entries until ctx is done.
func (s *MemoryPresenceStore) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reap()
			}
		}
	}()
}

func (s *MemoryPresenceStore) reap() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if !entry.expiresAt.After(now) {
			delete(s.entries, key)
		}
	}
}
