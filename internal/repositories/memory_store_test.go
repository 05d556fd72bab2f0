package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presencekit/presenced/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_PutGetRoundTrip(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryPresenceStoreWithClock(clock.Now)
	ctx := context.Background()

	record := &models.PresenceRecord{
		LastSeenAt: clock.Now(),
		Meta:       map[string]any{"ip": "10.0.0.1"},
	}
	require.NoError(t, store.Put(ctx, "presence_guard_web_user_1", record, time.Minute))

	got, err := store.Get(ctx, "presence_guard_web_user_1")
	require.NoError(t, err)
	assert.Equal(t, record.LastSeenAt, got.LastSeenAt)
	assert.Equal(t, record.Meta, got.Meta)
}

func TestMemoryStore_MissingKey(t *testing.T) {
	store := NewMemoryPresenceStore()

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryPresenceStoreWithClock(clock.Now)
	ctx := context.Background()

	record := &models.PresenceRecord{LastSeenAt: clock.Now()}
	require.NoError(t, store.Put(ctx, "k", record, time.Minute))

	clock.Advance(59 * time.Second)
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(1 * time.Second)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_PutResetsTTL(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryPresenceStoreWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", &models.PresenceRecord{LastSeenAt: clock.Now()}, time.Minute))
	clock.Advance(50 * time.Second)
	require.NoError(t, store.Put(ctx, "k", &models.PresenceRecord{LastSeenAt: clock.Now()}, time.Minute))
	clock.Advance(50 * time.Second)

	_, err := store.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	store := NewMemoryPresenceStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", &models.PresenceRecord{LastSeenAt: time.Now()}, time.Minute))
	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GetMultiSkipsMissing(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryPresenceStoreWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a", &models.PresenceRecord{LastSeenAt: clock.Now()}, time.Minute))

	records, err := store.GetMulti(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Contains(t, records, "a")
}

func TestMemoryStore_ReaperEvicts(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryPresenceStoreWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", &models.PresenceRecord{LastSeenAt: clock.Now()}, time.Second))
	clock.Advance(2 * time.Second)

	store.reap()

	store.mu.RLock()
	_, ok := store.entries["k"]
	store.mu.RUnlock()
	assert.False(t, ok)
}
