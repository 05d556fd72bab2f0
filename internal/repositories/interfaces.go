package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/presencekit/presenced/internal/models"
)

// ErrNotFound marks a genuine cache miss: the key was never written or its
// TTL has elapsed. Backend failures are returned as distinct errors so
// callers can tell "no presence info" from "presence subsystem is down".
var ErrNotFound = errors.New("presence record not found")

// PresenceStore is the contract required of any presence backend. Put
// overwrites any existing record and resets its TTL; Delete is a no-op for
// absent keys. Backends must expire records natively or via a background
// reaper with a documented maximum eviction lag.
type PresenceStore interface {
	Get(ctx context.Context, key string) (*models.PresenceRecord, error)
	Put(ctx context.Context, key string, record *models.PresenceRecord, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// GetMulti fetches many keys in one round trip where the backend
	// supports it. Missing keys are simply absent from the result map.
	GetMulti(ctx context.Context, keys []string) (map[string]*models.PresenceRecord, error)
}
