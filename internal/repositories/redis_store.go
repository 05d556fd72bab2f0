package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/presencekit/presenced/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisPresenceStore persists presence records as JSON values with a native
// per-key TTL. Expiry is handled entirely by Redis, so there is no eviction
// lag beyond the server's own key expiration.
type RedisPresenceStore struct {
	client *redis.Client
	// opTimeout bounds every store round trip; zero means the caller's
	// context is the only bound.
	opTimeout time.Duration
}

func NewRedisPresenceStore(client *redis.Client, opTimeout time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{client: client, opTimeout: opTimeout}
}

func (s *RedisPresenceStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisPresenceStore) Get(ctx context.Context, key string) (*models.PresenceRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence record: %w", err)
	}

	var record models.PresenceRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence record: %w", err)
	}
	return &record, nil
}

func (s *RedisPresenceStore) Put(ctx context.Context, key string, record *models.PresenceRecord, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence record: %w", err)
	}
	return nil
}

func (s *RedisPresenceStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// DEL on an absent key is a no-op, which matches the contract.
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete presence record: %w", err)
	}
	return nil
}

// GetMulti uses MGET to fetch all keys in one round trip. Keys that are
// missing or hold values that no longer unmarshal are left out of the map.
func (s *RedisPresenceStore) GetMulti(ctx context.Context, keys []string) (map[string]*models.PresenceRecord, error) {
	records := make(map[string]*models.PresenceRecord, len(keys))
	if len(keys) == 0 {
		return records, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get presence records: %w", err)
	}

	for i, result := range results {
		if result == nil {
			continue
		}
		data, ok := result.(string)
		if !ok {
			continue
		}
		var record models.PresenceRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		records[keys[i]] = &record
	}
	return records, nil
}
