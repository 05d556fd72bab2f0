package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/presencekit/presenced/internal/models"
	"github.com/presencekit/presenced/internal/repositories"
)

// PresenceService derives online/away/offline purely from the age of the
// last reported activity. A record younger than awayAfter is online, older
// than awayAfter but within ttl is away, and absent (or past ttl) is
// offline. Away is never written; it is a read-time classification of an
// aging record.
//
// Configuration contract: awayAfter must be <= ttl for away to be
// observable. With awayAfter >= ttl a record expires before it ever ages
// into away, so statuses skip straight from online to offline. This is not
// validated at runtime.
type PresenceService struct {
	store     repositories.PresenceStore
	keys      *KeyBuilder
	notifier  Notifier
	clock     Clock
	ttl       time.Duration
	awayAfter time.Duration
	logger    zerolog.Logger
}

func NewPresenceService(
	store repositories.PresenceStore,
	keys *KeyBuilder,
	notifier Notifier,
	clock Clock,
	ttl time.Duration,
	awayAfter time.Duration,
	logger zerolog.Logger,
) *PresenceService {
	return &PresenceService{
		store:     store,
		keys:      keys,
		notifier:  notifier,
		clock:     clock,
		ttl:       ttl,
		awayAfter: awayAfter,
		logger:    logger.With().Str("component", "presence").Logger(),
	}
}

// Heartbeat refreshes the identity's record like SetOnline and additionally
// emits an updated(heartbeat) notification on top of whatever SetOnline
// emitted.
func (s *PresenceService) Heartbeat(ctx context.Context, identity models.Identity, meta map[string]any, scope *models.Scope) error {
	if err := s.SetOnline(ctx, identity, meta, scope); err != nil {
		return err
	}
	return s.notify(ctx, models.TransitionEvent{
		Kind:       models.EventUpdated,
		Update:     models.UpdateHeartbeat,
		UserID:     identity,
		OccurredAt: s.clock.Now(),
		Meta:       normalizeMeta(meta),
	})
}

// SetOnline writes a fresh record and resets its TTL. Only a store-absent
// prior read (never seen, or naturally expired) counts as a first
// appearance and emits came_online; any existing record, whatever its
// contents, emits updated(online) instead.
func (s *PresenceService) SetOnline(ctx context.Context, identity models.Identity, meta map[string]any, scope *models.Scope) error {
	key := s.keys.BuildKey(identity, scope)

	_, err := s.store.Get(ctx, key)
	cameOnline := false
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		cameOnline = true
	case err != nil:
		return fmt.Errorf("failed to read presence record: %w", err)
	}

	now := s.clock.Now()
	record := &models.PresenceRecord{
		LastSeenAt: now,
		Meta:       normalizeMeta(meta),
	}
	if err := s.store.Put(ctx, key, record, s.ttl); err != nil {
		return fmt.Errorf("failed to write presence record: %w", err)
	}

	event := models.TransitionEvent{
		Kind:       models.EventUpdated,
		Update:     models.UpdateOnline,
		UserID:     identity,
		OccurredAt: now,
		Meta:       record.Meta,
	}
	if cameOnline {
		event.Kind = models.EventCameOnline
		event.Update = ""
	}
	return s.notify(ctx, event)
}

// SetOffline deletes the record unconditionally and emits went_offline
// whether or not a record existed. Calling it twice is a no-op the second
// time at the store level but still emits the event.
func (s *PresenceService) SetOffline(ctx context.Context, identity models.Identity, meta map[string]any, scope *models.Scope) error {
	key := s.keys.BuildKey(identity, scope)
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete presence record: %w", err)
	}
	return s.notify(ctx, models.TransitionEvent{
		Kind:       models.EventWentOffline,
		UserID:     identity,
		OccurredAt: s.clock.Now(),
		Meta:       normalizeMeta(meta),
	})
}

// Status classifies the record's age against the away and ttl thresholds.
// Equality at a threshold classifies as the more-online state: age ==
// awayAfter is still online, age == ttl is still away.
func (s *PresenceService) Status(ctx context.Context, identity models.Identity, scope *models.Scope) (models.PresenceStatus, error) {
	key := s.keys.BuildKey(identity, scope)

	record, err := s.store.Get(ctx, key)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.Offline(), nil
	}
	if err != nil {
		return models.PresenceStatus{}, fmt.Errorf("failed to read presence record: %w", err)
	}
	return s.classify(record), nil
}

// Many computes Status for each identity independently, in a single
// multi-get round trip against the store.
func (s *PresenceService) Many(ctx context.Context, identities []models.Identity, scope *models.Scope) (map[models.Identity]models.PresenceStatus, error) {
	keys := make([]string, len(identities))
	for i, identity := range identities {
		keys[i] = s.keys.BuildKey(identity, scope)
	}

	records, err := s.store.GetMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read presence records: %w", err)
	}

	statuses := make(map[models.Identity]models.PresenceStatus, len(identities))
	for i, identity := range identities {
		record, ok := records[keys[i]]
		if !ok {
			statuses[identity] = models.Offline()
			continue
		}
		statuses[identity] = s.classify(record)
	}
	return statuses, nil
}

func (s *PresenceService) classify(record *models.PresenceRecord) models.PresenceStatus {
	ago := int64(s.clock.Now().Sub(record.LastSeenAt) / time.Second)

	status := models.StatusOnline
	switch {
	case ago > int64(s.ttl/time.Second):
		status = models.StatusOffline
	case ago > int64(s.awayAfter/time.Second):
		status = models.StatusAway
	}

	lastSeen := record.LastSeenAt
	return models.PresenceStatus{
		Status:     status,
		LastSeenAt: &lastSeen,
		SecondsAgo: &ago,
		Meta:       normalizeMeta(record.Meta),
	}
}

// notify runs strictly after the store mutation; a delivery failure
// surfaces to the caller but the state change is never rolled back.
func (s *PresenceService) notify(ctx context.Context, event models.TransitionEvent) error {
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn().Err(err).
			Str("kind", string(event.Kind)).
			Str("user_id", string(event.UserID)).
			Msg("notification failed after state change")
		return err
	}
	return nil
}

func normalizeMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
