package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/presencekit/presenced/internal/models"
	"github.com/presencekit/presenced/internal/services"
)

const (
	loginSubject  = "auth.login"
	logoutSubject = "auth.logout"
)

type authEvent struct {
	UserID string            `json:"user_id"`
	Scope  map[string]string `json:"scope,omitempty"`
}

// StartAuthListeners marks identities online on auth.login and offline on
// auth.logout, the service-bus counterpart of framework login/logout hooks.
func StartAuthListeners(nc *nats.Conn, svc *services.PresenceService, logger zerolog.Logger) ([]*nats.Subscription, error) {
	logger = logger.With().Str("component", "auth-listener").Logger()

	handle := func(source string, apply func(context.Context, models.Identity, map[string]any, *models.Scope) error) nats.MsgHandler {
		return func(msg *nats.Msg) {
			var event authEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed auth event")
				return
			}
			if event.UserID == "" {
				logger.Warn().Str("subject", msg.Subject).Msg("dropping auth event without user_id")
				return
			}

			var scope *models.Scope
			if event.Scope != nil {
				resolved := models.ScopeFromMap(event.Scope)
				scope = &resolved
			}
			meta := map[string]any{"source": source}
			if err := apply(context.Background(), models.Identity(event.UserID), meta, scope); err != nil {
				logger.Error().Err(err).Str("user_id", event.UserID).Str("source", source).Msg("presence update failed")
			}
		}
	}

	loginSub, err := nc.Subscribe(loginSubject, handle("login", svc.SetOnline))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", loginSubject, err)
	}
	logoutSub, err := nc.Subscribe(logoutSubject, handle("logout", svc.SetOffline))
	if err != nil {
		loginSub.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", logoutSubject, err)
	}

	return []*nats.Subscription{loginSub, logoutSub}, nil
}
