package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/presencekit/presenced/internal/models"
	"github.com/presencekit/presenced/internal/services"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	guardKey    contextKey = "guard"
)

var ErrInvalidToken = errors.New("invalid token")

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(models.Identity)
	return identity, ok
}

// GuardFromContext returns the guard claim carried by the token, if any.
func GuardFromContext(ctx context.Context) (string, bool) {
	guard, ok := ctx.Value(guardKey).(string)
	return guard, ok
}

// RequireAuth validates the bearer token and stores the subject claim as
// the request identity. An optional "guard" claim scopes the presence key.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, ErrInvalidToken
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				writeError(w, http.StatusUnauthorized, "token has no subject")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, models.Identity(subject))
			if guard, ok := claims["guard"].(string); ok && guard != "" {
				ctx = context.WithValue(ctx, guardKey, guard)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// heartbeatThrottle drops heartbeats arriving faster than the configured
// window per identity, mirroring the refresh throttle of session-backed
// presence middleware. A zero window disables it.
type heartbeatThrottle struct {
	mu     sync.Mutex
	last   map[models.Identity]time.Time
	window time.Duration
	clock  services.Clock
}

func newHeartbeatThrottle(window time.Duration, clock services.Clock) *heartbeatThrottle {
	return &heartbeatThrottle{
		last:   make(map[models.Identity]time.Time),
		window: window,
		clock:  clock,
	}
}

// allow reports whether this identity's heartbeat should be accepted now,
// and records the acceptance when it is.
func (t *heartbeatThrottle) allow(identity models.Identity) bool {
	if t.window <= 0 {
		return true
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[identity]; ok && now.Sub(last) < t.window {
		return false
	}
	t.last[identity] = now
	return true
}
