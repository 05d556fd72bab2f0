package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/presencekit/presenced/internal/models"
	"github.com/presencekit/presenced/internal/services"
)

type Handlers struct {
	svc      *services.PresenceService
	throttle *heartbeatThrottle
	logger   zerolog.Logger
}

func NewHandlers(svc *services.PresenceService, throttleWindow time.Duration, clock services.Clock, logger zerolog.Logger) *Handlers {
	return &Handlers{
		svc:      svc,
		throttle: newHeartbeatThrottle(throttleWindow, clock),
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

type batchStatusRequest struct {
	IDs   []string          `json:"ids"`
	Scope map[string]string `json:"scope,omitempty"`
}

// Heartbeat records a liveness signal for the authenticated identity,
// capturing the caller's address and user agent as meta.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	if !h.throttle.allow(identity) {
		// Throttled heartbeats still acknowledge; the record is fresh
		// enough that dropping the write changes nothing observable.
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	meta := map[string]any{
		"ip": clientIP(r),
		"ua": truncate(r.UserAgent(), 255),
	}
	if err := h.svc.Heartbeat(r.Context(), identity, meta, h.scopeFromRequest(r)); err != nil {
		if errors.Is(err, services.ErrDeliveryFailed) {
			// State is written; only the outbound notification failed.
			writeError(w, http.StatusBadGateway, "notification delivery failed")
			return
		}
		h.logger.Error().Err(err).Str("user_id", string(identity)).Msg("heartbeat failed")
		writeError(w, http.StatusInternalServerError, "presence unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Status returns the derived presence for one identity.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	identity := models.Identity(chi.URLParam(r, "id"))
	if identity == "" {
		writeError(w, http.StatusBadRequest, "missing identity")
		return
	}

	status, err := h.svc.Status(r.Context(), identity, h.scopeFromRequest(r))
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", string(identity)).Msg("status query failed")
		writeError(w, http.StatusInternalServerError, "presence unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// BatchStatus returns the derived presence for many identities at once.
func (h *Handlers) BatchStatus(w http.ResponseWriter, r *http.Request) {
	var req batchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	identities := make([]models.Identity, len(req.IDs))
	for i, id := range req.IDs {
		identities[i] = models.Identity(id)
	}

	var scope *models.Scope
	if req.Scope != nil {
		resolved := models.ScopeFromMap(req.Scope)
		scope = &resolved
	} else {
		scope = h.scopeFromRequest(r)
	}

	statuses, err := h.svc.Many(r.Context(), identities, scope)
	if err != nil {
		h.logger.Error().Err(err).Int("count", len(identities)).Msg("batch status query failed")
		writeError(w, http.StatusInternalServerError, "presence unavailable")
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// scopeFromRequest builds an explicit scope from query parameters, falling
// back to the token's guard claim, or nil to let the key builder resolve.
func (h *Handlers) scopeFromRequest(r *http.Request) *models.Scope {
	q := r.URL.Query()
	scope := models.Scope{
		Tenant:   q.Get("tenant"),
		Location: q.Get("location"),
		Domain:   q.Get("domain"),
		Guard:    q.Get("guard"),
	}
	if scope.Guard == "" {
		if guard, ok := GuardFromContext(r.Context()); ok {
			scope.Guard = guard
		}
	}
	if scope.IsZero() {
		return nil
	}
	return &scope
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
