package models

import (
	"time"
)

// Identity is the tracked actor's identifier, normalized to a string at the
// API boundary. Callers with integer ids format them before calling in.
type Identity string

// Scope partitions presence records for otherwise-identical identities.
// All fields are optional; an empty Scope falls back to guard-only keying.
type Scope struct {
	Tenant   string `json:"tenant,omitempty"`
	Location string `json:"location,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Guard    string `json:"guard,omitempty"`
}

// IsZero reports whether no scope dimension is set.
func (s Scope) IsZero() bool {
	return s.Tenant == "" && s.Location == "" && s.Domain == "" && s.Guard == ""
}

// ScopeFromMap builds a Scope from a loosely-typed mapping, keeping only the
// recognized keys. Unknown keys are ignored; a nil map yields a zero Scope.
func ScopeFromMap(m map[string]string) Scope {
	if m == nil {
		return Scope{}
	}
	return Scope{
		Tenant:   m["tenant"],
		Location: m["location"],
		Domain:   m["domain"],
		Guard:    m["guard"],
	}
}

// PresenceRecord is the stored value for an identity+scope key. It is
// overwritten on every heartbeat/online call and deleted on offline; the
// store expires it after the configured TTL of inactivity.
type PresenceRecord struct {
	LastSeenAt time.Time      `json:"last_seen_at"`
	Meta       map[string]any `json:"meta"`
}

type StatusKind string

const (
	StatusOnline  StatusKind = "online"
	StatusAway    StatusKind = "away"
	StatusOffline StatusKind = "offline"
)

// PresenceStatus is the derived view of a record's age, recomputed on every
// query and never stored. A missing or expired record yields offline with
// nil timestamp and seconds.
type PresenceStatus struct {
	Status     StatusKind     `json:"status"`
	LastSeenAt *time.Time     `json:"last_seen_at"`
	SecondsAgo *int64         `json:"seconds_ago"`
	Meta       map[string]any `json:"meta"`
}

// Offline is the canonical status for an identity with no presence record.
func Offline() PresenceStatus {
	return PresenceStatus{
		Status: StatusOffline,
		Meta:   map[string]any{},
	}
}

type EventKind string

const (
	EventCameOnline  EventKind = "came_online"
	EventWentOffline EventKind = "went_offline"
	EventUpdated     EventKind = "updated"
)

// UpdateKind distinguishes what triggered an EventUpdated transition.
type UpdateKind string

const (
	UpdateHeartbeat UpdateKind = "heartbeat"
	UpdateOnline    UpdateKind = "online"
)

// TransitionEvent is emitted on every engine mutation. It exists only for
// the duration of dispatch to the bus and, optionally, the webhook.
type TransitionEvent struct {
	Kind       EventKind      `json:"kind"`
	Update     UpdateKind     `json:"update,omitempty"`
	UserID     Identity       `json:"user_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Meta       map[string]any `json:"meta"`
}
