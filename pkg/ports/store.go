package ports

import (
	"context"

	"github.com/aretw0/tiller/pkg/domain"
)

// SessionStore is the append-only event log backing each session. Offsets
// are assigned by the store and strictly increase per session; events are
// immutable once appended.
type SessionStore interface {
	// Append adds an event to the session's log and returns the assigned
	// offset. The store fills Event.Offset; callers must not set it.
	Append(ctx context.Context, sessionID string, event domain.Event) (int64, error)

	// Read returns all events with offset >= minOffset in offset order.
	// Returns domain.ErrSessionNotFound for unknown sessions.
	Read(ctx context.Context, sessionID string, minOffset int64) ([]domain.Event, error)

	// Delete removes the session and its log.
	Delete(ctx context.Context, sessionID string) error
}

// JourneyStateStore persists per-session journey positions. States are
// loaded at turn start and committed atomically at turn end; a failed turn
// never writes back.
type JourneyStateStore interface {
	// LoadStates returns the session's journey states keyed by journey ID.
	// An unknown session yields an empty map, not an error: states are
	// created lazily on first match.
	LoadStates(ctx context.Context, sessionID string) (map[string]*domain.JourneyState, error)

	// SaveStates commits the full set of journey states for the session.
	SaveStates(ctx context.Context, sessionID string, states map[string]*domain.JourneyState) error

	// DeleteStates removes all journey states of the session.
	DeleteStates(ctx context.Context, sessionID string) error
}
