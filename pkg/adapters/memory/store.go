package memory

import (
	"context"
	"sync"

	"github.com/aretw0/tiller/pkg/domain"
)

// Store implements ports.SessionStore and ports.JourneyStateStore in memory.
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	events   map[string][]domain.Event
	journeys map[string]map[string]*domain.JourneyState
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		events:   make(map[string][]domain.Event),
		journeys: make(map[string]map[string]*domain.JourneyState),
	}
}

// Append adds an event to the session's log, creating the session on first
// write. Offsets start at 1 and increase by one per event.
func (s *Store) Append(ctx context.Context, sessionID string, event domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.events[sessionID]
	event.Offset = int64(len(log)) + 1
	s.events[sessionID] = append(log, event)
	return event.Offset, nil
}

// Read returns events with offset >= minOffset.
func (s *Store) Read(ctx context.Context, sessionID string, minOffset int64) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.events[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	out := make([]domain.Event, 0, len(log))
	for _, ev := range log {
		if ev.Offset >= minOffset {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Delete removes the session's log and journey states.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, sessionID)
	delete(s.journeys, sessionID)
	return nil
}

// List returns the IDs of sessions with at least one event.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.events))
	for id := range s.events {
		sessions = append(sessions, id)
	}
	return sessions, nil
}

// LoadStates returns deep copies of the session's journey states so callers
// can't mutate store state through shared pointers.
func (s *Store) LoadStates(ctx context.Context, sessionID string) (map[string]*domain.JourneyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*domain.JourneyState)
	for id, state := range s.journeys[sessionID] {
		out[id] = state.Clone()
	}
	return out, nil
}

// SaveStates commits the full set of journey states for the session.
func (s *Store) SaveStates(ctx context.Context, sessionID string, states map[string]*domain.JourneyState) error {
	copied := make(map[string]*domain.JourneyState, len(states))
	for id, state := range states {
		copied[id] = state.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.journeys[sessionID] = copied
	return nil
}

// DeleteStates removes all journey states of the session.
func (s *Store) DeleteStates(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.journeys, sessionID)
	return nil
}
