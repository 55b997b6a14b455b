package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/tiller/pkg/domain"
)

// Store implements ports.SessionStore and ports.JourneyStateStore using
// Redis. Each session's event log is a Redis list; the offset of an event is
// its 1-based position, assigned by RPUSH, so offsets strictly increase.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for session keys.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "tiller:session:",
		ttl:    0, // No expiration by default
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) eventsKey(sessionID string) string {
	return s.prefix + sessionID + ":events"
}

func (s *Store) journeysKey(sessionID string) string {
	return s.prefix + sessionID + ":journeys"
}

// Append pushes the event onto the session's list. The offset is the list
// length after the push; marshalling happens after assignment so the stored
// record carries its own offset.
func (s *Store) Append(ctx context.Context, sessionID string, event domain.Event) (int64, error) {
	key := s.eventsKey(sessionID)

	length, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read log length: %w", err)
	}
	event.Offset = length + 1

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, key, s.ttl)
	}
	return event.Offset, nil
}

// Read returns events with offset >= minOffset in offset order.
func (s *Store) Read(ctx context.Context, sessionID string, minOffset int64) ([]domain.Event, error) {
	key := s.eventsKey(sessionID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return nil, domain.ErrSessionNotFound
	}

	start := minOffset - 1
	if start < 0 {
		start = 0
	}
	raw, err := s.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]domain.Event, 0, len(raw))
	for _, item := range raw {
		var ev domain.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Delete removes the session's log and journey states.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.eventsKey(sessionID), s.journeysKey(sessionID)).Err()
}

// LoadStates reads the session's journey states from a Redis hash keyed by
// journey ID.
func (s *Store) LoadStates(ctx context.Context, sessionID string) (map[string]*domain.JourneyState, error) {
	raw, err := s.client.HGetAll(ctx, s.journeysKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journey states: %w", err)
	}

	states := make(map[string]*domain.JourneyState, len(raw))
	for id, item := range raw {
		var state domain.JourneyState
		if err := json.Unmarshal([]byte(item), &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal journey state %s: %w", id, err)
		}
		states[id] = &state
	}
	return states, nil
}

// SaveStates commits the full set of journey states for the session.
func (s *Store) SaveStates(ctx context.Context, sessionID string, states map[string]*domain.JourneyState) error {
	key := s.journeysKey(sessionID)

	fields := make(map[string]any, len(states))
	for id, state := range states {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal journey state %s: %w", id, err)
		}
		fields[id] = data
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to save journey states: %w", err)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, key, s.ttl)
	}
	return nil
}

// DeleteStates removes all journey states of the session.
func (s *Store) DeleteStates(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.journeysKey(sessionID)).Err()
}
