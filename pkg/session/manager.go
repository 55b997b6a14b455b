package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/aretw0/tiller/internal/logging"
	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes turn processing per session. Two turns of the same
// session never interleave; turns of different sessions run freely in
// parallel. It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	sessions ports.SessionStore
	journeys ports.JourneyStateStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker ports.DistributedLocker // Optional distributed locker
	logger *slog.Logger            // Logger for internal events (like deferred errors)
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking, for deployments where several
// replicas may receive messages for the same session.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Session Manager over the given stores.
func NewManager(sessions ports.SessionStore, journeys ports.JourneyStateStore, opts ...Option) *Manager {
	m := &Manager{
		sessions: sessions,
		journeys: journeys,
		locks:    make(map[string]*lockEntry),
		logger:   logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return // Should not happen if paired correctly
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// Start creates an empty session by appending its first status event, so
// the session exists before any customer message arrives. Starting an
// existing session is a no-op.
func (m *Manager) Start(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if _, err := m.sessions.Read(ctx, sessionID, 0); err == nil {
			return nil
		} else if !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("failed to check session existence: %w", err)
		}

		_, err := m.sessions.Append(ctx, sessionID, domain.Event{
			ID:        uuid.NewString(),
			Kind:      domain.EventStatus,
			Source:    domain.SourceSystem,
			Timestamp: time.Now().UTC(),
			Data:      domain.StatusData{Status: domain.StatusReady},
		})
		if err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		return nil
	})
}

// AppendCustomerMessage records one customer message and returns its offset.
func (m *Manager) AppendCustomerMessage(ctx context.Context, sessionID, participant, text string) (int64, error) {
	var offset int64
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		offset, err = m.sessions.Append(ctx, sessionID, domain.Event{
			ID:        uuid.NewString(),
			Kind:      domain.EventMessage,
			Source:    domain.SourceCustomer,
			Timestamp: time.Now().UTC(),
			Data:      domain.MessageData{Text: text, Participant: participant},
		})
		return err
	})
	return offset, err
}

// History reads the session's events from minOffset onward. Reads are not
// serialized against turns; the log is append-only, so a concurrent reader
// sees a consistent prefix.
func (m *Manager) History(ctx context.Context, sessionID string, minOffset int64) ([]domain.Event, error) {
	return m.sessions.Read(ctx, sessionID, minOffset)
}

// Delete removes the session's event log and journey states.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if err := m.sessions.Delete(ctx, sessionID); err != nil {
			return err
		}
		return m.journeys.DeleteStates(ctx, sessionID)
	})
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	// Distributed Locking
	if m.locker != nil {
		// TODO: Configure TTL?
		unlock, err := m.locker.Lock(ctx, sessionID, 30*time.Second)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
