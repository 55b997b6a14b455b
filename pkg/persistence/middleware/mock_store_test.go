package middleware_test

import (
	"context"

	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/ports"
)

// MockStore is a simple map-based event log for testing middleware.
type MockStore struct {
	logs map[string][]domain.Event
}

func NewMockStore() *MockStore {
	return &MockStore{
		logs: make(map[string][]domain.Event),
	}
}

func (s *MockStore) Append(ctx context.Context, sessionID string, event domain.Event) (int64, error) {
	event.Offset = int64(len(s.logs[sessionID]))
	s.logs[sessionID] = append(s.logs[sessionID], event)
	return event.Offset, nil
}

func (s *MockStore) Read(ctx context.Context, sessionID string, minOffset int64) ([]domain.Event, error) {
	log, ok := s.logs[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	var out []domain.Event
	for _, ev := range log {
		if ev.Offset >= minOffset {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MockStore) Delete(ctx context.Context, sessionID string) error {
	delete(s.logs, sessionID)
	return nil
}

var _ ports.SessionStore = (*MockStore)(nil)
