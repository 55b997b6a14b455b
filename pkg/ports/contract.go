package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tiller/pkg/domain"
)

// RunSessionStoreContract verifies that a SessionStore implementation
// adheres to the append-only log contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	sessionID := "contract-session-" + time.Now().Format("20060102150405")

	t.Run("Append assigns increasing offsets", func(t *testing.T) {
		first, err := store.Append(ctx, sessionID, domain.Event{
			ID:     "ev-1",
			Kind:   domain.EventMessage,
			Source: domain.SourceCustomer,
			Data:   domain.MessageData{Text: "hello"},
		})
		require.NoError(t, err, "Append should not return error")

		second, err := store.Append(ctx, sessionID, domain.Event{
			ID:     "ev-2",
			Kind:   domain.EventStatus,
			Source: domain.SourceSystem,
			Data:   domain.StatusData{Status: domain.StatusReady},
		})
		require.NoError(t, err)
		assert.Greater(t, second, first, "offsets must strictly increase")
	})

	t.Run("Read from offset", func(t *testing.T) {
		events, err := store.Read(ctx, sessionID, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "ev-1", events[0].ID)
		assert.Equal(t, "ev-2", events[1].ID)

		tail, err := store.Read(ctx, sessionID, events[1].Offset)
		require.NoError(t, err)
		require.Len(t, tail, 1)
		assert.Equal(t, "ev-2", tail[0].ID)
	})

	t.Run("Read non-existent", func(t *testing.T) {
		_, err := store.Read(ctx, "non-existent-"+sessionID, 0)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Delete(ctx, sessionID)
		require.NoError(t, err)

		_, err = store.Read(ctx, sessionID, 0)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

// RunJourneyStateStoreContract verifies a JourneyStateStore implementation.
func RunJourneyStateStoreContract(t *testing.T, store JourneyStateStore) {
	ctx := context.Background()
	sessionID := "contract-journeys-" + time.Now().Format("20060102150405")

	t.Run("Load unknown session yields empty map", func(t *testing.T) {
		states, err := store.LoadStates(ctx, sessionID)
		require.NoError(t, err, "lazily created states mean no error for unknown sessions")
		assert.Empty(t, states)
	})

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewJourneyState("reset-password")
		state.Status = domain.JourneyActive
		state.Visit(0)
		state.Visit(1)
		state.Visit(0) // backtrack keeps history

		err := store.SaveStates(ctx, sessionID, map[string]*domain.JourneyState{
			state.JourneyID: state,
		})
		require.NoError(t, err)

		loaded, err := store.LoadStates(ctx, sessionID)
		require.NoError(t, err)
		require.Contains(t, loaded, "reset-password")
		assert.Equal(t, domain.JourneyActive, loaded["reset-password"].Status)
		assert.Equal(t, 0, loaded["reset-password"].CurrentStep)
		assert.Equal(t, []int{0, 1, 0}, loaded["reset-password"].VisitedPath)
	})

	t.Run("Saved states are isolated from caller mutation", func(t *testing.T) {
		loaded, err := store.LoadStates(ctx, sessionID)
		require.NoError(t, err)
		loaded["reset-password"].Visit(3)

		again, err := store.LoadStates(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 0}, again["reset-password"].VisitedPath)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.DeleteStates(ctx, sessionID)
		require.NoError(t, err)

		states, err := store.LoadStates(ctx, sessionID)
		require.NoError(t, err)
		assert.Empty(t, states)
	})
}
