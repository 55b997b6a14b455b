package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tiller/pkg/adapters/memory"
	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/session"
)

func TestManager_SerializesTurnsPerSession(t *testing.T) {
	store := memory.NewStore()
	manager := session.NewManager(store, store)
	ctx := context.Background()
	id := "race-test"

	var inFlight int32
	var maxInFlight int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.WithLock(ctx, id, func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					max := atomic.LoadInt32(&maxInFlight)
					if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond) // Simulate IO
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight, "same-session work never interleaves")
}

func TestManager_StartIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	manager := session.NewManager(store, store)
	ctx := context.Background()
	id := "atomic-init"

	var wg sync.WaitGroup
	// Launch 2 routines trying to init same session
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, manager.Start(ctx, id))
		}()
	}
	wg.Wait()

	events, err := manager.History(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1, "initialization appends exactly one event")
}

func TestManager_AppendCustomerMessage(t *testing.T) {
	store := memory.NewStore()
	manager := session.NewManager(store, store)
	ctx := context.Background()

	offset, err := manager.AppendCustomerMessage(ctx, "s1", "Dana", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), offset)

	events, err := manager.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SourceCustomer, events[0].Source)

	data, ok := events[0].Data.(domain.MessageData)
	require.True(t, ok)
	assert.Equal(t, "hello", data.Text)
	assert.Equal(t, "Dana", data.Participant)
}

func TestManager_DeleteRemovesLogAndJourneyState(t *testing.T) {
	store := memory.NewStore()
	manager := session.NewManager(store, store)
	ctx := context.Background()

	_, err := manager.AppendCustomerMessage(ctx, "s1", "Dana", "hello")
	require.NoError(t, err)
	require.NoError(t, store.SaveStates(ctx, "s1", map[string]*domain.JourneyState{
		"reset": {JourneyID: "reset", Status: domain.JourneyActive},
	}))

	require.NoError(t, manager.Delete(ctx, "s1"))

	_, err = manager.History(ctx, "s1", 0)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	states, err := store.LoadStates(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, states)
}
