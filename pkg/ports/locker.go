package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates session access across replicas. Concurrent
// turns on the same session must serialize on the session's append point;
// the session manager takes this lock (when configured) around each turn.
type DistributedLocker interface {
	// Lock acquires a lock for the key, blocking until acquired or the
	// context is cancelled. The returned UnlockFunc MUST be called.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
