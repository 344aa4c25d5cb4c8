// Package lock provides named, resource-scoped mutual exclusion for the
// dedup critical section. Locks for different resources never contend;
// concurrent acquisitions of the same resource are serialized.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired reports that the gateway could not grant the lock. The
// pipeline treats this as fatal for the invocation: the critical section
// never runs and no context mutation happens.
var ErrNotAcquired = errors.New("lock not acquired")

// ReleaseFunc releases a held lock. It must be called on every exit path
// of the critical section it scopes.
type ReleaseFunc func(ctx context.Context) error

// Gateway grants scoped locks. Acquire blocks until the lock is granted,
// the context is cancelled, or the backend fails.
type Gateway interface {
	Acquire(ctx context.Context, name, resource string) (ReleaseFunc, error)
}
