package lock

import (
	"context"
	"fmt"
	"sync"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalGateway serializes critical sections within a single process. Use
// the Postgres gateway instead when multiple instances share one context
// store.
type LocalGateway struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

// NewLocalGateway creates an in-process gateway.
func NewLocalGateway() *LocalGateway {
	return &LocalGateway{entries: map[string]*localEntry{}}
}

// Acquire blocks until the (name, resource) lock is free or ctx is done.
func (g *LocalGateway) Acquire(ctx context.Context, name, resource string) (ReleaseFunc, error) {
	key := name + "\x00" + resource

	g.mu.Lock()
	entry, ok := g.entries[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		g.entries[key] = entry
	}
	entry.refs++
	g.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		g.unref(key, entry)
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			<-entry.sem
			g.unref(key, entry)
		})
		return nil
	}
	return release, nil
}

func (g *LocalGateway) unref(key string, entry *localEntry) {
	g.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(g.entries, key)
	}
	g.mu.Unlock()
}
