package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGGateway serializes critical sections across process instances using
// Postgres session advisory locks. Each held lock pins one pooled
// connection until released.
type PGGateway struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGGateway creates an advisory-lock gateway on the given pool.
func NewPGGateway(log *slog.Logger, pool *pgxpool.Pool) *PGGateway {
	if log == nil {
		log = slog.Default()
	}
	return &PGGateway{
		pool:   pool,
		logger: log.With(slog.String("component", "lock_pg")),
	}
}

// Acquire takes the session advisory lock keyed by (name, resource).
// Blocks server-side until granted; cancelling ctx aborts the wait.
func (g *PGGateway) Acquire(ctx context.Context, name, resource string) (ReleaseFunc, error) {
	id := advisoryKey(name, resource)
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %v", ErrNotAcquired, err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, id); err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: pg_advisory_lock: %v", ErrNotAcquired, err)
	}

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			defer conn.Release()
			if _, unlockErr := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, id); unlockErr != nil {
				// The session still holds the lock; releasing the
				// connection closes the session and frees it server-side.
				g.logger.Warn("advisory unlock failed",
					slog.String("name", name),
					slog.String("resource", resource),
					slog.Any("error", unlockErr),
				)
				err = fmt.Errorf("pg_advisory_unlock: %w", unlockErr)
			}
		})
		return err
	}
	return release, nil
}

func advisoryKey(name, resource string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(resource))
	return int64(h.Sum64())
}
