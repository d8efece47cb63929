package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresGate struct {
	dsn    string
	window time.Duration

	mu        sync.Mutex
	pool      *pgxpool.Pool // lazily initialised on first Reserve call
	lastSweep time.Time
}

func newPostgresGate(dsn string, window time.Duration) *postgresGate {
	return &postgresGate{dsn: dsn, window: window}
}

func (g *postgresGate) ensurePool(ctx context.Context) (*pgxpool.Pool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pool != nil {
		return g.pool, nil
	}
	pool, err := pgxpool.New(ctx, g.dsn)
	if err != nil {
		return nil, err
	}
	g.pool = pool
	return pool, nil
}

// Reserve claims the key via INSERT ... ON CONFLICT. A conflicting row whose
// window has lapsed is taken over in the same statement, so expired keys
// behave as absent. Table `idempotency_keys` must exist (see migrations).
func (g *postgresGate) Reserve(ctx context.Context, key string) error {
	pool, err := g.ensurePool(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g.maybeSweep(ctx, pool)

	const q = `INSERT INTO idempotency_keys (key, expires_at)
	           VALUES ($1, $2)
	           ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
	           WHERE idempotency_keys.expires_at <= now()`

	tag, err := pool.Exec(ctx, q, key, time.Now().UTC().Add(g.window))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// RowsAffected == 0 means a live reservation blocked both the insert
	// and the expired-takeover update.
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// maybeSweep opportunistically clears expired rows, at most once per quarter
// window, so the table does not grow without bound.
func (g *postgresGate) maybeSweep(ctx context.Context, pool *pgxpool.Pool) {
	g.mu.Lock()
	due := time.Since(g.lastSweep) >= g.window/4
	if due {
		g.lastSweep = time.Now()
	}
	g.mu.Unlock()
	if !due {
		return
	}
	_, _ = pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= now()`)
}
