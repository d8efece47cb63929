// Package idempotency deduplicates client-retried queue mutations.
//
// A reservation holds a client-supplied key for a bounded window; within the
// window a second submission of the same key is rejected. This is best-effort
// deduplication on top of an expiring key-value store, not a transactional
// ledger: a reservation whose mutation never ran still blocks retries until
// the window lapses.
//
// Primary backend: Redis SETNX with TTL (env REDIS_DSN).
// Fallback: Postgres INSERT ... ON CONFLICT (env DATABASE_URL).
// If neither is available, an in-memory gate is used (development only).
package idempotency

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict means the key is already reserved within its window.
	ErrConflict = errors.New("idempotency: key already reserved")
	// ErrUnavailable means the backing store could not be reached; the
	// caller decides whether to fail open or closed.
	ErrUnavailable = errors.New("idempotency: backend unavailable")
)

// Gate reserves idempotency keys.
type Gate interface {
	// Reserve atomically claims key for the configured window. Exactly one
	// of two racing callers wins; the loser gets ErrConflict.
	Reserve(ctx context.Context, key string) error
}

// DefaultWindow is how long a reservation blocks duplicates.
const DefaultWindow = 24 * time.Hour

// New creates the best available gate: Redis > Postgres > in-memory.
// When isProd is true the in-memory fallback is not allowed and the function
// returns nil with an error.
func New(redisDSN, databaseURL string, window time.Duration, isProd bool) (Gate, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if redisDSN != "" {
		return newRedisGate(redisDSN, window), nil
	}
	if databaseURL != "" {
		return newPostgresGate(databaseURL, window), nil
	}
	if isProd {
		return nil, errors.New("production requires REDIS_DSN or DATABASE_URL for idempotency; in-memory gate is not allowed")
	}
	return newMemoryGate(window), nil
}
