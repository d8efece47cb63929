package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisGate struct {
	client *redis.Client
	window time.Duration
}

func newRedisGate(dsn string, window time.Duration) *redisGate {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	return &redisGate{
		client: redis.NewClient(opts),
		window: window,
	}
}

func (g *redisGate) Reserve(ctx context.Context, key string) error {
	// SETNX: set only if absent, with the window as TTL. Redis guarantees
	// exactly one of two racing callers sees set=true.
	set, err := g.client.SetNX(ctx, "queue:idem:"+key, 1, g.window).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !set {
		return ErrConflict
	}
	return nil
}
