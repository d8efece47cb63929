package idempotency

import (
	"context"
	"sync"
	"time"
)

// memoryGate is a development-only in-memory gate.
// WARNING: not suitable for production — reservations are lost on restart
// and are not shared across instances.
type memoryGate struct {
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	deadline map[string]time.Time
}

func newMemoryGate(window time.Duration) *memoryGate {
	return &memoryGate{
		window:   window,
		now:      time.Now,
		deadline: make(map[string]time.Time),
	}
}

func (g *memoryGate) Reserve(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if until, ok := g.deadline[key]; ok && now.Before(until) {
		return ErrConflict
	}
	g.deadline[key] = now.Add(g.window)
	return nil
}
