// Package service composes the idempotency gate and the queue store into the
// operations the transport layer exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/nextup/internal/platform/analytics"
	"github.com/example/nextup/internal/queue/idempotency"
	"github.com/example/nextup/internal/queue/store"
)

// Error kinds surfaced to the transport layer. Conflict and NotFound come
// straight from the composed packages; Unavailable also covers store and
// gate timeouts.
var (
	ErrConflict    = idempotency.ErrConflict
	ErrNotFound    = store.ErrNotFound
	ErrUnavailable = idempotency.ErrUnavailable
)

const defaultOpTimeout = 5 * time.Second

type Service struct {
	store   store.Store
	gate    idempotency.Gate
	events  *analytics.Publisher
	log     *zap.Logger
	timeout time.Duration
}

// New wires the façade. events may be nil (no-op publisher); timeout <= 0
// falls back to 5s.
func New(st store.Store, gate idempotency.Gate, events *analytics.Publisher, log *zap.Logger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Service{store: st, gate: gate, events: events, log: log, timeout: timeout}
}

// Enqueue appends contentID to the user's queue. An empty key opts out of
// idempotency. Enqueueing is purely additive, so a gate outage fails open:
// the mutation proceeds without duplicate protection.
func (s *Service) Enqueue(ctx context.Context, userID uuid.UUID, contentID, key string) (store.Entry, error) {
	if err := s.reserve(ctx, key); err != nil {
		if !errors.Is(err, ErrUnavailable) {
			return store.Entry{}, err
		}
		s.log.Warn("idempotency gate unavailable, enqueuing unprotected",
			zap.String("user_id", userID.String()), zap.Error(err))
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	e, err := s.store.EnqueueTail(opCtx, userID, contentID)
	if err != nil {
		return store.Entry{}, s.storeErr("enqueue", err)
	}
	s.events.Publish(analytics.SubjectQueueEnqueued, "queue_enqueued", userID.String(),
		map[string]any{"entry_id": e.ID.String(), "content_id": contentID})
	return e, nil
}

// Advance pops the head of the queue. No gate: re-advancing simply returns
// the next entry, which is the retry semantics clients want anyway.
// Returns (nil, nil) on an empty queue.
func (s *Service) Advance(ctx context.Context, userID uuid.UUID) (*store.Entry, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	e, err := s.store.Advance(opCtx, userID)
	if err != nil {
		return nil, s.storeErr("advance", err)
	}
	if e != nil {
		s.events.Publish(analytics.SubjectQueueAdvanced, "queue_advanced", userID.String(),
			map[string]any{"entry_id": e.ID.String(), "content_id": e.ContentID})
	}
	return e, nil
}

// Reorder moves entryID after afterID (nil means to the front). Reordering
// twice is not a no-op, so a gate outage fails closed.
func (s *Service) Reorder(ctx context.Context, userID, entryID uuid.UUID, afterID *uuid.UUID, key string) (store.Entry, error) {
	if err := s.reserve(ctx, key); err != nil {
		return store.Entry{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	e, err := s.store.Move(opCtx, userID, entryID, afterID)
	if err != nil {
		return store.Entry{}, s.storeErr("reorder", err)
	}
	s.events.Publish(analytics.SubjectQueueMoved, "queue_moved", userID.String(),
		map[string]any{"entry_id": e.ID.String()})
	return e, nil
}

// Remove deletes an entry without playing it.
func (s *Service) Remove(ctx context.Context, userID, entryID uuid.UUID) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Remove(opCtx, userID, entryID); err != nil {
		return s.storeErr("remove", err)
	}
	s.events.Publish(analytics.SubjectQueueRemoved, "queue_removed", userID.String(),
		map[string]any{"entry_id": entryID.String()})
	return nil
}

// AttachSession records the playback session started for an entry. Called
// by the playback service when consumption of the head entry begins.
func (s *Service) AttachSession(ctx context.Context, userID, entryID uuid.UUID, sessionID string) (store.Entry, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	e, err := s.store.AttachSession(opCtx, userID, entryID, sessionID)
	if err != nil {
		return store.Entry{}, s.storeErr("attach session", err)
	}
	return e, nil
}

// Peek returns the head entry without consuming it, or nil when empty.
func (s *Service) Peek(ctx context.Context, userID uuid.UUID) (*store.Entry, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	e, err := s.store.PeekHead(opCtx, userID)
	if err != nil {
		return nil, s.storeErr("peek", err)
	}
	return e, nil
}

// List returns the whole queue in play order.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]store.Entry, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.store.List(opCtx, userID)
	if err != nil {
		return nil, s.storeErr("list", err)
	}
	return entries, nil
}

// reserve claims the idempotency key; an empty key is a no-op reservation.
func (s *Service) reserve(ctx context.Context, key string) error {
	if key == "" || s.gate == nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.gate.Reserve(opCtx, key)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: reserve timed out", ErrUnavailable)
	}
	return err
}

// storeErr maps a timed-out store round-trip to Unavailable and passes
// everything else through unchanged.
func (s *Service) storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out", ErrUnavailable, op)
	}
	return err
}
