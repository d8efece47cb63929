package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/nextup/internal/queue/position"
)

// InMemoryStore keeps queues in process memory. Used in development and as
// the test fake; production runs PostgresStore.
//
// Each user gets their own lock so mutations for different users never
// contend. The outer mutex only guards the stripe map itself.
type InMemoryStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*userQueue
}

type userQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[uuid.UUID]*userQueue)}
}

func (s *InMemoryStore) queue(userID uuid.UUID) *userQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.users[userID]
	if !ok {
		q = &userQueue{entries: make(map[uuid.UUID]*Entry)}
		s.users[userID] = q
	}
	return q
}

func (s *InMemoryStore) PeekHead(_ context.Context, userID uuid.UUID) (*Entry, error) {
	q := s.queue(userID)
	q.mu.Lock()
	defer q.mu.Unlock()

	head := q.head(uuid.Nil)
	if head == nil {
		return nil, nil
	}
	cp := *head
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context, userID uuid.UUID) ([]Entry, error) {
	q := s.queue(userID)
	q.mu.Lock()
	defer q.mu.Unlock()

	ordered := q.sorted()
	out := make([]Entry, len(ordered))
	for i, e := range ordered {
		out[i] = *e
	}
	return out, nil
}

func (s *InMemoryStore) EnqueueTail(_ context.Context, userID uuid.UUID, contentID string) (Entry, error) {
	q := s.queue(userID)
	q.mu.Lock()
	defer q.mu.Unlock()

	// Appending always has room: Append never splits a gap.
	pos := position.Append(q.maxPosition())
	return q.insert(userID, contentID, pos), nil
}

func (s *InMemoryStore) InsertAfter(_ context.Context, userID uuid.UUID, contentID string, afterID uuid.UUID) (Entry, error) {
	q := s.queue(userID)
	q.mu.Lock()
	defer q.mu.Unlock()

	pos, err := q.between(afterID, uuid.Nil)
	if err != nil {
		return Entry{}, err
	}
	return q.insert(userID, contentID, pos), nil
}

func (s *InMemoryStore) Advance(_ context.Context, userID uuid.UUID) (*Entry, error) {
	q := s.queue(userID)
	q.mu.Lock()
	defer q.mu.Unlock()

	head := q.head(uuid.Nil)
	if head == nil {
		return nil, nil
	}
	delete(q.entries, head.ID)
	cp := *head
	return &cp, nil
}

func (s *InMemoryStore) Move(_ context.Context, userID, entryID uuid.UUID, afterID *uuid.UUID) (Entry, error) {
	q := s.queue(userID)
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[entryID]
	if !ok {
		return Entry{}, ErrNotFound
	}

	var pos float64
	var err error
	if afterID == nil {
		pos, err = q.beforeHead(entryID)
	} else {
		pos, err = q.between(*afterID, entryID)
	}
	if err != nil {
		return Entry{}, err
	}

	e.Position = pos
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	return cp, nil
}

func (s *InMemoryStore) Remove(_ context.Context, userID, entryID uuid.UUID) error {
	q := s.queue(userID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[entryID]; !ok {
		return ErrNotFound
	}
	delete(q.entries, entryID)
	return nil
}

func (s *InMemoryStore) AttachSession(_ context.Context, userID, entryID uuid.UUID, sessionID string) (Entry, error) {
	q := s.queue(userID)
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[entryID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.SessionID = &sessionID
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	return cp, nil
}

// ─── helpers (caller holds q.mu) ────────────────────────────────────────────

func (q *userQueue) insert(userID uuid.UUID, contentID string, pos float64) Entry {
	now := time.Now().UTC()
	e := &Entry{
		ID:        uuid.New(),
		UserID:    userID,
		ContentID: contentID,
		Position:  pos,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.entries[e.ID] = e
	return *e
}

// between computes a position after afterID, ignoring excluding (the entry
// being moved, if any). Renumbers and retries once on spacing exhaustion.
func (q *userQueue) between(afterID, excluding uuid.UUID) (float64, error) {
	compute := func() (float64, error) {
		after, ok := q.entries[afterID]
		if !ok {
			return 0, ErrNotFound
		}
		lower := after.Position
		return position.Between(&lower, q.successorPosition(lower, excluding))
	}

	pos, err := compute()
	if errors.Is(err, position.ErrExhausted) {
		q.renumber()
		pos, err = compute()
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("allocate position: %w", err)
	}
	return pos, err
}

// beforeHead computes a position ahead of the current head, ignoring the
// entry being moved.
func (q *userQueue) beforeHead(excluding uuid.UUID) (float64, error) {
	compute := func() (float64, error) {
		var upper *float64
		if head := q.head(excluding); head != nil {
			p := head.Position
			upper = &p
		}
		return position.Between(nil, upper)
	}

	pos, err := compute()
	if errors.Is(err, position.ErrExhausted) {
		q.renumber()
		pos, err = compute()
	}
	if err != nil {
		return 0, fmt.Errorf("allocate position: %w", err)
	}
	return pos, nil
}

func (q *userQueue) head(excluding uuid.UUID) *Entry {
	var head *Entry
	for _, e := range q.entries {
		if e.ID == excluding {
			continue
		}
		if head == nil || e.Position < head.Position {
			head = e
		}
	}
	return head
}

func (q *userQueue) maxPosition() *float64 {
	var max *float64
	for _, e := range q.entries {
		if max == nil || e.Position > *max {
			p := e.Position
			max = &p
		}
	}
	return max
}

func (q *userQueue) successorPosition(after float64, excluding uuid.UUID) *float64 {
	var next *float64
	for _, e := range q.entries {
		if e.ID == excluding || e.Position <= after {
			continue
		}
		if next == nil || e.Position < *next {
			p := e.Position
			next = &p
		}
	}
	return next
}

func (q *userQueue) sorted() []*Entry {
	out := make([]*Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// renumber respaces the whole queue evenly. This is the only path that
// rewrites positions of entries other than the one being inserted or moved.
func (q *userQueue) renumber() {
	for i, e := range q.sorted() {
		e.Position = position.Start + float64(i)*position.Step
	}
}
