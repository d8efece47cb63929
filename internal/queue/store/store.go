package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an entry does not exist for the given user.
var ErrNotFound = errors.New("store: queue entry not found")

// Entry is one item in a user's playback queue. Position is the ordering
// key: smaller plays earlier, and positions are unique per user.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	ContentID string    `json:"content_id"`
	Position  float64   `json:"position"`
	// SessionID links the entry to an active playback session, if any.
	// Session lifecycle is owned by the playback service.
	SessionID *string   `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists the per-user ordered queue. All mutating calls for the same
// user are linearized by the implementation; different users never contend.
type Store interface {
	// PeekHead returns the entry with the smallest position, or nil when
	// the queue is empty. Read-only.
	PeekHead(ctx context.Context, userID uuid.UUID) (*Entry, error)
	// List returns the user's whole queue in play order.
	List(ctx context.Context, userID uuid.UUID) ([]Entry, error)
	// EnqueueTail appends a new entry after the current maximum position.
	EnqueueTail(ctx context.Context, userID uuid.UUID, contentID string) (Entry, error)
	// InsertAfter places a new entry between afterID and its successor.
	InsertAfter(ctx context.Context, userID uuid.UUID, contentID string, afterID uuid.UUID) (Entry, error)
	// Advance removes and returns the head entry, or nil when empty. The
	// removed id is never reused.
	Advance(ctx context.Context, userID uuid.UUID) (*Entry, error)
	// Move relocates an existing entry after afterID, or to the front when
	// afterID is nil. Only position and updated_at change.
	Move(ctx context.Context, userID, entryID uuid.UUID, afterID *uuid.UUID) (Entry, error)
	// Remove deletes an entry outright.
	Remove(ctx context.Context, userID, entryID uuid.UUID) error
	// AttachSession records the playback session id on an entry.
	AttachSession(ctx context.Context, userID, entryID uuid.UUID, sessionID string) (Entry, error)
}
