package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/nextup/internal/queue/position"
)

// PostgresStore is the production implementation.
//
// Expected schema (managed by migrations elsewhere):
//
//	queue_entries (
//	    id         uuid primary key,
//	    user_id    uuid not null,
//	    content_id text not null,
//	    position   double precision not null,
//	    session_id text,
//	    created_at timestamptz not null,
//	    updated_at timestamptz not null
//	)
//	btree index on (user_id, position)
//
// Position uniqueness per user is guaranteed by serializing all mutations
// for a user behind pg_advisory_xact_lock, not by a constraint, so the
// renumbering pass can rewrite positions in a single statement.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const entryColumns = `id, user_id, content_id, position, session_id, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.UserID, &e.ContentID, &e.Position, &e.SessionID, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// withUserLock runs fn in a transaction holding the user's advisory lock.
// The lock releases on commit or rollback, so every mutation for one user
// is linearized while different users proceed in parallel.
func (s *PostgresStore) withUserLock(ctx context.Context, userID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(userID)); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func lockKey(userID uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(userID[:])
	return int64(h.Sum64())
}

func (s *PostgresStore) PeekHead(ctx context.Context, userID uuid.UUID) (*Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM queue_entries WHERE user_id=$1 ORDER BY position LIMIT 1`
	e, err := scanEntry(s.pool.QueryRow(ctx, q, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek head: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) List(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM queue_entries WHERE user_id=$1 ORDER BY position`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EnqueueTail(ctx context.Context, userID uuid.UUID, contentID string) (Entry, error) {
	var e Entry
	err := s.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		var max *float64
		if err := tx.QueryRow(ctx,
			`SELECT MAX(position) FROM queue_entries WHERE user_id=$1`, userID).Scan(&max); err != nil {
			return err
		}
		var err error
		e, err = insertEntry(ctx, tx, userID, contentID, position.Append(max))
		return err
	})
	if err != nil {
		return Entry{}, fmt.Errorf("enqueue tail: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) InsertAfter(ctx context.Context, userID uuid.UUID, contentID string, afterID uuid.UUID) (Entry, error) {
	var e Entry
	err := s.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		pos, err := s.allocateAfter(ctx, tx, userID, afterID, uuid.Nil)
		if err != nil {
			return err
		}
		e, err = insertEntry(ctx, tx, userID, contentID, pos)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("insert after: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Advance(ctx context.Context, userID uuid.UUID) (*Entry, error) {
	var head *Entry
	err := s.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		q := `DELETE FROM queue_entries
		      WHERE id = (SELECT id FROM queue_entries WHERE user_id=$1 ORDER BY position LIMIT 1)
		      RETURNING ` + entryColumns
		e, err := scanEntry(tx.QueryRow(ctx, q, userID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		head = &e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advance: %w", err)
	}
	return head, nil
}

func (s *PostgresStore) Move(ctx context.Context, userID, entryID uuid.UUID, afterID *uuid.UUID) (Entry, error) {
	var e Entry
	err := s.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		var pos float64
		var err error
		if afterID == nil {
			pos, err = s.allocateBeforeHead(ctx, tx, userID, entryID)
		} else {
			pos, err = s.allocateAfter(ctx, tx, userID, *afterID, entryID)
		}
		if err != nil {
			return err
		}

		q := `UPDATE queue_entries SET position=$3, updated_at=$4
		      WHERE user_id=$1 AND id=$2
		      RETURNING ` + entryColumns
		e, err = scanEntry(tx.QueryRow(ctx, q, userID, entryID, pos, time.Now().UTC()))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("move: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Remove(ctx context.Context, userID, entryID uuid.UUID) error {
	err := s.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM queue_entries WHERE user_id=$1 AND id=$2`, userID, entryID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

func (s *PostgresStore) AttachSession(ctx context.Context, userID, entryID uuid.UUID, sessionID string) (Entry, error) {
	var e Entry
	err := s.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		q := `UPDATE queue_entries SET session_id=$3, updated_at=$4
		      WHERE user_id=$1 AND id=$2
		      RETURNING ` + entryColumns
		var err error
		e, err = scanEntry(tx.QueryRow(ctx, q, userID, entryID, sessionID, time.Now().UTC()))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("attach session: %w", err)
	}
	return e, nil
}

// ─── position allocation inside a locked transaction ────────────────────────

func insertEntry(ctx context.Context, tx pgx.Tx, userID uuid.UUID, contentID string, pos float64) (Entry, error) {
	now := time.Now().UTC()
	e := Entry{
		ID:        uuid.New(),
		UserID:    userID,
		ContentID: contentID,
		Position:  pos,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO queue_entries (id, user_id, content_id, position, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.UserID, e.ContentID, e.Position, e.CreatedAt, e.UpdatedAt)
	return e, err
}

// allocateAfter computes a position between afterID and its successor,
// renumbering the queue and retrying once if the gap is exhausted.
// excluding (usually the entry being moved) is skipped when looking for the
// successor; pass uuid.Nil for inserts.
func (s *PostgresStore) allocateAfter(ctx context.Context, tx pgx.Tx, userID, afterID, excluding uuid.UUID) (float64, error) {
	pos, err := s.tryAllocateAfter(ctx, tx, userID, afterID, excluding)
	if errors.Is(err, position.ErrExhausted) {
		if err = s.renumber(ctx, tx, userID); err != nil {
			return 0, err
		}
		pos, err = s.tryAllocateAfter(ctx, tx, userID, afterID, excluding)
	}
	return pos, err
}

func (s *PostgresStore) tryAllocateAfter(ctx context.Context, tx pgx.Tx, userID, afterID, excluding uuid.UUID) (float64, error) {
	var lower float64
	err := tx.QueryRow(ctx,
		`SELECT position FROM queue_entries WHERE user_id=$1 AND id=$2`,
		userID, afterID).Scan(&lower)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	var upper *float64
	var next float64
	err = tx.QueryRow(ctx,
		`SELECT position FROM queue_entries
		 WHERE user_id=$1 AND position > $2 AND id <> $3
		 ORDER BY position LIMIT 1`,
		userID, lower, excluding).Scan(&next)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// afterID is the tail; append behind it.
	case err != nil:
		return 0, err
	default:
		upper = &next
	}
	return position.Between(&lower, upper)
}

func (s *PostgresStore) allocateBeforeHead(ctx context.Context, tx pgx.Tx, userID, excluding uuid.UUID) (float64, error) {
	pos, err := s.tryAllocateBeforeHead(ctx, tx, userID, excluding)
	if errors.Is(err, position.ErrExhausted) {
		if err = s.renumber(ctx, tx, userID); err != nil {
			return 0, err
		}
		pos, err = s.tryAllocateBeforeHead(ctx, tx, userID, excluding)
	}
	return pos, err
}

func (s *PostgresStore) tryAllocateBeforeHead(ctx context.Context, tx pgx.Tx, userID, excluding uuid.UUID) (float64, error) {
	var upper *float64
	var head float64
	err := tx.QueryRow(ctx,
		`SELECT position FROM queue_entries
		 WHERE user_id=$1 AND id <> $2
		 ORDER BY position LIMIT 1`,
		userID, excluding).Scan(&head)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Moving the only entry; any position works.
	case err != nil:
		return 0, err
	default:
		upper = &head
	}
	return position.Between(nil, upper)
}

// renumber respaces all of the user's entries evenly. Runs inside the
// caller's locked transaction so no reader observes a partial rewrite.
func (s *PostgresStore) renumber(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		WITH ranked AS (
			SELECT id, (ROW_NUMBER() OVER (ORDER BY position) - 1)::double precision AS rn
			FROM queue_entries
			WHERE user_id = $1
		)
		UPDATE queue_entries e
		SET position = $2 + ranked.rn * $3
		FROM ranked
		WHERE e.id = ranked.id`,
		userID, position.Start, position.Step)
	return err
}
