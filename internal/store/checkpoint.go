package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Checkpoint is the scheduler's durable "what runs next" record: the next
// epoch to validate and when it becomes due. It replaces the original
// deployment's ambient at-job files.
type Checkpoint struct {
	NextEpoch uint64
	DueAt     time.Time
	UpdatedAt time.Time
}

// Checkpoint returns the scheduler checkpoint. The second return value
// reports whether one has been seeded.
func (s *Store) Checkpoint(ctx context.Context) (cp Checkpoint, ok bool, err error) {
	defer func() { track(err) }()

	var nextEpoch int64
	row := s.pool.QueryRow(ctx, `
		SELECT next_epoch, due_at, updated_at FROM schedule_checkpoint WHERE id = 1
	`)
	if err = row.Scan(&nextEpoch, &cp.DueAt, &cp.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = nil
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	cp.NextEpoch = uint64(nextEpoch)
	return cp, true, nil
}

// SaveCheckpoint upserts the singleton checkpoint row.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) (err error) {
	defer func() { track(err) }()

	if _, err = s.pool.Exec(ctx, `
		INSERT INTO schedule_checkpoint (id, next_epoch, due_at, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			next_epoch = EXCLUDED.next_epoch,
			due_at = EXCLUDED.due_at,
			updated_at = now()
	`, int64(cp.NextEpoch), cp.DueAt); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// InitCheckpoint seeds the checkpoint. Without override it refuses to
// replace an existing one and returns false.
func (s *Store) InitCheckpoint(ctx context.Context, cp Checkpoint, override bool) (seeded bool, err error) {
	defer func() { track(err) }()

	if override {
		if err = s.SaveCheckpoint(ctx, cp); err != nil {
			return false, err
		}
		return true, nil
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO schedule_checkpoint (id, next_epoch, due_at, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO NOTHING
	`, int64(cp.NextEpoch), cp.DueAt)
	if err != nil {
		return false, fmt.Errorf("failed to init checkpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
