package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AcquireRunLock takes the run lock for an epoch. At most one unexpired
// lock may exist across all epochs; a lock older than staleness is
// reclaimable so a crashed run does not wedge the scheduler forever.
// Returns ErrConcurrentRun if another holder has an unexpired lock.
func (s *Store) AcquireRunLock(ctx context.Context, epoch uint64, holder string, staleness time.Duration) (err error) {
	defer func() { track(err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// At-most-one-in-flight across all epochs.
	var otherEpoch int64
	var otherHolder string
	row := tx.QueryRow(ctx, `
		SELECT epoch, holder FROM run_locks
		WHERE holder <> $1 AND locked_at >= now() - make_interval(secs => $2)
		LIMIT 1
	`, holder, staleness.Seconds())
	switch err = row.Scan(&otherEpoch, &otherHolder); {
	case err == nil:
		return fmt.Errorf("%w: epoch %d locked by %s", ErrConcurrentRun, otherEpoch, otherHolder)
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("failed to inspect run locks: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO run_locks (epoch, holder, locked_at)
		VALUES ($1, $2, now())
		ON CONFLICT (epoch) DO UPDATE SET holder = EXCLUDED.holder, locked_at = now()
		WHERE run_locks.holder = EXCLUDED.holder
		   OR run_locks.locked_at < now() - make_interval(secs => $3)
	`, int64(epoch), holder, staleness.Seconds())
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: epoch %d lock is held", ErrConcurrentRun, epoch)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run lock: %w", err)
	}
	return nil
}

// ReleaseRunLock drops the lock if the caller still holds it. Releasing a
// lock that was already reclaimed is not an error.
func (s *Store) ReleaseRunLock(ctx context.Context, epoch uint64, holder string) (err error) {
	defer func() { track(err) }()

	if _, err = s.pool.Exec(ctx, `
		DELETE FROM run_locks WHERE epoch = $1 AND holder = $2
	`, int64(epoch), holder); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
