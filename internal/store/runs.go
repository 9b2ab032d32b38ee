package store

import (
	"context"
	"fmt"
	"time"
)

// Run states persisted in validation_runs. PENDING and DUE are implicit in
// the scheduler checkpoint; a row only exists once a run starts.
const (
	RunStateRunning  = "running"
	RunStateComplete = "complete"
	RunStateFailed   = "failed"
	RunStateDeferred = "deferred"
)

// ValidationRun is the scheduler's durable checkpoint of one pass.
type ValidationRun struct {
	ID          int64
	Epoch       uint64
	State       string
	Outcome     string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// CreateRun records the start of a validation pass and returns its id.
func (s *Store) CreateRun(ctx context.Context, epoch uint64) (id int64, err error) {
	defer func() { track(err) }()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO validation_runs (epoch, state) VALUES ($1, $2) RETURNING id
	`, int64(epoch), RunStateRunning)
	if err = row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create validation run: %w", err)
	}
	return id, nil
}

// CompleteRun marks a run terminal-complete. Exactly one terminal complete
// run is expected per epoch.
func (s *Store) CompleteRun(ctx context.Context, id int64) (err error) {
	defer func() { track(err) }()

	if _, err = s.pool.Exec(ctx, `
		UPDATE validation_runs
		SET state = $2, outcome = $2, completed_at = now()
		WHERE id = $1
	`, id, RunStateComplete); err != nil {
		return fmt.Errorf("failed to complete validation run %d: %w", id, err)
	}
	return nil
}

// FailRun marks a run failed with a reason. The epoch goes back to DUE and
// is retried on a later tick.
func (s *Store) FailRun(ctx context.Context, id int64, reason string) (err error) {
	defer func() { track(err) }()

	if _, err = s.pool.Exec(ctx, `
		UPDATE validation_runs
		SET state = $2, outcome = $3, completed_at = now()
		WHERE id = $1
	`, id, RunStateFailed, reason); err != nil {
		return fmt.Errorf("failed to fail validation run %d: %w", id, err)
	}
	return nil
}

// DeferRun marks a run deferred: the epoch's data was not complete yet, so
// the pass ended early. Deferred runs do not count toward escalation.
func (s *Store) DeferRun(ctx context.Context, id int64, reason string) (err error) {
	defer func() { track(err) }()

	if _, err = s.pool.Exec(ctx, `
		UPDATE validation_runs
		SET state = $2, outcome = $3, completed_at = now()
		WHERE id = $1
	`, id, RunStateDeferred, reason); err != nil {
		return fmt.Errorf("failed to defer validation run %d: %w", id, err)
	}
	return nil
}

// CountFailedRuns counts failed runs for an epoch. An epoch either
// eventually completes or keeps failing, so this is the consecutive
// failure count used for escalation.
func (s *Store) CountFailedRuns(ctx context.Context, epoch uint64) (count int, err error) {
	defer func() { track(err) }()

	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM validation_runs WHERE epoch = $1 AND state = $2
	`, int64(epoch), RunStateFailed)
	if err = row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed runs: %w", err)
	}
	return count, nil
}

// LatestRun returns the most recent run for an epoch, if any.
func (s *Store) LatestRun(ctx context.Context, epoch uint64) (run ValidationRun, ok bool, err error) {
	defer func() { track(err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT id, epoch, state, outcome, started_at, completed_at
		FROM validation_runs
		WHERE epoch = $1
		ORDER BY id DESC
		LIMIT 1
	`, int64(epoch))
	if err != nil {
		return ValidationRun{}, false, fmt.Errorf("failed to query latest run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return ValidationRun{}, false, rows.Err()
	}
	var e int64
	if err = rows.Scan(&run.ID, &e, &run.State, &run.Outcome, &run.StartedAt, &run.CompletedAt); err != nil {
		return ValidationRun{}, false, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Epoch = uint64(e)
	return run, true, nil
}

// ForceFailRunning marks every running run failed and releases all run
// locks. Operator escape hatch for a stuck deployment.
func (s *Store) ForceFailRunning(ctx context.Context, reason string) (count int64, err error) {
	defer func() { track(err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE validation_runs
		SET state = $1, outcome = $2, completed_at = now()
		WHERE state = $3
	`, RunStateFailed, reason, RunStateRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to force-fail running runs: %w", err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM run_locks`); err != nil {
		return 0, fmt.Errorf("failed to release run locks: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit force-fail: %w", err)
	}
	return tag.RowsAffected(), nil
}
