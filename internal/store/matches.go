package store

import (
	"context"
	"fmt"

	"github.com/MinaFoundation/uptime-service-validation/internal/payout"
)

// ReplaceMatches replaces the recorded matches for one producer and epoch
// with the results of the given run. Matches are recomputed in full each
// pass because late transactions can still arrive until the deadline.
func (s *Store) ReplaceMatches(ctx context.Context, runID int64, producer string, epoch uint64, results []payout.MatchResult) (err error) {
	defer func() { track(err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, `
		DELETE FROM match_results WHERE producer_key = $1 AND epoch = $2
	`, producer, int64(epoch)); err != nil {
		return fmt.Errorf("failed to delete stale matches: %w", err)
	}

	for _, r := range results {
		if _, err = tx.Exec(ctx, `
			INSERT INTO match_results (run_id, producer_key, epoch, tx_hash, slot, amount, criterion)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, runID, r.Producer, int64(r.Epoch), r.TxHash, int64(r.Slot), int64(r.Amount), string(r.Criterion)); err != nil {
			return fmt.Errorf("failed to insert match result: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit match results: %w", err)
	}
	return nil
}

// Credited returns the total credited amount for one producer and epoch.
func (s *Store) Credited(ctx context.Context, producer string, epoch uint64) (credited uint64, err error) {
	defer func() { track(err) }()

	var total int64
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT
		FROM match_results
		WHERE producer_key = $1 AND epoch = $2
	`, producer, int64(epoch))
	if err = row.Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to query credited amount: %w", err)
	}
	return uint64(total), nil
}

// DirectCredited returns the credited amount for one producer and epoch
// counting only on-chain payments. Carry-over credits are excluded so
// surplus from one epoch never chains through later carry-over rows.
func (s *Store) DirectCredited(ctx context.Context, producer string, epoch uint64) (credited uint64, err error) {
	defer func() { track(err) }()

	var total int64
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT
		FROM match_results
		WHERE producer_key = $1 AND epoch = $2 AND criterion <> $3
	`, producer, int64(epoch), string(payout.CriterionCarryOver))
	if err = row.Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to query direct credited amount: %w", err)
	}
	return uint64(total), nil
}

// Matches returns the recorded match results for one producer and epoch.
func (s *Store) Matches(ctx context.Context, producer string, epoch uint64) (results []payout.MatchResult, err error) {
	defer func() { track(err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT producer_key, epoch, tx_hash, slot, amount, criterion
		FROM match_results
		WHERE producer_key = $1 AND epoch = $2
		ORDER BY slot, id
	`, producer, int64(epoch))
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r payout.MatchResult
		var e, slot, amount int64
		var criterion string
		if err = rows.Scan(&r.Producer, &e, &r.TxHash, &slot, &amount, &criterion); err != nil {
			return nil, fmt.Errorf("failed to scan match result: %w", err)
		}
		r.Epoch = uint64(e)
		r.Slot = uint64(slot)
		r.Amount = uint64(amount)
		r.Criterion = payout.Criterion(criterion)
		results = append(results, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read matches: %w", err)
	}
	return results, nil
}
