package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MinaFoundation/uptime-service-validation/internal/payout"
	"github.com/MinaFoundation/uptime-service-validation/internal/scoring"
)

// SaveRequirement upserts a payout requirement. Recomputing with the same
// inputs is idempotent; requirements are never edited after their deadline
// (the auditor stops recomputing closed epochs).
func (s *Store) SaveRequirement(ctx context.Context, req payout.Requirement) (err error) {
	defer func() { track(err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO payout_requirements
			(producer_key, epoch, total_reward, blocks_produced, required_amount, deadline)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (producer_key, epoch) DO UPDATE SET
			total_reward = EXCLUDED.total_reward,
			blocks_produced = EXCLUDED.blocks_produced,
			required_amount = EXCLUDED.required_amount,
			deadline = EXCLUDED.deadline,
			updated_at = now()
	`, req.Producer, int64(req.Epoch), int64(req.TotalReward), req.BlocksProduced,
		int64(req.Required), req.Deadline)
	if err != nil {
		return fmt.Errorf("failed to save requirement for %s epoch %d: %w", req.Producer, req.Epoch, err)
	}
	return nil
}

// Requirement fetches one producer's requirement for an epoch. The second
// return value reports whether it exists.
func (s *Store) Requirement(ctx context.Context, producer string, epoch uint64) (req payout.Requirement, ok bool, err error) {
	defer func() { track(err) }()

	var totalReward, required, e int64
	row := s.pool.QueryRow(ctx, `
		SELECT producer_key, epoch, total_reward, blocks_produced, required_amount, deadline
		FROM payout_requirements
		WHERE producer_key = $1 AND epoch = $2
	`, producer, int64(epoch))
	if err = row.Scan(&req.Producer, &e, &totalReward, &req.BlocksProduced, &required, &req.Deadline); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = nil
			return payout.Requirement{}, false, nil
		}
		return payout.Requirement{}, false, fmt.Errorf("failed to query requirement: %w", err)
	}
	req.Epoch = uint64(e)
	req.TotalReward = uint64(totalReward)
	req.Required = uint64(required)
	return req, true, nil
}

// Outcomes returns every producer's per-epoch required/credited pairs in the
// inclusive epoch range, grouped by producer.
func (s *Store) Outcomes(ctx context.Context, fromEpoch, toEpoch uint64) (entries []scoring.Entry, err error) {
	defer func() { track(err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT r.producer_key, r.epoch, r.required_amount, COALESCE(m.credited, 0)
		FROM payout_requirements r
		LEFT JOIN (
			SELECT producer_key, epoch, SUM(amount)::BIGINT AS credited
			FROM match_results
			GROUP BY producer_key, epoch
		) m ON m.producer_key = r.producer_key AND m.epoch = r.epoch
		WHERE r.epoch BETWEEN $1 AND $2
		ORDER BY r.producer_key, r.epoch
	`, int64(fromEpoch), int64(toEpoch))
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var producer string
		var epoch, required, credited int64
		if err = rows.Scan(&producer, &epoch, &required, &credited); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcome := scoring.EpochOutcome{
			Epoch:    uint64(epoch),
			Required: uint64(required),
			Credited: uint64(credited),
		}
		if n := len(entries); n > 0 && entries[n-1].Producer == producer {
			entries[n-1].Outcomes = append(entries[n-1].Outcomes, outcome)
			continue
		}
		entries = append(entries, scoring.Entry{Producer: producer, Outcomes: []scoring.EpochOutcome{outcome}})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outcomes: %w", err)
	}
	return entries, nil
}

// EpochStatusRow is one epoch's payout status for a producer, served by the
// read-only HTTP surface.
type EpochStatusRow struct {
	Epoch    uint64    `json:"epoch"`
	Required uint64    `json:"requiredAmount"`
	Credited uint64    `json:"creditedAmount"`
	Deadline time.Time `json:"deadline"`
}

// ProducerEpochs returns a producer's recent epoch statuses, newest first.
func (s *Store) ProducerEpochs(ctx context.Context, producer string, limit int) (statuses []EpochStatusRow, err error) {
	defer func() { track(err) }()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT r.epoch, r.required_amount, COALESCE(m.credited, 0), r.deadline
		FROM payout_requirements r
		LEFT JOIN (
			SELECT producer_key, epoch, SUM(amount)::BIGINT AS credited
			FROM match_results
			GROUP BY producer_key, epoch
		) m ON m.producer_key = r.producer_key AND m.epoch = r.epoch
		WHERE r.producer_key = $1
		ORDER BY r.epoch DESC
		LIMIT $2
	`, producer, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query producer epochs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var epoch, required, credited int64
		var deadline time.Time
		if err = rows.Scan(&epoch, &required, &credited, &deadline); err != nil {
			return nil, fmt.Errorf("failed to scan producer epoch: %w", err)
		}
		statuses = append(statuses, EpochStatusRow{
			Epoch:    uint64(epoch),
			Required: uint64(required),
			Credited: uint64(credited),
			Deadline: deadline,
		})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read producer epochs: %w", err)
	}
	return statuses, nil
}
