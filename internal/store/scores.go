package store

import (
	"context"
	"fmt"
	"time"

	"github.com/MinaFoundation/uptime-service-validation/internal/scoring"
)

// InsertScores appends a run's compliance scores. Earlier scores are never
// mutated; each pass supersedes the previous one with fresh rows.
func (s *Store) InsertScores(ctx context.Context, runID int64, scores []scoring.Score) (err error) {
	defer func() { track(err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, sc := range scores {
		if _, err = tx.Exec(ctx, `
			INSERT INTO compliance_scores
				(run_id, producer_key, window_start_epoch, window_end_epoch, score, percentile)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, runID, sc.Producer, int64(sc.WindowStart), int64(sc.WindowEnd), sc.Score, sc.Percentile); err != nil {
			return fmt.Errorf("failed to insert score for %s: %w", sc.Producer, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit scores: %w", err)
	}
	return nil
}

// ScoreboardRow is one producer's latest authoritative score.
type ScoreboardRow struct {
	ProducerKey string    `json:"producerKey"`
	Score       float64   `json:"score"`
	Percentile  float64   `json:"percentile"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ScoreboardRows returns each producer's most recent score from a completed
// run. Scores written by runs that never completed are not authoritative
// and are excluded.
func (s *Store) ScoreboardRows(ctx context.Context) (rows []ScoreboardRow, err error) {
	defer func() { track(err) }()

	result, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (c.producer_key)
			c.producer_key, c.score, c.percentile, c.created_at
		FROM compliance_scores c
		JOIN validation_runs v ON v.id = c.run_id AND v.state = $1
		ORDER BY c.producer_key, c.id DESC
	`, RunStateComplete)
	if err != nil {
		return nil, fmt.Errorf("failed to query scoreboard: %w", err)
	}
	defer result.Close()

	for result.Next() {
		var row ScoreboardRow
		if err = result.Scan(&row.ProducerKey, &row.Score, &row.Percentile, &row.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan scoreboard row: %w", err)
		}
		rows = append(rows, row)
	}
	if err = result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scoreboard: %w", err)
	}
	return rows, nil
}
