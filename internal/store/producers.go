package store

import (
	"context"
	"fmt"

	"github.com/MinaFoundation/uptime-service-validation/internal/payout"
)

// UpsertProducers inserts or refreshes producer registry rows.
func (s *Store) UpsertProducers(ctx context.Context, producers []payout.Producer) (err error) {
	defer func() { track(err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, p := range producers {
		wallets := p.HotWallets
		if wallets == nil {
			wallets = []string{}
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO producers (key, delegator_handle, hot_wallets)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET
				delegator_handle = EXCLUDED.delegator_handle,
				hot_wallets = EXCLUDED.hot_wallets,
				updated_at = now()
		`, p.Key, p.DelegatorHandle, wallets); err != nil {
			return fmt.Errorf("failed to upsert producer %s: %w", p.Key, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit producers: %w", err)
	}
	return nil
}

// HasProducer reports whether a key is in the producer registry.
func (s *Store) HasProducer(ctx context.Context, key string) (found bool, err error) {
	defer func() { track(err) }()

	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM producers WHERE key = $1)
	`, key)
	if err = row.Scan(&found); err != nil {
		return false, fmt.Errorf("failed to query producer %s: %w", key, err)
	}
	return found, nil
}

// Producers returns the full producer registry, ordered by key.
func (s *Store) Producers(ctx context.Context) (producers []payout.Producer, err error) {
	defer func() { track(err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT key, delegator_handle, hot_wallets
		FROM producers
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query producers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p payout.Producer
		if err = rows.Scan(&p.Key, &p.DelegatorHandle, &p.HotWallets); err != nil {
			return nil, fmt.Errorf("failed to scan producer: %w", err)
		}
		producers = append(producers, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read producers: %w", err)
	}
	return producers, nil
}
