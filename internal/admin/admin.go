// Package admin implements operator commands: seeding the schedule
// checkpoint, importing the producer registry and recovering a stuck
// deployment.
package admin

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MinaFoundation/uptime-service-validation/internal/epoch"
	"github.com/MinaFoundation/uptime-service-validation/internal/ledger"
	"github.com/MinaFoundation/uptime-service-validation/internal/payout"
	"github.com/MinaFoundation/uptime-service-validation/internal/store"
)

// Store is the durable state the admin commands operate on.
type Store interface {
	InitCheckpoint(ctx context.Context, cp store.Checkpoint, override bool) (bool, error)
	UpsertProducers(ctx context.Context, producers []payout.Producer) error
	Producers(ctx context.Context) ([]payout.Producer, error)
	ForceFailRunning(ctx context.Context, reason string) (int64, error)
}

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Store      Store
	EpochClock epoch.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if err := cfg.EpochClock.Validate(); err != nil {
		return fmt.Errorf("invalid epoch clock: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Admin struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Admin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Admin{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// SeedCheckpoint initializes the schedule checkpoint so the coordinator has
// a first epoch to validate. dueAt zero means due immediately. Without
// override an existing checkpoint is left alone.
func (a *Admin) SeedCheckpoint(ctx context.Context, nextEpoch uint64, dueAt time.Time, override bool) error {
	if dueAt.IsZero() {
		dueAt = a.cfg.Clock.Now()
	}
	if dueAt.Before(a.cfg.EpochClock.Genesis) {
		return fmt.Errorf("due time %s is before genesis %s",
			dueAt.UTC().Format(time.RFC3339), a.cfg.EpochClock.Genesis.UTC().Format(time.RFC3339))
	}

	seeded, err := a.cfg.Store.InitCheckpoint(ctx, store.Checkpoint{NextEpoch: nextEpoch, DueAt: dueAt}, override)
	if err != nil {
		return err
	}
	if !seeded {
		a.log.Warn("admin: checkpoint already exists, not replacing it (use --override)")
		return nil
	}
	a.log.Info("admin: checkpoint seeded", "next_epoch", nextEpoch, "due_at", dueAt.UTC().Format(time.RFC3339))
	return nil
}

// ImportProducers loads the producer registry from CSV and upserts it.
// Expected columns: producer_key, delegator_handle, hot_wallets (semicolon
// separated). A header row is recognized and skipped. Any invalid address
// rejects the whole file; a partial registry import would skew scores.
func (a *Admin) ImportProducers(ctx context.Context, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var producers []payout.Producer
	line := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read csv: %w", err)
		}
		line++

		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "producer_key") {
			continue
		}
		if len(record) < 2 {
			return 0, fmt.Errorf("line %d: expected at least producer_key and delegator_handle, got %d columns", line, len(record))
		}

		p := payout.Producer{
			Key:             strings.TrimSpace(record[0]),
			DelegatorHandle: strings.TrimSpace(record[1]),
		}
		if !ledger.ValidAddress(p.Key) {
			return 0, fmt.Errorf("line %d: invalid producer key %q", line, p.Key)
		}
		if len(record) > 2 {
			for _, w := range strings.Split(record[2], ";") {
				w = strings.TrimSpace(w)
				if w == "" {
					continue
				}
				if !ledger.ValidAddress(w) {
					return 0, fmt.Errorf("line %d: invalid hot wallet %q", line, w)
				}
				p.HotWallets = append(p.HotWallets, w)
			}
		}
		producers = append(producers, p)
	}

	if len(producers) == 0 {
		return 0, errors.New("no producers in file")
	}
	if err := a.cfg.Store.UpsertProducers(ctx, producers); err != nil {
		return 0, err
	}
	a.log.Info("admin: producer registry imported", "producers", len(producers))
	return len(producers), nil
}

// ForceFailRuns fails every running validation run and releases all run
// locks. Recovery for a deployment stuck behind a crashed coordinator.
func (a *Admin) ForceFailRuns(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "force-failed by operator"
	}
	count, err := a.cfg.Store.ForceFailRunning(ctx, reason)
	if err != nil {
		return err
	}
	a.log.Info("admin: force-failed running runs", "count", count, "reason", reason)
	return nil
}

// ListProducers prints the registry, one producer per line.
func (a *Admin) ListProducers(ctx context.Context, w io.Writer) error {
	producers, err := a.cfg.Store.Producers(ctx)
	if err != nil {
		return err
	}
	for _, p := range producers {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Key, p.DelegatorHandle, strings.Join(p.HotWallets, ";"))
	}
	return nil
}
