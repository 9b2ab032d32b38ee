// Package scheduler drives one validation pass per epoch. The state machine
// per epoch is PENDING -> DUE -> RUNNING -> COMPLETE, with RUNNING -> FAILED
// -> DUE on errors. PENDING and DUE are encoded in the persisted checkpoint;
// RUNNING is guarded by a persisted, staleness-reclaimable run lock so a
// crashed coordinator never wedges the program.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/MinaFoundation/uptime-service-validation/internal/epoch"
	"github.com/MinaFoundation/uptime-service-validation/internal/metrics"
	"github.com/MinaFoundation/uptime-service-validation/internal/payout"
	"github.com/MinaFoundation/uptime-service-validation/internal/store"
)

const (
	// DefaultCatchUpOffset is how long past an epoch boundary the next
	// validation pass becomes due. Configured independently of the
	// matcher's grace-slot offset even though the observed deployment
	// used equivalent values.
	DefaultCatchUpOffset = 10500 * time.Minute
	// DefaultRetryDelay is the bounded fallback applied after failures
	// and missed wake-ups, so downtime never silently skips an epoch.
	DefaultRetryDelay = 10 * time.Minute

	DefaultLockStaleness       = 2 * time.Hour
	DefaultTickInterval        = time.Minute
	DefaultMaxFailuresPerEpoch = 5
)

// Runner executes one validation pass for an epoch.
type Runner interface {
	RunEpoch(ctx context.Context, epochIndex uint64, runID int64) error
}

// Store is the durable state consumed by the scheduler.
type Store interface {
	Checkpoint(ctx context.Context) (store.Checkpoint, bool, error)
	SaveCheckpoint(ctx context.Context, cp store.Checkpoint) error
	AcquireRunLock(ctx context.Context, epochIndex uint64, holder string, staleness time.Duration) error
	ReleaseRunLock(ctx context.Context, epochIndex uint64, holder string) error
	CreateRun(ctx context.Context, epochIndex uint64) (int64, error)
	CompleteRun(ctx context.Context, id int64) error
	FailRun(ctx context.Context, id int64, reason string) error
	DeferRun(ctx context.Context, id int64, reason string) error
	CountFailedRuns(ctx context.Context, epochIndex uint64) (int, error)
}

// Alerter receives fatal escalations.
type Alerter interface {
	Fatal(ctx context.Context, message string) error
}

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Store      Store
	Runner     Runner
	EpochClock epoch.Clock
	Alerter    Alerter // optional

	CatchUpOffset       time.Duration
	RetryDelay          time.Duration
	LockStaleness       time.Duration
	TickInterval        time.Duration
	MaxFailuresPerEpoch int
	Holder              string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Runner == nil {
		return errors.New("runner is required")
	}
	if err := cfg.EpochClock.Validate(); err != nil {
		return fmt.Errorf("invalid epoch clock: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.CatchUpOffset <= 0 {
		cfg.CatchUpOffset = DefaultCatchUpOffset
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.LockStaleness <= 0 {
		cfg.LockStaleness = DefaultLockStaleness
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxFailuresPerEpoch <= 0 {
		cfg.MaxFailuresPerEpoch = DefaultMaxFailuresPerEpoch
	}
	if cfg.Holder == "" {
		cfg.Holder = uuid.NewString()
	}
	return nil
}

type Scheduler struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Start runs the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		s.log.Info("scheduler: starting", "tick_interval", s.cfg.TickInterval, "holder", s.cfg.Holder)

		s.safeTick(ctx)

		ticker := s.cfg.Clock.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler: stopping", "reason", ctx.Err())
				return
			case <-ticker.Chan():
				s.safeTick(ctx)
			}
		}
	}()
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: tick panicked", "panic", r)
			metrics.SchedulerTicksTotal.WithLabelValues("panic").Inc()
		}
	}()
	if err := s.Tick(ctx); err != nil {
		s.log.Error("scheduler: tick failed", "error", err)
	}
}

// Tick performs at most one DUE -> RUNNING -> terminal transition. Exported
// so tests and the admin tool can drive the machine directly.
func (s *Scheduler) Tick(ctx context.Context) error {
	cp, ok, err := s.cfg.Store.Checkpoint(ctx)
	if err != nil {
		metrics.SchedulerTicksTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !ok {
		metrics.SchedulerTicksTotal.WithLabelValues("no_checkpoint").Inc()
		s.log.Warn("scheduler: checkpoint not seeded, nothing to do (seed with admin --init-checkpoint)")
		return nil
	}

	now := s.cfg.Clock.Now()
	if now.Before(cp.DueAt) {
		metrics.SchedulerTicksTotal.WithLabelValues("idle").Inc()
		return nil
	}

	epochIndex := cp.NextEpoch
	if err := s.cfg.Store.AcquireRunLock(ctx, epochIndex, s.cfg.Holder, s.cfg.LockStaleness); err != nil {
		if errors.Is(err, store.ErrConcurrentRun) {
			metrics.SchedulerTicksTotal.WithLabelValues("locked").Inc()
			s.log.Info("scheduler: run lock held elsewhere, waiting", "epoch", epochIndex)
			return nil
		}
		metrics.SchedulerTicksTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := s.cfg.Store.ReleaseRunLock(ctx, epochIndex, s.cfg.Holder); err != nil {
			s.log.Error("scheduler: failed to release run lock", "epoch", epochIndex, "error", err)
		}
	}()

	runID, err := s.cfg.Store.CreateRun(ctx, epochIndex)
	if err != nil {
		metrics.SchedulerTicksTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to create run: %w", err)
	}

	s.log.Info("scheduler: validation run starting", "epoch", epochIndex, "run_id", runID, "due_at", cp.DueAt)

	start := s.cfg.Clock.Now()
	runErr := s.cfg.Runner.RunEpoch(ctx, epochIndex, runID)
	metrics.ValidationRunDuration.Observe(s.cfg.Clock.Since(start).Seconds())

	if runErr != nil {
		return s.finishFailed(ctx, cp, runID, runErr)
	}
	return s.finishComplete(ctx, cp, runID)
}

func (s *Scheduler) finishComplete(ctx context.Context, cp store.Checkpoint, runID int64) error {
	if err := s.cfg.Store.CompleteRun(ctx, runID); err != nil {
		return fmt.Errorf("failed to mark run complete: %w", err)
	}
	metrics.ValidationRunsTotal.WithLabelValues("complete").Inc()
	metrics.SchedulerTicksTotal.WithLabelValues("complete").Inc()

	next := store.Checkpoint{
		NextEpoch: cp.NextEpoch + 1,
		DueAt:     s.dueFor(cp.NextEpoch + 1),
	}

	now := s.cfg.Clock.Now()
	if next.DueAt.Before(now) {
		// Missed wake-up: run again after a short bounded delay rather
		// than skipping epochs after downtime.
		s.log.Warn("scheduler: next run was already due, applying fallback delay",
			"epoch", next.NextEpoch, "computed_due", next.DueAt, "fallback", s.cfg.RetryDelay)
		next.DueAt = now.Add(s.cfg.RetryDelay)
	}

	if err := s.cfg.Store.SaveCheckpoint(ctx, next); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.log.Info("scheduler: validation run complete",
		"epoch", cp.NextEpoch, "run_id", runID, "next_epoch", next.NextEpoch, "next_due", next.DueAt)
	return nil
}

func (s *Scheduler) finishFailed(ctx context.Context, cp store.Checkpoint, runID int64, runErr error) error {
	next := store.Checkpoint{
		NextEpoch: cp.NextEpoch,
		DueAt:     s.cfg.Clock.Now().Add(s.cfg.RetryDelay),
	}

	if errors.Is(runErr, payout.ErrIncompleteData) {
		// The epoch has not closed past the grace offset yet. Expected
		// near boundaries; retry without counting it as a failure.
		if err := s.cfg.Store.DeferRun(ctx, runID, runErr.Error()); err != nil {
			return fmt.Errorf("failed to mark run deferred: %w", err)
		}
		if err := s.cfg.Store.SaveCheckpoint(ctx, next); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		metrics.ValidationRunsTotal.WithLabelValues("deferred").Inc()
		metrics.SchedulerTicksTotal.WithLabelValues("deferred").Inc()
		s.log.Info("scheduler: epoch not closed yet, deferring",
			"epoch", cp.NextEpoch, "retry_at", next.DueAt, "reason", runErr)
		return nil
	}

	if err := s.cfg.Store.FailRun(ctx, runID, runErr.Error()); err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	if err := s.cfg.Store.SaveCheckpoint(ctx, next); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	metrics.ValidationRunsTotal.WithLabelValues("failed").Inc()
	metrics.SchedulerTicksTotal.WithLabelValues("failed").Inc()
	s.log.Error("scheduler: validation run failed",
		"epoch", cp.NextEpoch, "run_id", runID, "retry_at", next.DueAt, "error", runErr)

	failures, err := s.cfg.Store.CountFailedRuns(ctx, cp.NextEpoch)
	if err != nil {
		return fmt.Errorf("failed to count failures: %w", err)
	}
	if failures >= s.cfg.MaxFailuresPerEpoch && s.cfg.Alerter != nil {
		msg := fmt.Sprintf("validation of epoch %d has failed %d times, latest error: %v",
			cp.NextEpoch, failures, runErr)
		if alertErr := s.cfg.Alerter.Fatal(ctx, msg); alertErr != nil {
			s.log.Error("scheduler: failed to send fatal alert", "error", alertErr)
		}
	}
	return nil
}

// dueFor computes when validating an epoch becomes due: the catch-up offset
// past the epoch's closing boundary.
func (s *Scheduler) dueFor(epochIndex uint64) time.Time {
	_, end := s.cfg.EpochClock.EpochWindow(epochIndex)
	return end.Add(s.cfg.CatchUpOffset)
}
