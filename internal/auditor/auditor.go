// Package auditor executes one validation pass over an epoch: it derives
// each enrolled producer's payout requirement, reconciles observed
// transactions against it, recomputes rolling compliance scores and reports
// the outcomes. A pass never mutates the ledger; repeating a pass with the
// same chain state converges on the same conclusions.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/MinaFoundation/uptime-service-validation/internal/ledger"
	"github.com/MinaFoundation/uptime-service-validation/internal/metrics"
	"github.com/MinaFoundation/uptime-service-validation/internal/notify"
	"github.com/MinaFoundation/uptime-service-validation/internal/payout"
	"github.com/MinaFoundation/uptime-service-validation/internal/scoring"
)

const (
	// DefaultConcurrency bounds per-producer ledger fan-out.
	DefaultConcurrency = 8

	// DefaultPassWarnAfter is how long a pass may run before it is logged
	// as overrunning. Passes are expected to finish well inside one
	// scheduler retry delay.
	DefaultPassWarnAfter = 5 * time.Minute
)

// Store is the durable state the auditor reads and writes.
type Store interface {
	Producers(ctx context.Context) ([]payout.Producer, error)
	SaveRequirement(ctx context.Context, req payout.Requirement) error
	Requirement(ctx context.Context, producer string, epoch uint64) (payout.Requirement, bool, error)
	DirectCredited(ctx context.Context, producer string, epoch uint64) (uint64, error)
	ReplaceMatches(ctx context.Context, runID int64, producer string, epoch uint64, results []payout.MatchResult) error
	Outcomes(ctx context.Context, fromEpoch, toEpoch uint64) ([]scoring.Entry, error)
	InsertScores(ctx context.Context, runID int64, scores []scoring.Score) error
}

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Store      Store
	Ledger     ledger.Reader
	Calculator *payout.Calculator
	Matcher    *payout.Matcher
	Notifier   notify.Sink // optional

	// WindowEpochs is the rolling scoring window length in epochs.
	WindowEpochs uint64
	// ScoreScale maps the raw compliance fraction onto the published range.
	ScoreScale float64

	Concurrency   int
	PassWarnAfter time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger reader is required")
	}
	if cfg.Calculator == nil {
		return errors.New("calculator is required")
	}
	if err := cfg.Calculator.Validate(); err != nil {
		return fmt.Errorf("invalid calculator: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Matcher == nil {
		cfg.Matcher = payout.NewMatcher(nil)
	}
	if cfg.WindowEpochs == 0 {
		cfg.WindowEpochs = scoring.WindowEpochs(scoring.DefaultWindowDays, cfg.Calculator.EpochClock.EpochDuration())
	}
	if cfg.ScoreScale <= 0 {
		cfg.ScoreScale = scoring.DefaultScale
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PassWarnAfter <= 0 {
		cfg.PassWarnAfter = DefaultPassWarnAfter
	}
	return nil
}

// Auditor runs validation passes.
type Auditor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Auditor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Auditor{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// RunEpoch validates one epoch's payouts. Returns an error wrapping
// payout.ErrIncompleteData while the epoch's catch-up window is still open.
func (a *Auditor) RunEpoch(ctx context.Context, epochIndex uint64, runID int64) error {
	started := a.cfg.Clock.Now()
	defer func() {
		if elapsed := a.cfg.Clock.Since(started); elapsed > a.cfg.PassWarnAfter {
			a.log.Warn("auditor: pass overran", "epoch", epochIndex, "run_id", runID, "elapsed", elapsed)
		}
	}()

	currentSlot, err := a.cfg.Ledger.CurrentSlot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current slot: %w", err)
	}

	fromSlot, toSlot := a.cfg.Calculator.Window(epochIndex)
	if currentSlot <= toSlot {
		// The tip sitting on the window's final slot still counts as open;
		// that slot's block can carry matching transactions.
		return fmt.Errorf("%w: epoch %d catch-up window open through slot %d, current slot is %d",
			payout.ErrIncompleteData, epochIndex, toSlot, currentSlot)
	}

	producers, err := a.cfg.Store.Producers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load producers: %w", err)
	}
	metrics.ProducersEvaluated.Set(float64(len(producers)))
	if len(producers) == 0 {
		a.log.Warn("auditor: no producers enrolled, nothing to validate", "epoch", epochIndex)
		return nil
	}

	// One transaction scan covers every producer's matching.
	txs, err := a.cfg.Ledger.Transactions(ctx, fromSlot, toSlot)
	if err != nil {
		return fmt.Errorf("failed to read window transactions: %w", err)
	}

	a.log.Info("auditor: pass starting",
		"epoch", epochIndex, "run_id", runID, "producers", len(producers),
		"window_from_slot", fromSlot, "window_to_slot", toSlot, "transactions", len(txs))

	var mu sync.Mutex
	records := make([]notify.Record, 0, len(producers))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.cfg.Concurrency)
	for _, p := range producers {
		group.Go(func() error {
			record, err := a.validateProducer(groupCtx, p, epochIndex, runID, currentSlot, txs)
			if err != nil {
				return fmt.Errorf("producer %s: %w", p.Key, err)
			}
			mu.Lock()
			records = append(records, record)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if err := a.score(ctx, epochIndex, runID); err != nil {
		return err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ProducerKey < records[j].ProducerKey })
	if a.cfg.Notifier != nil {
		if err := a.cfg.Notifier.Send(ctx, epochIndex, records); err != nil {
			// Delivery is advisory; the pass's conclusions are already
			// durable.
			a.log.Error("auditor: failed to deliver outcomes", "epoch", epochIndex, "error", err)
		}
	}

	a.log.Info("auditor: pass finished",
		"epoch", epochIndex, "run_id", runID, "elapsed", a.cfg.Clock.Since(started))
	return nil
}

func (a *Auditor) validateProducer(ctx context.Context, p payout.Producer, epochIndex uint64, runID int64, currentSlot uint64, txs []ledger.Transaction) (notify.Record, error) {
	blocks, err := a.cfg.Ledger.BlocksProduced(ctx, p.Key, epochIndex)
	if err != nil {
		return notify.Record{}, fmt.Errorf("failed to read produced blocks: %w", err)
	}

	rec := ledger.NewRewardRecord(p.Key, epochIndex, blocks)
	req, err := a.cfg.Calculator.Required(rec, currentSlot)
	if err != nil {
		return notify.Record{}, err
	}
	if err := a.cfg.Store.SaveRequirement(ctx, req); err != nil {
		return notify.Record{}, err
	}

	results := a.cfg.Matcher.Match(req, p, ledger.CoinbaseReceivers(blocks), txs)

	carry, err := a.carryOver(ctx, p.Key, epochIndex)
	if err != nil {
		return notify.Record{}, err
	}
	if carry > 0 {
		results = append(results, payout.MatchResult{
			Producer:  p.Key,
			Epoch:     epochIndex,
			Amount:    carry,
			Criterion: payout.CriterionCarryOver,
		})
	}

	if err := a.cfg.Store.ReplaceMatches(ctx, runID, p.Key, epochIndex, results); err != nil {
		return notify.Record{}, err
	}

	credited := payout.TotalCredited(results)
	return notify.Record{
		ProducerKey: p.Key,
		Epoch:       epochIndex,
		Required:    req.Required,
		Credited:    credited,
		Deadline:    req.Deadline,
		Status:      notify.StatusOf(req.Required, credited),
	}, nil
}

// carryOver returns the surplus paid on-chain in the immediately preceding
// epoch beyond what it required. Only direct payments count toward the
// surplus; counting the previous epoch's own carry-over credit would chain
// one overpayment through every later epoch.
func (a *Auditor) carryOver(ctx context.Context, producer string, epochIndex uint64) (uint64, error) {
	if epochIndex == 0 {
		return 0, nil
	}
	prev := epochIndex - 1

	prevReq, ok, err := a.cfg.Store.Requirement(ctx, producer, prev)
	if err != nil {
		return 0, fmt.Errorf("failed to load previous requirement: %w", err)
	}
	if !ok {
		return 0, nil
	}

	prevPaid, err := a.cfg.Store.DirectCredited(ctx, producer, prev)
	if err != nil {
		return 0, fmt.Errorf("failed to load previous credits: %w", err)
	}
	return payout.CarryOver(prevPaid, prevReq.Required), nil
}

// score recomputes the rolling compliance scoreboard through epochIndex and
// appends the result. Earlier scores stay untouched; readers take the latest
// rows from completed runs.
func (a *Auditor) score(ctx context.Context, epochIndex uint64, runID int64) error {
	windowEnd := epochIndex
	windowStart := uint64(0)
	if windowEnd >= a.cfg.WindowEpochs {
		windowStart = windowEnd - a.cfg.WindowEpochs + 1
	}

	entries, err := a.cfg.Store.Outcomes(ctx, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("failed to load outcomes: %w", err)
	}

	scores := scoring.Compute(entries, windowStart, windowEnd, a.cfg.ScoreScale, a.cfg.Clock.Now())
	if len(scores) == 0 {
		return nil
	}
	if err := a.cfg.Store.InsertScores(ctx, runID, scores); err != nil {
		return fmt.Errorf("failed to insert scores: %w", err)
	}

	a.log.Debug("auditor: scoreboard recomputed",
		"window_start", windowStart, "window_end", windowEnd, "producers", len(scores))
	return nil
}
