package payout

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/MinaFoundation/uptime-service-validation/internal/epoch"
	"github.com/MinaFoundation/uptime-service-validation/internal/ledger"
)

// ErrIncompleteData indicates the epoch has not yet closed past the grace
// offset. Retried on the next scheduler tick.
var ErrIncompleteData = errors.New("epoch data incomplete")

const (
	// DefaultRetentionFraction is the share of rewards producers keep.
	DefaultRetentionFraction = 0.05
	// DefaultGraceSlots is the slot offset past the epoch boundary before
	// an epoch's records are considered final.
	DefaultGraceSlots = 3500

	// retentionScale expresses the retention fraction in parts per
	// billion so the required amount is an exact integer floor.
	retentionScale = 1_000_000_000
)

// Calculator derives payout requirements from reward records.
type Calculator struct {
	EpochClock        epoch.Clock
	RetentionFraction float64 // in [0, 1]
	GraceSlots        uint64
}

func (c *Calculator) Validate() error {
	if err := c.EpochClock.Validate(); err != nil {
		return fmt.Errorf("invalid epoch clock: %w", err)
	}
	if c.RetentionFraction < 0 || c.RetentionFraction > 1 {
		return errors.New("retention fraction must be in [0, 1]")
	}
	return nil
}

// Required computes the payout a producer owes for the record's epoch.
// Fails with ErrIncompleteData until the current slot is past the epoch end
// plus the grace offset. Recomputing with the same inputs yields the same
// requirement.
func (c *Calculator) Required(rec ledger.RewardRecord, currentSlot uint64) (Requirement, error) {
	_, endSlot := c.EpochClock.EpochSlots(rec.Epoch)
	closedSlot := endSlot + c.GraceSlots
	if currentSlot < closedSlot {
		return Requirement{}, fmt.Errorf("%w: epoch %d closes at slot %d, current slot is %d",
			ErrIncompleteData, rec.Epoch, closedSlot, currentSlot)
	}

	_, windowEnd := c.Window(rec.Epoch)
	return Requirement{
		Producer:       rec.Producer,
		Epoch:          rec.Epoch,
		TotalReward:    rec.TotalReward,
		BlocksProduced: rec.BlocksProduced,
		Required:       requiredAmount(rec.TotalReward, c.RetentionFraction),
		Deadline:       c.EpochClock.SlotStart(windowEnd + 1),
	}, nil
}

// Window returns the inclusive global slot range scanned for payout
// transactions for an epoch: from (epoch start + grace + 1) through slot
// grace of the next epoch. This fixed catch-up window is deliberate; it is
// not the calendar epoch.
func (c *Calculator) Window(e uint64) (fromSlot, toSlot uint64) {
	startSlot, _ := c.EpochClock.EpochSlots(e)
	nextStartSlot, _ := c.EpochClock.EpochSlots(e + 1)
	return startSlot + c.GraceSlots + 1, nextStartSlot + c.GraceSlots
}

// requiredAmount computes floor(total * (1 - fraction)) in integer
// arithmetic. Rounding is always down so honest operators are never
// over-penalized by a rounding edge.
func requiredAmount(total uint64, fraction float64) uint64 {
	retainedPPB := uint64(math.Round(fraction * retentionScale))
	if retainedPPB > retentionScale {
		retainedPPB = retentionScale
	}
	owedPPB := new(big.Int).SetUint64(retentionScale - retainedPPB)

	owed := new(big.Int).SetUint64(total)
	owed.Mul(owed, owedPPB)
	owed.Div(owed, big.NewInt(retentionScale))
	return owed.Uint64()
}
