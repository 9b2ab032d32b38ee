// Package epoch converts between wall-clock time, global slots and epoch
// indices. All boundary math is integer slot arithmetic; wall-clock values
// only appear at the edges.
package epoch

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfRange is returned for timestamps before genesis.
var ErrOutOfRange = errors.New("timestamp out of range")

const (
	// DefaultSlotDuration is the mainnet slot length.
	DefaultSlotDuration = 3 * time.Minute
	// DefaultSlotsPerEpoch is the mainnet epoch length in slots
	// (7140 slots of 3 minutes = 21420 minutes).
	DefaultSlotsPerEpoch = 7140
)

// Clock derives epoch boundaries from genesis time and a fixed slot
// duration. It is a pure value type with no side effects.
type Clock struct {
	Genesis       time.Time
	SlotDuration  time.Duration
	SlotsPerEpoch uint64
}

func (c Clock) Validate() error {
	if c.Genesis.IsZero() {
		return errors.New("genesis time is required")
	}
	if c.SlotDuration <= 0 {
		return errors.New("slot duration must be greater than 0")
	}
	if c.SlotsPerEpoch == 0 {
		return errors.New("slots per epoch must be greater than 0")
	}
	return nil
}

// SlotAt returns the global slot containing t.
func (c Clock) SlotAt(t time.Time) (uint64, error) {
	if t.Before(c.Genesis) {
		return 0, fmt.Errorf("%w: %s is before genesis %s", ErrOutOfRange,
			t.UTC().Format(time.RFC3339), c.Genesis.UTC().Format(time.RFC3339))
	}
	return uint64(t.Sub(c.Genesis) / c.SlotDuration), nil
}

// EpochAt returns the epoch containing t.
func (c Clock) EpochAt(t time.Time) (uint64, error) {
	slot, err := c.SlotAt(t)
	if err != nil {
		return 0, err
	}
	return slot / c.SlotsPerEpoch, nil
}

// EpochOf returns the epoch containing the given global slot.
func (c Clock) EpochOf(slot uint64) uint64 {
	return slot / c.SlotsPerEpoch
}

// EpochSlots returns the first and last global slot of an epoch, inclusive.
func (c Clock) EpochSlots(e uint64) (startSlot, endSlot uint64) {
	startSlot = e * c.SlotsPerEpoch
	return startSlot, startSlot + c.SlotsPerEpoch - 1
}

// SlotStart returns the wall-clock time at which a global slot begins.
func (c Clock) SlotStart(slot uint64) time.Time {
	return c.Genesis.Add(time.Duration(slot) * c.SlotDuration)
}

// EpochWindow returns the wall-clock window of an epoch. The end is
// exclusive: it is the instant the next epoch begins.
func (c Clock) EpochWindow(e uint64) (start, end time.Time) {
	startSlot, endSlot := c.EpochSlots(e)
	return c.SlotStart(startSlot), c.SlotStart(endSlot + 1)
}

// EpochDuration returns the wall-clock length of one epoch.
func (c Clock) EpochDuration() time.Duration {
	return time.Duration(c.SlotsPerEpoch) * c.SlotDuration
}
