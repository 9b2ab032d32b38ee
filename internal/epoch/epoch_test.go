package epoch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mainnetClock(t *testing.T) Clock {
	t.Helper()
	genesis, err := time.Parse(time.RFC3339, "2021-03-17T00:00:00Z")
	require.NoError(t, err)
	return Clock{
		Genesis:       genesis,
		SlotDuration:  DefaultSlotDuration,
		SlotsPerEpoch: DefaultSlotsPerEpoch,
	}
}

func TestValidation_Epoch_Validate(t *testing.T) {
	t.Parallel()

	t.Run("missing genesis", func(t *testing.T) {
		t.Parallel()
		c := Clock{SlotDuration: DefaultSlotDuration, SlotsPerEpoch: DefaultSlotsPerEpoch}
		require.Error(t, c.Validate())
	})

	t.Run("zero slot duration", func(t *testing.T) {
		t.Parallel()
		c := Clock{Genesis: time.Now(), SlotsPerEpoch: DefaultSlotsPerEpoch}
		require.Error(t, c.Validate())
	})

	t.Run("zero slots per epoch", func(t *testing.T) {
		t.Parallel()
		c := Clock{Genesis: time.Now(), SlotDuration: DefaultSlotDuration}
		require.Error(t, c.Validate())
	})

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, mainnetClock(t).Validate())
	})
}

func TestValidation_Epoch_RoundTrip(t *testing.T) {
	t.Parallel()

	clocks := []Clock{
		mainnetClock(t),
		{Genesis: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), SlotDuration: time.Second, SlotsPerEpoch: 10},
		{Genesis: time.Date(1999, 12, 31, 23, 59, 0, 0, time.UTC), SlotDuration: 90 * time.Second, SlotsPerEpoch: 4320},
	}

	for _, c := range clocks {
		for _, e := range []uint64{0, 1, 2, 5, 100, 10_000} {
			start, end := c.EpochWindow(e)

			got, err := c.EpochAt(start)
			require.NoError(t, err)
			require.Equal(t, e, got, "epoch start must map back to the same epoch")

			// The exclusive end is the first instant of the next epoch.
			got, err = c.EpochAt(end)
			require.NoError(t, err)
			require.Equal(t, e+1, got)

			// One nanosecond before the end still belongs to this epoch.
			got, err = c.EpochAt(end.Add(-time.Nanosecond))
			require.NoError(t, err)
			require.Equal(t, e, got)
		}
	}
}

func TestValidation_Epoch_BeforeGenesis(t *testing.T) {
	t.Parallel()
	c := mainnetClock(t)

	_, err := c.EpochAt(c.Genesis.Add(-time.Second))
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = c.SlotAt(c.Genesis.Add(-time.Nanosecond))
	require.ErrorIs(t, err, ErrOutOfRange)

	slot, err := c.SlotAt(c.Genesis)
	require.NoError(t, err)
	require.Equal(t, uint64(0), slot)
}

func TestValidation_Epoch_MainnetWindow(t *testing.T) {
	t.Parallel()
	c := mainnetClock(t)

	require.Equal(t, 21420*time.Minute, c.EpochDuration())

	start, end := c.EpochWindow(0)
	require.Equal(t, c.Genesis, start)
	require.Equal(t, c.Genesis.Add(21420*time.Minute), end)

	startSlot, endSlot := c.EpochSlots(5)
	require.Equal(t, uint64(5*7140), startSlot)
	require.Equal(t, uint64(6*7140-1), endSlot)
	require.Equal(t, uint64(5), c.EpochOf(startSlot))
	require.Equal(t, uint64(5), c.EpochOf(endSlot))
	require.Equal(t, uint64(6), c.EpochOf(endSlot+1))
}

func TestValidation_Epoch_SlotStart(t *testing.T) {
	t.Parallel()
	c := mainnetClock(t)

	require.Equal(t, c.Genesis, c.SlotStart(0))
	require.Equal(t, c.Genesis.Add(3*time.Minute), c.SlotStart(1))

	// SlotAt and SlotStart are inverses at slot boundaries.
	for _, slot := range []uint64{0, 1, 7139, 7140, 123_456} {
		got, err := c.SlotAt(c.SlotStart(slot))
		require.NoError(t, err)
		require.Equal(t, slot, got)
	}
}
