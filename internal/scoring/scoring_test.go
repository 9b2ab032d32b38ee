package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestValidation_Scoring_WindowEpochs(t *testing.T) {
	t.Parallel()

	epochDuration := 21420 * time.Minute // ~14.875 days

	// 60 days / 14.875 days rounds up to 5 epochs.
	require.Equal(t, uint64(5), WindowEpochs(60, epochDuration))
	require.Equal(t, uint64(1), WindowEpochs(1, epochDuration))
	require.Equal(t, uint64(1), WindowEpochs(0, epochDuration))
	require.Equal(t, uint64(2), WindowEpochs(30, epochDuration))
}

func TestValidation_Scoring_NonCompliantEpochCounts(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Producer: "B62qa", Outcomes: []EpochOutcome{
			{Epoch: 10, Required: 100, Credited: 100},
			{Epoch: 11, Required: 100, Credited: 0}, // paid nothing by the deadline
		}},
		{Producer: "B62qb", Outcomes: []EpochOutcome{
			{Epoch: 10, Required: 100, Credited: 150},
			{Epoch: 11, Required: 100, Credited: 100},
		}},
	}

	scores := Compute(entries, 8, 11, DefaultScale, now)
	require.Len(t, scores, 2)

	// Sorted descending: B62qb first with a perfect score.
	require.Equal(t, "B62qb", scores[0].Producer)
	require.Equal(t, 100.0, scores[0].Score)
	require.Equal(t, 100.0, scores[0].Percentile)

	// B62qa missed one of four window epochs.
	require.Equal(t, "B62qa", scores[1].Producer)
	require.Equal(t, 75.0, scores[1].Score)
	require.Equal(t, 0.0, scores[1].Percentile)
}

func TestValidation_Scoring_MissingOutcomesAreCompliant(t *testing.T) {
	t.Parallel()

	// A producer that owed nothing all window long scores perfectly.
	entries := []Entry{{Producer: "B62qa", Outcomes: nil}}
	scores := Compute(entries, 0, 3, DefaultScale, now)
	require.Len(t, scores, 1)
	require.Equal(t, 100.0, scores[0].Score)
	require.Equal(t, 100.0, scores[0].Percentile)
}

func TestValidation_Scoring_OutcomesOutsideWindowIgnored(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Producer: "B62qa", Outcomes: []EpochOutcome{
			{Epoch: 5, Required: 100, Credited: 0},  // before window
			{Epoch: 20, Required: 100, Credited: 0}, // after window
			{Epoch: 10, Required: 100, Credited: 100},
		}},
	}

	scores := Compute(entries, 8, 11, DefaultScale, now)
	require.Len(t, scores, 1)
	require.Equal(t, 100.0, scores[0].Score)
}

func TestValidation_Scoring_DeterministicTieBreak(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Producer: "B62qz"},
		{Producer: "B62qa"},
		{Producer: "B62qm"},
	}

	first := Compute(entries, 0, 3, DefaultScale, now)
	second := Compute([]Entry{entries[2], entries[0], entries[1]}, 0, 3, DefaultScale, now)

	require.Equal(t, first, second, "ordering of input entries must not matter")
	require.Equal(t, "B62qa", first[0].Producer)
	require.Equal(t, "B62qm", first[1].Producer)
	require.Equal(t, "B62qz", first[2].Producer)

	// Tied scores share a percentile.
	require.Equal(t, first[0].Percentile, first[1].Percentile)
	require.Equal(t, first[0].Percentile, first[2].Percentile)
}

func TestValidation_Scoring_SingleProducer(t *testing.T) {
	t.Parallel()

	scores := Compute([]Entry{{Producer: "B62qa"}}, 0, 0, DefaultScale, now)
	require.Len(t, scores, 1)
	require.Equal(t, 100.0, scores[0].Percentile)
}

func TestValidation_Scoring_EmptyAndInvalidWindows(t *testing.T) {
	t.Parallel()

	require.Nil(t, Compute(nil, 0, 10, DefaultScale, now))
	require.Nil(t, Compute([]Entry{{Producer: "B62qa"}}, 10, 5, DefaultScale, now))
}

func TestValidation_Scoring_Scale(t *testing.T) {
	t.Parallel()

	entries := []Entry{{Producer: "B62qa", Outcomes: []EpochOutcome{
		{Epoch: 0, Required: 10, Credited: 0},
	}}}

	scores := Compute(entries, 0, 1, 1.0, now)
	require.Len(t, scores, 1)
	require.Equal(t, 0.5, scores[0].Score)
}
