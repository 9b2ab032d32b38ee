// Package scoring aggregates match outcomes over a rolling epoch window
// into a compliance score and percentile rank per producer.
package scoring

import (
	"sort"
	"time"
)

// DefaultWindowDays is the rolling window length used for scores.
const DefaultWindowDays = 60

// DefaultScale maps the raw compliance fraction onto 0..100.
const DefaultScale = 100.0

// EpochOutcome is one epoch's payout outcome for a producer. Epochs with no
// recorded outcome owe nothing and count as compliant.
type EpochOutcome struct {
	Epoch    uint64
	Required uint64
	Credited uint64
}

// Entry is a producer's outcomes inside the scoring window.
type Entry struct {
	Producer string
	Outcomes []EpochOutcome
}

// Score is one producer's compliance score for a window. Recomputed in full
// on every pass; history is append-only.
type Score struct {
	Producer    string
	WindowStart uint64
	WindowEnd   uint64
	Score       float64
	Percentile  float64
	ComputedAt  time.Time
}

// WindowEpochs converts a rolling window in days to a whole number of
// epochs, rounding up, never less than one.
func WindowEpochs(windowDays int, epochDuration time.Duration) uint64 {
	window := time.Duration(windowDays) * 24 * time.Hour
	epochs := uint64((window + epochDuration - 1) / epochDuration)
	if epochs == 0 {
		return 1
	}
	return epochs
}

// Compute scores every entry over the window [windowStart, windowEnd]. The
// score is the fraction of window epochs where cumulative credited >=
// required, scaled. Percentile ranks are computed over raw scores sorted
// descending, ties broken by producer key ascending for determinism.
func Compute(entries []Entry, windowStart, windowEnd uint64, scale float64, computedAt time.Time) []Score {
	if windowEnd < windowStart || len(entries) == 0 {
		return nil
	}
	windowEpochs := windowEnd - windowStart + 1

	scores := make([]Score, 0, len(entries))
	for _, entry := range entries {
		violations := uint64(0)
		for _, o := range entry.Outcomes {
			if o.Epoch < windowStart || o.Epoch > windowEnd {
				continue
			}
			if o.Credited < o.Required {
				violations++
			}
		}
		raw := float64(windowEpochs-violations) / float64(windowEpochs)
		scores = append(scores, Score{
			Producer:    entry.Producer,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			Score:       raw * scale,
			ComputedAt:  computedAt,
		})
	}

	rank(scores)
	return scores
}

func rank(scores []Score) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Producer < scores[j].Producer
	})

	n := len(scores)
	for i := range scores {
		if n == 1 {
			scores[i].Percentile = 100
			continue
		}
		scores[i].Percentile = float64(n-1-i) / float64(n-1) * 100
	}

	// Equal raw scores share the highest percentile of their group.
	for i := 1; i < n; i++ {
		if scores[i].Score == scores[i-1].Score {
			scores[i].Percentile = scores[i-1].Percentile
		}
	}
}
