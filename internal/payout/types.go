// Package payout derives per-producer payout requirements from block
// rewards and reconciles observed transactions against them.
package payout

import "time"

// Producer is a block producer enrolled in the delegation program.
type Producer struct {
	Key             string   // base58 public key
	DelegatorHandle string   // community-member handle used for memo matching
	HotWallets      []string // registered payout source addresses
}

// Requirement is the amount a producer owes back for one epoch.
type Requirement struct {
	Producer       string
	Epoch          uint64
	TotalReward    uint64 // nanomina earned in the epoch
	BlocksProduced int
	Required       uint64    // nanomina owed = floor(TotalReward * (1 - retention))
	Deadline       time.Time // instant the catch-up window closes
}

// Criterion identifies which matching rule attributed a transaction.
type Criterion string

const (
	CriterionHotWallet        Criterion = "hot_wallet"
	CriterionCoinbaseReceiver Criterion = "coinbase_receiver"
	CriterionMemoHandle       Criterion = "memo_handle"
	CriterionMemoHandleHash   Criterion = "memo_handle_hash"
	CriterionMemoWalletHash   Criterion = "memo_wallet_hash"
	// CriterionCarryOver credits overpayment from the immediately
	// preceding epoch. It never references a transaction.
	CriterionCarryOver Criterion = "carry_over"
)

// MatchResult credits an amount toward a requirement. An epoch accumulates
// many partial matches until the requirement is met or the deadline passes.
type MatchResult struct {
	Producer  string
	Epoch     uint64
	TxHash    string // empty for carry-over credits
	Slot      uint64
	Amount    uint64 // nanomina credited
	Criterion Criterion
}

// TotalCredited sums the credited amounts of a match set.
func TotalCredited(results []MatchResult) uint64 {
	var total uint64
	for _, r := range results {
		total += r.Amount
	}
	return total
}

// CarryOver returns the overpayment from a previous epoch that may be
// credited against the next epoch's requirement. Carry-over is capped at
// one epoch forward: only the immediately preceding epoch's surplus counts.
func CarryOver(prevCredited, prevRequired uint64) uint64 {
	if prevCredited > prevRequired {
		return prevCredited - prevRequired
	}
	return 0
}
