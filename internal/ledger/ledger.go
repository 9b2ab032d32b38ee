// Package ledger reads block-production and transaction records from a Mina
// archive endpoint. The engine only ever reads from the ledger; all reads are
// idempotent and safe to repeat.
package ledger

import (
	"context"
	"errors"

	"github.com/mr-tron/base58"
)

// ErrLedgerUnavailable indicates a transient ledger I/O failure. Callers
// retry with bounded backoff; exhausted retries fail the validation run.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// Block is a single block produced during an epoch, as recorded on chain.
type Block struct {
	Producer         string
	Height           uint64
	Slot             uint64 // global slot since genesis
	Coinbase         uint64 // nanomina
	CoinbaseReceiver string
}

// Transaction is an observed on-chain payment. Never mutated by this system.
type Transaction struct {
	Hash     string
	Sender   string
	Receiver string
	Amount   uint64 // nanomina
	Memo     string
	Slot     uint64 // global slot since genesis
}

// Reader is the read-only ledger collaborator.
type Reader interface {
	// BlocksProduced returns the blocks a producer created during an epoch.
	BlocksProduced(ctx context.Context, producer string, epoch uint64) ([]Block, error)
	// Transactions returns all payments in the inclusive global slot range.
	Transactions(ctx context.Context, fromSlot, toSlot uint64) ([]Transaction, error)
	// CurrentSlot returns the current global slot of the network.
	CurrentSlot(ctx context.Context) (uint64, error)
}

// RewardRecord aggregates a producer's block rewards for one epoch.
// Immutable once the epoch is closed.
type RewardRecord struct {
	Producer       string
	Epoch          uint64
	BlocksProduced int
	TotalReward    uint64 // nanomina
}

// NewRewardRecord sums coinbase rewards over the producer's blocks.
func NewRewardRecord(producer string, epoch uint64, blocks []Block) RewardRecord {
	rec := RewardRecord{Producer: producer, Epoch: epoch}
	for _, b := range blocks {
		rec.BlocksProduced++
		rec.TotalReward += b.Coinbase
	}
	return rec
}

// CoinbaseReceivers collects the distinct coinbase-receiver addresses
// declared in the given blocks.
func CoinbaseReceivers(blocks []Block) map[string]struct{} {
	receivers := make(map[string]struct{}, len(blocks))
	for _, b := range blocks {
		if b.CoinbaseReceiver != "" {
			receivers[b.CoinbaseReceiver] = struct{}{}
		}
	}
	return receivers
}

// ValidAddress reports whether s decodes as a base58 public key. Used to
// sanity-check producer registry entries before they participate in
// matching.
func ValidAddress(s string) bool {
	if s == "" {
		return false
	}
	_, err := base58.Decode(s)
	return err == nil
}
