package payout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/MinaFoundation/uptime-service-validation/internal/ledger"
)

// MemoHasher maps a memo source string to its on-chain memo form. The
// algorithm is a policy constant, not negotiated per producer.
type MemoHasher func(string) string

// SHA256Hex is the default memo hasher.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NewMemoHasher returns the hasher for a policy-configured algorithm name.
func NewMemoHasher(algorithm string) (MemoHasher, error) {
	switch strings.ToLower(algorithm) {
	case "", "sha256":
		return SHA256Hex, nil
	default:
		return nil, fmt.Errorf("unsupported memo hash algorithm %q", algorithm)
	}
}

// Matcher reconciles observed transactions against a requirement.
type Matcher struct {
	hash MemoHasher
}

func NewMatcher(hash MemoHasher) *Matcher {
	if hash == nil {
		hash = SHA256Hex
	}
	return &Matcher{hash: hash}
}

// Match attributes candidate transactions to a requirement. A transaction
// satisfies the requirement if it meets any criterion, checked in priority
// order; the first satisfied criterion wins attribution, but amounts from
// every matched transaction accumulate. Zero matches is a valid outcome,
// not an error.
//
// Callers are expected to pass only transactions inside the epoch's
// catch-up window (see Calculator.Window).
func (m *Matcher) Match(req Requirement, p Producer, coinbaseReceivers map[string]struct{}, txs []ledger.Transaction) []MatchResult {
	hotWallets := make(map[string]struct{}, len(p.HotWallets))
	walletHashes := make(map[string]struct{}, len(p.HotWallets))
	for _, w := range p.HotWallets {
		hotWallets[w] = struct{}{}
		walletHashes[m.hash(w)] = struct{}{}
	}

	var handleHash string
	if p.DelegatorHandle != "" {
		handleHash = m.hash(p.DelegatorHandle)
	}

	var results []MatchResult
	for _, tx := range txs {
		criterion, ok := m.classify(tx, p, hotWallets, walletHashes, handleHash, coinbaseReceivers)
		if !ok {
			continue
		}
		results = append(results, MatchResult{
			Producer:  req.Producer,
			Epoch:     req.Epoch,
			TxHash:    tx.Hash,
			Slot:      tx.Slot,
			Amount:    tx.Amount,
			Criterion: criterion,
		})
	}
	return results
}

func (m *Matcher) classify(tx ledger.Transaction, p Producer, hotWallets, walletHashes map[string]struct{}, handleHash string, coinbaseReceivers map[string]struct{}) (Criterion, bool) {
	if _, ok := hotWallets[tx.Sender]; ok {
		return CriterionHotWallet, true
	}
	if _, ok := coinbaseReceivers[tx.Sender]; ok {
		return CriterionCoinbaseReceiver, true
	}

	memo := strings.TrimSpace(tx.Memo)
	if memo == "" {
		return "", false
	}
	if p.DelegatorHandle != "" && memo == p.DelegatorHandle {
		return CriterionMemoHandle, true
	}
	if handleHash != "" && memo == handleHash {
		return CriterionMemoHandleHash, true
	}
	if _, ok := walletHashes[memo]; ok {
		return CriterionMemoWalletHash, true
	}
	return "", false
}
