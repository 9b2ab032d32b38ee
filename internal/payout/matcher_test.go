package payout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MinaFoundation/uptime-service-validation/internal/ledger"
)

var (
	testProducer = Producer{
		Key:             "B62qproducer",
		DelegatorHandle: "alice#1234",
		HotWallets:      []string{"B62qhotwallet"},
	}
	testReq = Requirement{Producer: "B62qproducer", Epoch: 5, Required: 950 * mina}
)

func TestValidation_Matcher_HotWalletScenario(t *testing.T) {
	t.Parallel()
	m := NewMatcher(nil)

	// 950 MINA sent from the registered hot wallet inside the window.
	txs := []ledger.Transaction{
		{Hash: "tx1", Sender: "B62qhotwallet", Receiver: "B62qfoundation", Amount: 950 * mina, Slot: 39_201},
	}

	results := m.Match(testReq, testProducer, nil, txs)
	require.Len(t, results, 1)
	require.Equal(t, CriterionHotWallet, results[0].Criterion)
	require.Equal(t, 950*mina, results[0].Amount)
	require.Equal(t, "tx1", results[0].TxHash)
	require.GreaterOrEqual(t, TotalCredited(results), testReq.Required)
}

func TestValidation_Matcher_CriteriaPriority(t *testing.T) {
	t.Parallel()
	m := NewMatcher(nil)
	coinbase := map[string]struct{}{"B62qcoinbase": {}}

	t.Run("coinbase receiver", func(t *testing.T) {
		t.Parallel()
		results := m.Match(testReq, testProducer, coinbase, []ledger.Transaction{
			{Hash: "tx1", Sender: "B62qcoinbase", Amount: mina},
		})
		require.Len(t, results, 1)
		require.Equal(t, CriterionCoinbaseReceiver, results[0].Criterion)
	})

	t.Run("hot wallet beats coinbase receiver", func(t *testing.T) {
		t.Parallel()
		both := map[string]struct{}{"B62qhotwallet": {}}
		results := m.Match(testReq, testProducer, both, []ledger.Transaction{
			{Hash: "tx1", Sender: "B62qhotwallet", Amount: mina},
		})
		require.Len(t, results, 1)
		require.Equal(t, CriterionHotWallet, results[0].Criterion)
	})

	t.Run("memo handle", func(t *testing.T) {
		t.Parallel()
		results := m.Match(testReq, testProducer, nil, []ledger.Transaction{
			{Hash: "tx1", Sender: "B62qunknown", Memo: "alice#1234", Amount: mina},
		})
		require.Len(t, results, 1)
		require.Equal(t, CriterionMemoHandle, results[0].Criterion)
	})

	t.Run("memo handle hash", func(t *testing.T) {
		t.Parallel()
		results := m.Match(testReq, testProducer, nil, []ledger.Transaction{
			{Hash: "tx1", Sender: "B62qunknown", Memo: SHA256Hex("alice#1234"), Amount: mina},
		})
		require.Len(t, results, 1)
		require.Equal(t, CriterionMemoHandleHash, results[0].Criterion)
	})

	t.Run("memo wallet hash", func(t *testing.T) {
		t.Parallel()
		results := m.Match(testReq, testProducer, nil, []ledger.Transaction{
			{Hash: "tx1", Sender: "B62qunknown", Memo: SHA256Hex("B62qhotwallet"), Amount: mina},
		})
		require.Len(t, results, 1)
		require.Equal(t, CriterionMemoWalletHash, results[0].Criterion)
	})

	t.Run("memo with surrounding whitespace", func(t *testing.T) {
		t.Parallel()
		results := m.Match(testReq, testProducer, nil, []ledger.Transaction{
			{Hash: "tx1", Sender: "B62qunknown", Memo: "  alice#1234 ", Amount: mina},
		})
		require.Len(t, results, 1)
		require.Equal(t, CriterionMemoHandle, results[0].Criterion)
	})
}

func TestValidation_Matcher_PartialPaymentsAccumulate(t *testing.T) {
	t.Parallel()
	m := NewMatcher(nil)

	txs := []ledger.Transaction{
		{Hash: "tx1", Sender: "B62qhotwallet", Amount: 400 * mina, Slot: 100},
		{Hash: "tx2", Sender: "B62qhotwallet", Amount: 300 * mina, Slot: 200},
		{Hash: "tx3", Sender: "B62qunknown", Memo: "alice#1234", Amount: 250 * mina, Slot: 300},
	}

	results := m.Match(testReq, testProducer, nil, txs)
	require.Len(t, results, 3)
	require.Equal(t, 950*mina, TotalCredited(results))
}

func TestValidation_Matcher_ZeroMatchesIsNotAFault(t *testing.T) {
	t.Parallel()
	m := NewMatcher(nil)

	results := m.Match(testReq, testProducer, nil, []ledger.Transaction{
		{Hash: "tx1", Sender: "B62qstranger", Memo: "unrelated", Amount: mina},
	})
	require.Empty(t, results)

	results = m.Match(testReq, testProducer, nil, nil)
	require.Empty(t, results)
}

func TestValidation_Matcher_Monotonic(t *testing.T) {
	t.Parallel()
	m := NewMatcher(nil)

	txs := []ledger.Transaction{
		{Hash: "tx1", Sender: "B62qhotwallet", Amount: 100 * mina},
		{Hash: "tx2", Sender: "B62qstranger", Amount: 50 * mina},
		{Hash: "tx3", Sender: "B62qunknown", Memo: SHA256Hex("alice#1234"), Amount: 25 * mina},
		{Hash: "tx4", Sender: "B62qhotwallet", Amount: 10 * mina},
	}

	// Adding a transaction never decreases total credited or match count.
	var prevCredited uint64
	prevCount := 0
	for i := 0; i <= len(txs); i++ {
		results := m.Match(testReq, testProducer, nil, txs[:i])
		credited := TotalCredited(results)
		require.GreaterOrEqual(t, credited, prevCredited)
		require.GreaterOrEqual(t, len(results), prevCount)
		prevCredited = credited
		prevCount = len(results)
	}
}

func TestValidation_Matcher_EmptyMemoAndHandle(t *testing.T) {
	t.Parallel()
	m := NewMatcher(nil)

	// A producer without a delegator handle must not match empty memos.
	p := Producer{Key: "B62qproducer", HotWallets: []string{"B62qhotwallet"}}
	results := m.Match(testReq, p, nil, []ledger.Transaction{
		{Hash: "tx1", Sender: "B62qstranger", Memo: "", Amount: mina},
	})
	require.Empty(t, results)
}

func TestValidation_Payout_CarryOver(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint64(0), CarryOver(0, 100))
	require.Equal(t, uint64(0), CarryOver(100, 100))
	require.Equal(t, uint64(25), CarryOver(125, 100))
	require.Equal(t, uint64(0), CarryOver(99, 100))
}

func TestValidation_Payout_NewMemoHasher(t *testing.T) {
	t.Parallel()

	h, err := NewMemoHasher("sha256")
	require.NoError(t, err)
	require.Equal(t, SHA256Hex("x"), h("x"))

	h, err = NewMemoHasher("")
	require.NoError(t, err)
	require.NotNil(t, h)

	_, err = NewMemoHasher("md5")
	require.Error(t, err)
}
