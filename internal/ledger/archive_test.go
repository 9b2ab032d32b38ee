package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MinaFoundation/uptime-service-validation/internal/epoch"
	"github.com/MinaFoundation/uptime-service-validation/utils/pkg/retry"
	validationtesting "github.com/MinaFoundation/uptime-service-validation/utils/pkg/testing"
)

func testEpochClock() epoch.Clock {
	return epoch.Clock{
		Genesis:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SlotDuration:  epoch.DefaultSlotDuration,
		SlotsPerEpoch: epoch.DefaultSlotsPerEpoch,
	}
}

func newArchiveTestServer(t *testing.T, handler func(query string, vars map[string]any) (string, int)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		body, status := handler(req.Query, req.Variables)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, endpoint string) *ArchiveClient {
	t.Helper()
	client, err := NewArchiveClient(ArchiveClientConfig{
		Logger:         validationtesting.NewLogger(),
		Endpoint:       endpoint,
		EpochClock:     testEpochClock(),
		RequestsPerSec: 1000,
		Retry:          retry.Config{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	return client
}

func TestValidation_Archive_BlocksProduced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := newArchiveTestServer(t, func(_ string, vars map[string]any) (string, int) {
		// Epoch 2 spans slots 14280..21419.
		require.Equal(t, float64(14280), vars["fromSlot"])
		require.Equal(t, float64(21419), vars["toSlot"])
		require.Equal(t, "B62qproducer", vars["creator"])

		return `{"data": {"blocks": [
			{
				"blockHeight": 101,
				"protocolState": {"consensusState": {"slotSinceGenesis": "14300"}},
				"transactions": {"coinbase": "720000000000", "coinbaseReceiverAccount": {"publicKey": "B62qreceiver"}}
			},
			{
				"blockHeight": 102,
				"protocolState": {"consensusState": {"slotSinceGenesis": "14400"}},
				"transactions": {"coinbase": "720000000000", "coinbaseReceiverAccount": null}
			}
		]}}`, http.StatusOK
	})

	client := newTestClient(t, srv.URL)
	blocks, err := client.BlocksProduced(ctx, "B62qproducer", 2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	require.Equal(t, uint64(101), blocks[0].Height)
	require.Equal(t, uint64(14300), blocks[0].Slot)
	require.Equal(t, uint64(720_000_000_000), blocks[0].Coinbase)
	require.Equal(t, "B62qreceiver", blocks[0].CoinbaseReceiver)
	require.Empty(t, blocks[1].CoinbaseReceiver)

	rec := NewRewardRecord("B62qproducer", 2, blocks)
	require.Equal(t, 2, rec.BlocksProduced)
	require.Equal(t, uint64(1_440_000_000_000), rec.TotalReward)
}

func TestValidation_Archive_Transactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := newArchiveTestServer(t, func(_ string, vars map[string]any) (string, int) {
		require.Equal(t, float64(17781), vars["fromSlot"])
		require.Equal(t, float64(24920), vars["toSlot"])

		return `{"data": {"transactions": [
			{"hash": "CkpTx1", "from": "B62qsender", "to": "B62qfoundation",
			 "amount": "950000000000", "memo": "alice#1", "blockSlotSinceGenesis": 18000}
		]}}`, http.StatusOK
	})

	client := newTestClient(t, srv.URL)
	txs, err := client.Transactions(ctx, 17781, 24920)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "CkpTx1", txs[0].Hash)
	require.Equal(t, "B62qsender", txs[0].Sender)
	require.Equal(t, uint64(950_000_000_000), txs[0].Amount)
	require.Equal(t, "alice#1", txs[0].Memo)
	require.Equal(t, uint64(18000), txs[0].Slot)
}

func TestValidation_Archive_CurrentSlot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("tip slot", func(t *testing.T) {
		t.Parallel()
		srv := newArchiveTestServer(t, func(string, map[string]any) (string, int) {
			return `{"data": {"blocks": [
				{"protocolState": {"consensusState": {"slotSinceGenesis": "25001"}}}
			]}}`, http.StatusOK
		})

		client := newTestClient(t, srv.URL)
		slot, err := client.CurrentSlot(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(25001), slot)
	})

	t.Run("empty chain is unavailable", func(t *testing.T) {
		t.Parallel()
		srv := newArchiveTestServer(t, func(string, map[string]any) (string, int) {
			return `{"data": {"blocks": []}}`, http.StatusOK
		})

		client := newTestClient(t, srv.URL)
		_, err := client.CurrentSlot(ctx)
		require.ErrorIs(t, err, ErrLedgerUnavailable)
	})
}

func TestValidation_Archive_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("graphql error surfaces as unavailable", func(t *testing.T) {
		t.Parallel()
		srv := newArchiveTestServer(t, func(string, map[string]any) (string, int) {
			return `{"errors": [{"message": "internal error"}]}`, http.StatusOK
		})

		client := newTestClient(t, srv.URL)
		_, err := client.CurrentSlot(ctx)
		require.ErrorIs(t, err, ErrLedgerUnavailable)
		require.ErrorContains(t, err, "internal error")
	})

	t.Run("server errors are retried", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		srv := newArchiveTestServer(t, func(string, map[string]any) (string, int) {
			if calls.Add(1) == 1 {
				return `{"error": "boom"}`, http.StatusBadGateway
			}
			return `{"data": {"blocks": [
				{"protocolState": {"consensusState": {"slotSinceGenesis": "42"}}}
			]}}`, http.StatusOK
		})

		client := newTestClient(t, srv.URL)
		slot, err := client.CurrentSlot(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(42), slot)
		require.Equal(t, int64(2), calls.Load())
	})

	t.Run("cancelled context stops the request", func(t *testing.T) {
		t.Parallel()
		srv := newArchiveTestServer(t, func(string, map[string]any) (string, int) {
			return `{"data": {"blocks": []}}`, http.StatusOK
		})

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		client := newTestClient(t, srv.URL)
		_, err := client.CurrentSlot(cancelled)
		require.Error(t, err)
	})
}
