package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/MinaFoundation/uptime-service-validation/internal/epoch"
	"github.com/MinaFoundation/uptime-service-validation/internal/metrics"
	"github.com/MinaFoundation/uptime-service-validation/utils/pkg/retry"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultRequestsPerSec = 5
)

// ArchiveClientConfig configures the GraphQL archive client.
type ArchiveClientConfig struct {
	Logger         *slog.Logger
	Endpoint       string
	EpochClock     epoch.Clock
	RequestTimeout time.Duration
	RequestsPerSec float64
	Retry          retry.Config
	HTTPClient     *http.Client
}

func (cfg *ArchiveClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Endpoint == "" {
		return errors.New("archive endpoint is required")
	}
	if err := cfg.EpochClock.Validate(); err != nil {
		return fmt.Errorf("invalid epoch clock: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = defaultRequestsPerSec
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return nil
}

// ArchiveClient reads blocks and transactions from a Mina archive GraphQL
// endpoint. It implements Reader.
type ArchiveClient struct {
	log     *slog.Logger
	cfg     ArchiveClientConfig
	limiter *rate.Limiter
}

func NewArchiveClient(cfg ArchiveClientConfig) (*ArchiveClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ArchiveClient{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
	}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

const blocksQuery = `
query BlocksProduced($creator: String!, $fromSlot: Int!, $toSlot: Int!) {
  blocks(query: {
    creator: $creator,
    protocolState: { consensusState: {
      slotSinceGenesis_gte: $fromSlot,
      slotSinceGenesis_lte: $toSlot
    } },
    canonical: true
  }, limit: 10000) {
    blockHeight
    protocolState { consensusState { slotSinceGenesis } }
    transactions { coinbase coinbaseReceiverAccount { publicKey } }
  }
}`

const transactionsQuery = `
query Payments($fromSlot: Int!, $toSlot: Int!) {
  transactions(query: {
    kind: "PAYMENT",
    canonical: true,
    blockSlotSinceGenesis_gte: $fromSlot,
    blockSlotSinceGenesis_lte: $toSlot
  }, limit: 10000) {
    hash
    from
    to
    amount
    memo
    blockSlotSinceGenesis
  }
}`

const tipQuery = `
query Tip {
  blocks(query: { canonical: true }, sortBy: BLOCKHEIGHT_DESC, limit: 1) {
    protocolState { consensusState { slotSinceGenesis } }
  }
}`

// BlocksProduced returns the canonical blocks a producer created during an
// epoch.
func (c *ArchiveClient) BlocksProduced(ctx context.Context, producer string, e uint64) ([]Block, error) {
	fromSlot, toSlot := c.cfg.EpochClock.EpochSlots(e)

	var result struct {
		Blocks []struct {
			BlockHeight   uint64 `json:"blockHeight"`
			ProtocolState struct {
				ConsensusState struct {
					SlotSinceGenesis string `json:"slotSinceGenesis"`
				} `json:"consensusState"`
			} `json:"protocolState"`
			Transactions struct {
				Coinbase                string `json:"coinbase"`
				CoinbaseReceiverAccount *struct {
					PublicKey string `json:"publicKey"`
				} `json:"coinbaseReceiverAccount"`
			} `json:"transactions"`
		} `json:"blocks"`
	}

	vars := map[string]any{"creator": producer, "fromSlot": fromSlot, "toSlot": toSlot}
	if err := c.query(ctx, "blocks_produced", blocksQuery, vars, &result); err != nil {
		return nil, err
	}

	blocks := make([]Block, 0, len(result.Blocks))
	for _, b := range result.Blocks {
		slot, err := strconv.ParseUint(b.ProtocolState.ConsensusState.SlotSinceGenesis, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse block slot %q: %w",
				b.ProtocolState.ConsensusState.SlotSinceGenesis, err)
		}
		coinbase, err := strconv.ParseUint(b.Transactions.Coinbase, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse coinbase %q: %w", b.Transactions.Coinbase, err)
		}
		block := Block{
			Producer: producer,
			Height:   b.BlockHeight,
			Slot:     slot,
			Coinbase: coinbase,
		}
		if b.Transactions.CoinbaseReceiverAccount != nil {
			block.CoinbaseReceiver = b.Transactions.CoinbaseReceiverAccount.PublicKey
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// Transactions returns canonical payments in the inclusive global slot range.
func (c *ArchiveClient) Transactions(ctx context.Context, fromSlot, toSlot uint64) ([]Transaction, error) {
	var result struct {
		Transactions []struct {
			Hash                  string `json:"hash"`
			From                  string `json:"from"`
			To                    string `json:"to"`
			Amount                string `json:"amount"`
			Memo                  string `json:"memo"`
			BlockSlotSinceGenesis uint64 `json:"blockSlotSinceGenesis"`
		} `json:"transactions"`
	}

	vars := map[string]any{"fromSlot": fromSlot, "toSlot": toSlot}
	if err := c.query(ctx, "transactions", transactionsQuery, vars, &result); err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(result.Transactions))
	for _, t := range result.Transactions {
		amount, err := strconv.ParseUint(t.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount %q for tx %s: %w", t.Amount, t.Hash, err)
		}
		txs = append(txs, Transaction{
			Hash:     t.Hash,
			Sender:   t.From,
			Receiver: t.To,
			Amount:   amount,
			Memo:     t.Memo,
			Slot:     t.BlockSlotSinceGenesis,
		})
	}
	return txs, nil
}

// CurrentSlot returns the global slot of the canonical chain tip.
func (c *ArchiveClient) CurrentSlot(ctx context.Context) (uint64, error) {
	var result struct {
		Blocks []struct {
			ProtocolState struct {
				ConsensusState struct {
					SlotSinceGenesis string `json:"slotSinceGenesis"`
				} `json:"consensusState"`
			} `json:"protocolState"`
		} `json:"blocks"`
	}

	if err := c.query(ctx, "current_slot", tipQuery, nil, &result); err != nil {
		return 0, err
	}
	if len(result.Blocks) == 0 {
		return 0, fmt.Errorf("%w: archive returned no tip block", ErrLedgerUnavailable)
	}
	slot, err := strconv.ParseUint(result.Blocks[0].ProtocolState.ConsensusState.SlotSinceGenesis, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse tip slot: %w", err)
	}
	return slot, nil
}

func (c *ArchiveClient) query(ctx context.Context, method, query string, vars map[string]any, out any) error {
	return retry.Do(ctx, c.cfg.Retry, func() error {
		start := time.Now()
		err := c.queryOnce(ctx, query, vars, out)
		metrics.LedgerRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.LedgerRequestsTotal.WithLabelValues(method, "error").Inc()
			return err
		}
		metrics.LedgerRequestsTotal.WithLabelValues(method, "ok").Inc()
		return nil
	})
}

func (c *ArchiveClient) queryOnce(ctx context.Context, query string, vars map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status code %d", ErrLedgerUnavailable, resp.StatusCode)
	}

	var gqlResp graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrLedgerUnavailable, err)
	}
	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("%w: graphql error: %s", ErrLedgerUnavailable, gqlResp.Errors[0].Message)
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}
