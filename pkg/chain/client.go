package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/crosslane/bridge-middleware/internal/metrics"
	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
	"github.com/crosslane/bridge-middleware/pkg/config"
)

// Client is a bounded-concurrency gateway to one network's RPC endpoint.
// Every caller on the network shares the same gate, so the on-demand
// service and the fee indexer cannot starve each other or exceed the
// provider's rate limit.
type Client struct {
	networkID uint64
	name      string
	client    *ethclient.Client
	signer    types.Signer
	sem       *semaphore.Weighted
	timeout   time.Duration
	logger    *zap.Logger
}

// NewClient connects to the network's RPC endpoint
func NewClient(cfg *config.NetworkConfig, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", cfg.Name, err)
	}

	logger.Info("Connected to network",
		zap.String("network", cfg.Name),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.Int64("max_concurrent_calls", cfg.MaxConcurrentCalls))

	return &Client{
		networkID: cfg.ChainID,
		name:      cfg.Name,
		client:    client,
		signer:    types.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainID)),
		sem:       semaphore.NewWeighted(cfg.MaxConcurrentCalls),
		timeout:   cfg.RequestTimeout,
		logger:    logger,
	}, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	c.client.Close()
}

// NetworkID returns the chain id this client serves
func (c *Client) NetworkID() uint64 {
	return c.networkID
}

// call acquires the concurrency gate, applies the per-call timeout and
// records the call duration.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return apperrors.UpstreamError(err, "rpc gate unavailable")
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.RPCDuration.WithLabelValues(c.name, method).Observe(time.Since(start).Seconds())
	return err
}

// TransactionReceipt fetches a transaction receipt. A missing receipt is
// reported as an upstream condition: the transaction may simply not be
// mined yet on this endpoint's view.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		var err error
		receipt, err = c.client.TransactionReceipt(ctx, txHash)
		return err
	})
	if err != nil {
		return nil, apperrors.UpstreamError(
			fmt.Errorf("failed to fetch receipt %s: %w", txHash.Hex(), err),
			"transaction receipt unavailable")
	}
	metrics.ReceiptFetches.WithLabelValues(c.name).Inc()
	return receipt, nil
}

// TransactionOrigin recovers the `from` address of a transaction
func (c *Client) TransactionOrigin(ctx context.Context, txHash common.Hash) (common.Address, error) {
	var tx *types.Transaction
	err := c.call(ctx, "eth_getTransactionByHash", func(ctx context.Context) error {
		var err error
		tx, _, err = c.client.TransactionByHash(ctx, txHash)
		return err
	})
	if err != nil {
		return common.Address{}, apperrors.UpstreamError(
			fmt.Errorf("failed to fetch transaction %s: %w", txHash.Hex(), err),
			"transaction unavailable")
	}

	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return common.Address{}, apperrors.UpstreamError(
			fmt.Errorf("failed to recover sender of %s: %w", txHash.Hex(), err),
			"transaction origin unavailable")
	}
	return from, nil
}

// BlockNumber returns the current chain head
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		head, err = c.client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, apperrors.UpstreamError(
			fmt.Errorf("failed to fetch chain head: %w", err),
			"chain head unavailable")
	}
	return head, nil
}

// BlockTime returns the timestamp of the given block
func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return time.Time{}, apperrors.UpstreamError(
			fmt.Errorf("failed to fetch block %d: %w", number, err),
			"block unavailable")
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// FilterLogs queries event logs for a contract over a block range. Topics
// match positionally: the first is the event signature, any further ones
// constrain the event's indexed arguments.
func (c *Client) FilterLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64, topics ...common.Hash) ([]types.Log, error) {
	positional := make([][]common.Hash, len(topics))
	for i, topic := range topics {
		positional[i] = []common.Hash{topic}
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{contract},
		Topics:    positional,
	}

	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.client.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, apperrors.UpstreamError(
			fmt.Errorf("failed to filter logs %d-%d: %w", fromBlock, toBlock, err),
			"event logs unavailable")
	}
	return logs, nil
}

// CallContract executes a read-only contract call
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := c.call(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		out, err = c.client.CallContract(ctx, msg, nil)
		return err
	})
	if err != nil {
		return nil, apperrors.UpstreamError(
			fmt.Errorf("contract call failed: %w", err),
			"contract read unavailable")
	}
	return out, nil
}
