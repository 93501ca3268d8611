// Package indexer maintains the referral fee records by continuously
// reading fee events from each network's fee contract.
package indexer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/crosslane/bridge-middleware/internal/metrics"
	"github.com/crosslane/bridge-middleware/pkg/chain"
	"github.com/crosslane/bridge-middleware/pkg/config"
	"github.com/crosslane/bridge-middleware/pkg/token"
)

// LogReader defines the chain access the indexer needs
type LogReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64, topics ...common.Hash) ([]types.Log, error)
}

// CheckpointStore persists indexing progress
type CheckpointStore interface {
	GetIndexingState(ctx context.Context, indexerName string) (*State, error)
	InitIndexingState(ctx context.Context, indexerName string, startBlock uint64) (*State, error)
	SetLastIndexedBlock(ctx context.Context, indexerName string, block uint64) error
	SetIndexerActive(ctx context.Context, indexerName string, active bool) error
}

// FeeStore persists referral fee records
type FeeStore interface {
	UpsertReferralFee(ctx context.Context, fee *ReferralFee) error
}

// TokenResolver looks up token metadata for amount scaling
type TokenResolver interface {
	Resolve(ctx context.Context, networkID uint64, addr common.Address) (token.Metadata, error)
}

// FeeIndexer indexes one network's fee contract. The checkpoint only
// advances after a window's events are fully persisted, so a crash at any
// point re-reads at most one window; the last-write-wins fee upsert makes
// that replay harmless.
type FeeIndexer struct {
	name        string
	networkID   uint64
	contract    common.Address
	startBlock  uint64
	reader      LogReader
	checkpoints CheckpointStore
	fees        FeeStore
	tokens      TokenResolver
	logger      *zap.Logger

	backfillBatch uint64
	pollBatch     uint64
	pollInterval  time.Duration

	mu      sync.Mutex
	phase   Phase
	cancel  context.CancelFunc
	doneCh  chan struct{}
	running bool
}

// NewFeeIndexer creates an indexer for one network's fee contract
func NewFeeIndexer(
	netCfg *config.NetworkConfig,
	idxCfg *config.IndexerConfig,
	reader LogReader,
	checkpoints CheckpointStore,
	fees FeeStore,
	tokens TokenResolver,
	logger *zap.Logger,
) *FeeIndexer {
	return &FeeIndexer{
		name:          fmt.Sprintf("referral_fees_%d", netCfg.ChainID),
		networkID:     netCfg.ChainID,
		contract:      common.HexToAddress(netCfg.FeeContract),
		startBlock:    netCfg.FeeStartBlock,
		reader:        reader,
		checkpoints:   checkpoints,
		fees:          fees,
		tokens:        tokens,
		backfillBatch: idxCfg.BackfillBatchSize,
		pollBatch:     idxCfg.PollBatchSize,
		pollInterval:  idxCfg.PollInterval,
		phase:         PhaseStopped,
		logger:        logger.With(zap.String("indexer", fmt.Sprintf("referral_fees_%d", netCfg.ChainID))),
	}
}

// Name returns the indexer's durable checkpoint name
func (ix *FeeIndexer) Name() string {
	return ix.name
}

// NetworkID returns the chain id this indexer serves
func (ix *FeeIndexer) NetworkID() uint64 {
	return ix.networkID
}

// Start begins indexing in a background goroutine. The caller's context
// bounds only the setup reads and writes here; the loop runs on its own
// context so a short-lived caller, an HTTP request for one, cannot kill
// it. Starting an already running indexer is a no-op.
func (ix *FeeIndexer) Start(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.running {
		ix.logger.Info("Indexer already running")
		return nil
	}

	if _, err := ix.initCheckpoint(ctx); err != nil {
		return err
	}
	if err := ix.checkpoints.SetIndexerActive(ctx, ix.name, true); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ix.cancel = cancel
	ix.doneCh = make(chan struct{})
	ix.running = true
	ix.phase = PhaseBackfilling

	go ix.run(runCtx, ix.doneCh)
	return nil
}

// Stop halts indexing and waits for the current window to finish. The
// checkpoint is left wherever the last completed window put it.
func (ix *FeeIndexer) Stop(ctx context.Context) error {
	ix.mu.Lock()
	if !ix.running {
		ix.mu.Unlock()
		return nil
	}
	cancel, doneCh := ix.cancel, ix.doneCh
	ix.mu.Unlock()

	cancel()
	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	ix.logger.Info("Indexer stopped")
	return nil
}

// RescanFrom moves the checkpoint back to re-read history from the given
// block. Fee records are cumulative totals, so replaying old events only
// rewrites the same values. A running indexer is stopped for the reset
// and restarted afterwards.
func (ix *FeeIndexer) RescanFrom(ctx context.Context, fromBlock uint64) error {
	ix.mu.Lock()
	wasRunning := ix.running
	ix.mu.Unlock()

	if wasRunning {
		if err := ix.Stop(ctx); err != nil {
			return err
		}
	}

	checkpoint := uint64(0)
	if fromBlock > 0 {
		checkpoint = fromBlock - 1
	}
	if err := ix.checkpoints.SetLastIndexedBlock(ctx, ix.name, checkpoint); err != nil {
		return err
	}
	ix.logger.Info("Checkpoint reset for rescan", zap.Uint64("from_block", fromBlock))

	if wasRunning {
		return ix.Start(ctx)
	}
	return nil
}

// StatusInfo is a point-in-time snapshot of one indexer
type StatusInfo struct {
	Name             string `json:"name"`
	NetworkID        uint64 `json:"network_id"`
	Phase            Phase  `json:"phase"`
	IsActive         bool   `json:"is_active"`
	LastIndexedBlock uint64 `json:"last_indexed_block"`
	LastIndexedAt    string `json:"last_indexed_at,omitempty"`
}

// Status reports the indexer's phase and durable checkpoint
func (ix *FeeIndexer) Status(ctx context.Context) (*StatusInfo, error) {
	ix.mu.Lock()
	phase := ix.phase
	ix.mu.Unlock()

	info := &StatusInfo{
		Name:      ix.name,
		NetworkID: ix.networkID,
		Phase:     phase,
		IsActive:  phase != PhaseStopped,
	}

	state, err := ix.checkpoints.GetIndexingState(ctx, ix.name)
	if err != nil {
		return nil, err
	}
	if state != nil {
		info.LastIndexedBlock = state.LastIndexedBlock
		if !state.LastIndexedAt.IsZero() {
			info.LastIndexedAt = state.LastIndexedAt.UTC().Format(time.RFC3339)
		}
	}
	return info, nil
}

func (ix *FeeIndexer) initCheckpoint(ctx context.Context) (*State, error) {
	state, err := ix.checkpoints.GetIndexingState(ctx, ix.name)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	checkpoint := uint64(0)
	if ix.startBlock > 0 {
		checkpoint = ix.startBlock - 1
	}
	return ix.checkpoints.InitIndexingState(ctx, ix.name, checkpoint)
}

func (ix *FeeIndexer) run(ctx context.Context, doneCh chan<- struct{}) {
	defer ix.markStopped(doneCh)

	ix.logger.Info("Indexer started",
		zap.String("contract", ix.contract.Hex()),
		zap.Uint64("start_block", ix.startBlock))

	if !ix.backfill(ctx) {
		return
	}

	ix.setPhase(PhasePolling)
	ix.logger.Info("Backfill complete, switching to polling",
		zap.Duration("interval", ix.pollInterval))

	ticker := time.NewTicker(ix.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ix.catchUp(ctx, ix.pollBatch); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IndexerCycles.WithLabelValues(ix.name, "failure").Inc()
				ix.logger.Warn("Poll cycle failed", zap.Error(err))
				continue
			}
			metrics.IndexerCycles.WithLabelValues(ix.name, "success").Inc()
		}
	}
}

// markStopped is the single exit path for run: however the loop ends, the
// in-memory state and the durable active flag both read stopped before
// doneCh is closed.
func (ix *FeeIndexer) markStopped(doneCh chan<- struct{}) {
	ix.mu.Lock()
	ix.running = false
	ix.phase = PhaseStopped
	ix.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ix.checkpoints.SetIndexerActive(ctx, ix.name, false); err != nil {
		ix.logger.Warn("Failed to persist inactive flag", zap.Error(err))
	}
	close(doneCh)
}

// backfill catches the checkpoint up to the chain head in large windows,
// retrying after the poll interval on failure. Returns false when stopped.
func (ix *FeeIndexer) backfill(ctx context.Context) bool {
	for {
		err := ix.catchUp(ctx, ix.backfillBatch)
		if err == nil {
			metrics.IndexerCycles.WithLabelValues(ix.name, "success").Inc()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		metrics.IndexerCycles.WithLabelValues(ix.name, "failure").Inc()
		ix.logger.Warn("Backfill cycle failed, retrying", zap.Error(err))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(ix.pollInterval):
		}
	}
}

// catchUp processes windows of at most batch blocks until the checkpoint
// reaches the chain head. A window that fails leaves the checkpoint where
// it was; the next cycle re-reads the same window.
func (ix *FeeIndexer) catchUp(ctx context.Context, batch uint64) error {
	head, err := ix.reader.BlockNumber(ctx)
	if err != nil {
		return err
	}

	state, err := ix.checkpoints.GetIndexingState(ctx, ix.name)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("indexing state missing for %s", ix.name)
	}

	last := state.LastIndexedBlock
	for last < head {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		from := last + 1
		to := min(last+batch, head)
		if err := ix.processWindow(ctx, from, to); err != nil {
			return err
		}
		last = to
	}
	return nil
}

// processWindow reads and persists one block window, then advances the
// checkpoint. Malformed events are skipped and logged; a failed log fetch
// or checkpoint write aborts without advancing.
func (ix *FeeIndexer) processWindow(ctx context.Context, from, to uint64) error {
	logs, err := ix.reader.FilterLogs(ctx, ix.contract, from, to, chain.ReferralFeeAccruedTopic)
	if err != nil {
		return err
	}

	for i := range logs {
		if err := ix.processEvent(ctx, &logs[i]); err != nil {
			metrics.ErrorsTotal.WithLabelValues("fee_indexer", "event").Inc()
			ix.logger.Warn("Skipping fee event",
				zap.Uint64("block", logs[i].BlockNumber),
				zap.String("tx_hash", logs[i].TxHash.Hex()),
				zap.Error(err))
		}
	}

	if err := ix.checkpoints.SetLastIndexedBlock(ctx, ix.name, to); err != nil {
		return fmt.Errorf("failed to advance checkpoint to %d: %w", to, err)
	}
	metrics.LastIndexedBlock.WithLabelValues(ix.name).Set(float64(to))

	if len(logs) > 0 {
		ix.logger.Debug("Indexed window",
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Int("events", len(logs)))
	}
	return nil
}

func (ix *FeeIndexer) processEvent(ctx context.Context, log *types.Log) error {
	event, err := chain.DecodeReferralFeeAccrued(log)
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}

	meta, err := ix.tokens.Resolve(ctx, ix.networkID, event.Token)
	if err != nil {
		return fmt.Errorf("failed to resolve token %s: %w", event.Token.Hex(), err)
	}

	fee := &ReferralFee{
		Referrer:    normalizeAddress(event.Referrer),
		Token:       normalizeAddress(event.Token),
		NetworkID:   ix.networkID,
		Amount:      decimal.NewFromBigInt(event.TotalAmount, -int32(meta.Decimals)).String(),
		LastUpdated: time.Now().UTC(),
	}
	if err := ix.fees.UpsertReferralFee(ctx, fee); err != nil {
		return err
	}

	metrics.FeeEventsProcessed.WithLabelValues(strconv.FormatUint(ix.networkID, 10)).Inc()
	return nil
}

func (ix *FeeIndexer) setPhase(phase Phase) {
	ix.mu.Lock()
	ix.phase = phase
	ix.mu.Unlock()
}

func normalizeAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
