// Package bridge turns user-submitted transaction hashes into verified,
// persisted bridge transaction records.
package bridge

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/crosslane/bridge-middleware/internal/metrics"
	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
	"github.com/crosslane/bridge-middleware/pkg/chain"
	"github.com/crosslane/bridge-middleware/pkg/subgraph"
	"github.com/crosslane/bridge-middleware/pkg/token"
)

var txHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ChainReader defines the chain access the service needs
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionOrigin(ctx context.Context, txHash common.Hash) (common.Address, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64, topics ...common.Hash) ([]types.Log, error)
}

// EventExtractor defines trusted event extraction from receipts
type EventExtractor interface {
	ExtractBridgeInitiation(receipt *types.Receipt, networkID uint64) (*chain.MessageDispatchedEvent, error)
}

// ContractRegistry identifies manager/relay contracts and lists the
// trusted bridge contracts per network
type ContractRegistry interface {
	IsManagerContract(networkID uint64, addr common.Address) bool
	TrustedBridges(networkID uint64) []common.Address
}

// TokenResolver looks up token metadata
type TokenResolver interface {
	Resolve(ctx context.Context, networkID uint64, addr common.Address) (token.Metadata, error)
}

// TransactionStore defines the persistence operations for bridge transactions
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransactionByMessageID(ctx context.Context, messageID string) (*Transaction, error)
	GetTransactionsByUser(ctx context.Context, userAddress string) ([]*Transaction, error)
	GetPendingTransactionsByUser(ctx context.Context, userAddress string) ([]*Transaction, error)
	UpdateTransactionStatus(ctx context.Context, messageID string, status Status, targetTxHash *string, targetTimestamp *time.Time) error
}

// BridgeIndex defines access to the off-chain bridge indexes
type BridgeIndex interface {
	RequestsByUser(ctx context.Context, networkID uint64, user string) ([]subgraph.BridgeRequest, error)
	ExecutionsByMessageIDs(ctx context.Context, networkID uint64, ids []string) ([]subgraph.Execution, error)
}

type negativeEntry struct {
	err     error
	expires time.Time
}

// Service is the on-demand bridge transaction service. The in-flight group
// and negative cache are process-local fields with lifecycle tied to the
// service instance; entries expire on access.
type Service struct {
	readers   map[uint64]ChainReader
	extractor EventExtractor
	registry  ContractRegistry
	tokens    TokenResolver
	store     TransactionStore
	index     BridgeIndex
	logger    *zap.Logger

	negTTL time.Duration
	flight singleflight.Group

	negMu    sync.Mutex
	negative map[string]negativeEntry
}

// NewService creates the on-demand bridge transaction service
func NewService(
	readers map[uint64]ChainReader,
	extractor EventExtractor,
	registry ContractRegistry,
	tokens TokenResolver,
	store TransactionStore,
	index BridgeIndex,
	negativeTTL time.Duration,
	logger *zap.Logger,
) *Service {
	return &Service{
		readers:   readers,
		extractor: extractor,
		registry:  registry,
		tokens:    tokens,
		store:     store,
		index:     index,
		negTTL:    negativeTTL,
		negative:  make(map[string]negativeEntry),
		logger:    logger,
	}
}

// CreateTransaction verifies and persists the bridge transaction initiated
// by txHash on the given network. Creation is idempotent on the message id
// assigned by the bridge contract; re-submitting the same transaction
// returns the existing record.
func (s *Service) CreateTransaction(ctx context.Context, txHash string, networkID uint64, userAddress string) (*Transaction, error) {
	if !txHashRe.MatchString(txHash) {
		return nil, apperrors.InvalidInputError(nil, "transaction hash must be 0x-prefixed 32-byte hex")
	}
	if !common.IsHexAddress(userAddress) {
		return nil, apperrors.InvalidInputError(nil, "user address is not a valid address")
	}
	reader, ok := s.readers[networkID]
	if !ok {
		return nil, apperrors.InvalidInputError(nil, fmt.Sprintf("unsupported network id %d", networkID))
	}

	hash := strings.ToLower(txHash)
	caller := common.HexToAddress(userAddress)

	if err := s.negativeResult(hash); err != nil {
		metrics.NegativeCacheHits.Inc()
		return nil, err
	}

	// Concurrent requests for the same hash share one receipt fetch and
	// one extraction. The entry is dropped once the shared call settles.
	v, err, _ := s.flight.Do(hash, func() (any, error) {
		event, err := s.fetchTrustedEvent(ctx, reader, hash, networkID)
		if err != nil {
			return nil, err
		}
		return event, nil
	})
	if err != nil {
		return nil, err
	}
	event := v.(*chain.MessageDispatchedEvent)

	if err := s.verifySender(ctx, reader, event, networkID, caller); err != nil {
		return nil, err
	}

	return s.persistTransaction(ctx, reader, event, networkID, caller)
}

// fetchTrustedEvent is the shared, caller-independent stage: one chain
// read and one trust-filtered decode. Its hard failures feed the negative
// cache; sender verification happens per caller and never does.
func (s *Service) fetchTrustedEvent(ctx context.Context, reader ChainReader, hash string, networkID uint64) (*chain.MessageDispatchedEvent, error) {
	receipt, err := reader.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		s.rememberFailure(hash, err)
		return nil, err
	}

	event, err := s.extractor.ExtractBridgeInitiation(receipt, networkID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		notFound := apperrors.ResourceNotFoundError(nil, "no trusted bridge event found in transaction")
		s.rememberFailure(hash, notFound)
		s.logger.Info("No trusted bridge event in submitted transaction",
			zap.Uint64("network", networkID),
			zap.String("tx_hash", hash))
		return nil, notFound
	}
	return event, nil
}

// verifySender checks that the event was initiated by the authenticated
// caller. Events relayed through a manager contract carry the manager as
// sender, so the transaction origin is checked instead.
func (s *Service) verifySender(ctx context.Context, reader ChainReader, event *chain.MessageDispatchedEvent, networkID uint64, caller common.Address) error {
	if event.Sender == caller {
		return nil
	}

	if s.registry.IsManagerContract(networkID, event.EmittedBy) {
		origin, err := reader.TransactionOrigin(ctx, event.TxHash)
		if err != nil {
			return err
		}
		if origin == caller {
			return nil
		}
		metrics.TrustViolations.WithLabelValues(strconv.FormatUint(networkID, 10), "origin_mismatch").Inc()
		s.logger.Warn("Transaction origin does not match caller",
			zap.Uint64("network", networkID),
			zap.String("tx_hash", event.TxHash.Hex()),
			zap.String("origin", origin.Hex()),
			zap.String("caller", caller.Hex()))
		return apperrors.TrustViolationError(nil, "transaction sender does not match authenticated caller")
	}

	metrics.TrustViolations.WithLabelValues(strconv.FormatUint(networkID, 10), "sender_mismatch").Inc()
	s.logger.Warn("Event sender does not match caller",
		zap.Uint64("network", networkID),
		zap.String("tx_hash", event.TxHash.Hex()),
		zap.String("event_sender", event.Sender.Hex()),
		zap.String("caller", caller.Hex()))
	return apperrors.TrustViolationError(nil, "transaction sender does not match authenticated caller")
}

func (s *Service) persistTransaction(ctx context.Context, reader ChainReader, event *chain.MessageDispatchedEvent, networkID uint64, caller common.Address) (*Transaction, error) {
	messageID := strings.ToLower(event.MessageID.Hex())

	existing, err := s.store.GetTransactionByMessageID(ctx, messageID)
	if err != nil {
		return nil, apperrors.GeneralError(err)
	}
	if existing != nil {
		return existing, nil
	}

	meta, err := s.tokens.Resolve(ctx, networkID, event.Token)
	if err != nil {
		s.rememberFailure(strings.ToLower(event.TxHash.Hex()), err)
		return nil, err
	}

	sourceTime, err := reader.BlockTime(ctx, event.BlockNumber)
	if err != nil {
		s.rememberFailure(strings.ToLower(event.TxHash.Hex()), err)
		return nil, err
	}

	tx := &Transaction{
		MessageID:       messageID,
		UserAddress:     strings.ToLower(caller.Hex()),
		SourceChainID:   networkID,
		TargetChainID:   event.TargetChainID.Uint64(),
		SourceTxHash:    strings.ToLower(event.TxHash.Hex()),
		TokenAddress:    strings.ToLower(event.Token.Hex()),
		TokenSymbol:     meta.Symbol,
		TokenDecimals:   meta.Decimals,
		Amount:          event.Amount.String(),
		SourceTimestamp: sourceTime,
		Status:          StatusPending,
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		// A concurrent caller with the same message id may have won the
		// insert; the unique key makes that race benign.
		if existing, gerr := s.store.GetTransactionByMessageID(ctx, messageID); gerr == nil && existing != nil {
			return existing, nil
		}
		return nil, apperrors.GeneralError(err)
	}

	metrics.TransactionsCreated.WithLabelValues(strconv.FormatUint(networkID, 10)).Inc()
	s.logger.Info("Created bridge transaction",
		zap.String("message_id", messageID),
		zap.Uint64("source_chain", networkID),
		zap.Uint64("target_chain", tx.TargetChainID),
		zap.String("amount", tx.Amount),
		zap.String("token", tx.TokenSymbol))
	return tx, nil
}

// GetTransactionStatus returns the stored record, lazily refreshing a
// pending status from the counterpart chain's index. A refresh failure is
// logged and the stale-but-valid record is returned.
func (s *Service) GetTransactionStatus(ctx context.Context, messageID string) (*Transaction, error) {
	if !txHashRe.MatchString(messageID) {
		return nil, apperrors.InvalidInputError(nil, "message id must be 0x-prefixed 32-byte hex")
	}
	messageID = strings.ToLower(messageID)

	tx, err := s.store.GetTransactionByMessageID(ctx, messageID)
	if err != nil {
		return nil, apperrors.GeneralError(err)
	}
	if tx == nil {
		return nil, apperrors.ResourceNotFoundError(nil, "bridge transaction not found")
	}
	if tx.Status != StatusPending {
		return tx, nil
	}

	executions, err := s.index.ExecutionsByMessageIDs(ctx, tx.TargetChainID, []string{tx.MessageID})
	if err != nil {
		s.logger.Warn("Index unavailable, refreshing from chain logs",
			zap.String("message_id", tx.MessageID),
			zap.Error(err))
		s.refreshFromChain(ctx, tx)
		return tx, nil
	}
	if len(executions) == 0 {
		return tx, nil
	}

	if err := s.applyExecution(ctx, tx, &executions[0]); err != nil {
		s.logger.Warn("Failed to apply execution update",
			zap.String("message_id", tx.MessageID),
			zap.Error(err))
	}
	return tx, nil
}

// executionLookbackBlocks bounds the chain-log fallback scan. Executions
// older than this are only found once the index is reachable again.
const executionLookbackBlocks = 50_000

// refreshFromChain scans the target chain's recent blocks for a
// MessageExecuted log matching the message id. Best effort: the record
// stays pending when nothing is found or the scan fails.
func (s *Service) refreshFromChain(ctx context.Context, tx *Transaction) {
	reader, ok := s.readers[tx.TargetChainID]
	if !ok {
		return
	}

	head, err := reader.BlockNumber(ctx)
	if err != nil {
		s.logger.Warn("Chain-log refresh failed",
			zap.String("message_id", tx.MessageID),
			zap.Error(err))
		return
	}
	from := uint64(0)
	if head > executionLookbackBlocks {
		from = head - executionLookbackBlocks
	}

	messageID := common.HexToHash(tx.MessageID)
	for _, contract := range s.registry.TrustedBridges(tx.TargetChainID) {
		logs, err := reader.FilterLogs(ctx, contract, from, head, chain.MessageExecutedTopic, messageID)
		if err != nil {
			s.logger.Warn("Chain-log refresh failed",
				zap.String("message_id", tx.MessageID),
				zap.String("contract", contract.Hex()),
				zap.Error(err))
			continue
		}
		for i := range logs {
			event, err := chain.DecodeMessageExecuted(&logs[i])
			if err != nil || event == nil {
				continue
			}
			if event.MessageID != messageID {
				continue
			}
			if err := s.applyExecutedEvent(ctx, reader, tx, event); err != nil {
				s.logger.Warn("Failed to apply chain-log execution",
					zap.String("message_id", tx.MessageID),
					zap.Error(err))
			}
			return
		}
	}
}

// applyExecutedEvent marks the transaction executed from an on-chain
// MessageExecuted event and mutates tx in place
func (s *Service) applyExecutedEvent(ctx context.Context, reader ChainReader, tx *Transaction, event *chain.MessageExecutedEvent) error {
	targetTime, err := reader.BlockTime(ctx, event.BlockNumber)
	if err != nil {
		return err
	}
	targetTxHash := strings.ToLower(event.TxHash.Hex())

	if err := s.store.UpdateTransactionStatus(ctx, tx.MessageID, StatusExecuted, &targetTxHash, &targetTime); err != nil {
		return err
	}
	tx.Status = StatusExecuted
	tx.TargetTxHash = &targetTxHash
	tx.TargetTimestamp = &targetTime
	return nil
}

// ListUserTransactions returns the stored records for a user without
// touching either chain.
func (s *Service) ListUserTransactions(ctx context.Context, userAddress string) ([]*Transaction, error) {
	if !common.IsHexAddress(userAddress) {
		return nil, apperrors.InvalidInputError(nil, "user address is not a valid address")
	}
	txs, err := s.store.GetTransactionsByUser(ctx, strings.ToLower(common.HexToAddress(userAddress).Hex()))
	if err != nil {
		return nil, apperrors.GeneralError(err)
	}
	return txs, nil
}

// SyncUserTransactions reconciles a user's records against both networks'
// off-chain indexes: it upserts any initiation not yet recorded, then
// resolves still-pending records against the counterpart chain's
// executions in one batch per direction.
func (s *Service) SyncUserTransactions(ctx context.Context, userAddress string) ([]*Transaction, error) {
	if !common.IsHexAddress(userAddress) {
		return nil, apperrors.InvalidInputError(nil, "user address is not a valid address")
	}
	user := strings.ToLower(common.HexToAddress(userAddress).Hex())

	g, gctx := errgroup.WithContext(ctx)
	requests := make(map[uint64][]subgraph.BridgeRequest, len(s.readers))
	var reqMu sync.Mutex
	for networkID := range s.readers {
		g.Go(func() error {
			reqs, err := s.index.RequestsByUser(gctx, networkID, user)
			if err != nil {
				return err
			}
			reqMu.Lock()
			requests[networkID] = reqs
			reqMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for networkID, reqs := range requests {
		for i := range reqs {
			if err := s.upsertFromIndex(ctx, networkID, user, &reqs[i]); err != nil {
				s.logger.Warn("Failed to upsert indexed bridge request",
					zap.Uint64("network", networkID),
					zap.String("message_id", reqs[i].MessageID),
					zap.Error(err))
			}
		}
	}

	if err := s.resolvePending(ctx, user); err != nil {
		s.logger.Warn("Failed to resolve pending transactions",
			zap.String("user", user),
			zap.Error(err))
	}

	return s.store.GetTransactionsByUser(ctx, user)
}

func (s *Service) upsertFromIndex(ctx context.Context, networkID uint64, user string, req *subgraph.BridgeRequest) error {
	messageID := strings.ToLower(req.MessageID)
	existing, err := s.store.GetTransactionByMessageID(ctx, messageID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	targetChainID, err := strconv.ParseUint(req.TargetChainID, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed target chain id %q: %w", req.TargetChainID, err)
	}
	timestamp, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed timestamp %q: %w", req.Timestamp, err)
	}

	meta, err := s.tokens.Resolve(ctx, networkID, common.HexToAddress(req.Token))
	if err != nil {
		return err
	}

	return s.store.CreateTransaction(ctx, &Transaction{
		MessageID:       messageID,
		UserAddress:     user,
		SourceChainID:   networkID,
		TargetChainID:   targetChainID,
		SourceTxHash:    strings.ToLower(req.TxHash),
		TokenAddress:    strings.ToLower(common.HexToAddress(req.Token).Hex()),
		TokenSymbol:     meta.Symbol,
		TokenDecimals:   meta.Decimals,
		Amount:          req.Amount,
		SourceTimestamp: time.Unix(timestamp, 0).UTC(),
		Status:          StatusPending,
	})
}

// resolvePending batch-queries the counterpart index once per direction
// instead of once per transaction.
func (s *Service) resolvePending(ctx context.Context, user string) error {
	pending, err := s.store.GetPendingTransactionsByUser(ctx, user)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	byTarget := make(map[uint64][]*Transaction)
	for _, tx := range pending {
		byTarget[tx.TargetChainID] = append(byTarget[tx.TargetChainID], tx)
	}

	g, gctx := errgroup.WithContext(ctx)
	for targetChainID, txs := range byTarget {
		g.Go(func() error {
			ids := make([]string, len(txs))
			byID := make(map[string]*Transaction, len(txs))
			for i, tx := range txs {
				ids[i] = tx.MessageID
				byID[tx.MessageID] = tx
			}

			executions, err := s.index.ExecutionsByMessageIDs(gctx, targetChainID, ids)
			if err != nil {
				return err
			}
			for i := range executions {
				tx, ok := byID[strings.ToLower(executions[i].MessageID)]
				if !ok {
					continue
				}
				if err := s.applyExecution(gctx, tx, &executions[i]); err != nil {
					s.logger.Warn("Failed to apply execution update",
						zap.String("message_id", tx.MessageID),
						zap.Error(err))
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// applyExecution marks a transaction executed and mutates tx in place
func (s *Service) applyExecution(ctx context.Context, tx *Transaction, exec *subgraph.Execution) error {
	targetTxHash := strings.ToLower(exec.TxHash)
	unix, err := strconv.ParseInt(exec.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed execution timestamp %q: %w", exec.Timestamp, err)
	}
	targetTime := time.Unix(unix, 0).UTC()

	if err := s.store.UpdateTransactionStatus(ctx, tx.MessageID, StatusExecuted, &targetTxHash, &targetTime); err != nil {
		return err
	}
	tx.Status = StatusExecuted
	tx.TargetTxHash = &targetTxHash
	tx.TargetTimestamp = &targetTime
	return nil
}

// negativeResult returns the remembered failure for a hash, expiring
// entries on access.
func (s *Service) negativeResult(hash string) error {
	s.negMu.Lock()
	defer s.negMu.Unlock()
	entry, ok := s.negative[hash]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expires) {
		delete(s.negative, hash)
		return nil
	}
	return entry.err
}

// rememberFailure records a hard failure for a bounded TTL so repeat
// requests for a hash that will never resolve stay cheap. Sender
// mismatches are never recorded: the same hash may be valid for a
// different, correctly authenticated caller.
func (s *Service) rememberFailure(hash string, err error) {
	if s.negTTL <= 0 {
		return
	}
	s.negMu.Lock()
	s.negative[hash] = negativeEntry{err: err, expires: time.Now().Add(s.negTTL)}
	s.negMu.Unlock()
}
