// Package store is the PostgreSQL persistence layer for bridge
// transactions, referral fee records and indexer checkpoints.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/crosslane/bridge-middleware/pkg/bridge"
	"github.com/crosslane/bridge-middleware/pkg/indexer"
)

// Store provides database operations for the bridge middleware
type Store struct {
	db *bun.DB
}

// NewStore creates a new database store
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// CreateTransaction inserts a new bridge transaction record
func (s *Store) CreateTransaction(ctx context.Context, tx *bridge.Transaction) error {
	dao := toTransactionDao(tx)
	_, err := s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bridge transaction: %w", err)
	}
	return nil
}

// GetTransactionByMessageID retrieves a transaction by its message id.
// Returns (nil, nil) when no record exists.
func (s *Store) GetTransactionByMessageID(ctx context.Context, messageID string) (*bridge.Transaction, error) {
	dao := new(BridgeTransactionDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("message_id = ?", messageID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bridge transaction: %w", err)
	}
	return toTransaction(dao), nil
}

// GetTransactionsByUser retrieves all transactions submitted by a user
func (s *Store) GetTransactionsByUser(ctx context.Context, userAddress string) ([]*bridge.Transaction, error) {
	var daos []BridgeTransactionDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("user_address = ?", userAddress).
		Order("source_timestamp ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list user transactions: %w", err)
	}
	txs := make([]*bridge.Transaction, len(daos))
	for i := range daos {
		txs[i] = toTransaction(&daos[i])
	}
	return txs, nil
}

// GetPendingTransactionsByUser retrieves a user's transactions still awaiting
// execution on the target chain.
func (s *Store) GetPendingTransactionsByUser(ctx context.Context, userAddress string) ([]*bridge.Transaction, error) {
	var daos []BridgeTransactionDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("user_address = ?", userAddress).
		Where("status = ?", string(bridge.StatusPending)).
		Order("source_timestamp ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	txs := make([]*bridge.Transaction, len(daos))
	for i := range daos {
		txs[i] = toTransaction(&daos[i])
	}
	return txs, nil
}

// UpdateTransactionStatus updates a transaction's status and target-chain
// execution details.
func (s *Store) UpdateTransactionStatus(ctx context.Context, messageID string, status bridge.Status, targetTxHash *string, targetTimestamp *time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*BridgeTransactionDao)(nil)).
		Set("status = ?", string(status)).
		Set("target_tx_hash = ?", targetTxHash).
		Set("target_timestamp = ?", targetTimestamp).
		Set("updated_at = NOW()").
		Where("message_id = ?", messageID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

// UpsertReferralFee overwrites the cumulative fee for (referrer, token).
// Last write wins: the event carries the new total, not a delta.
func (s *Store) UpsertReferralFee(ctx context.Context, fee *indexer.ReferralFee) error {
	dao := &ReferralFeeDao{
		Referrer:    fee.Referrer,
		Token:       fee.Token,
		NetworkID:   int64(fee.NetworkID),
		Amount:      fee.Amount,
		LastUpdated: fee.LastUpdated,
	}
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (referrer, token) DO UPDATE").
		Set("amount = EXCLUDED.amount").
		Set("network_id = EXCLUDED.network_id").
		Set("last_updated = EXCLUDED.last_updated").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert referral fee: %w", err)
	}
	return nil
}

// GetReferralFee retrieves the fee record for (referrer, token).
// Returns (nil, nil) when no record exists.
func (s *Store) GetReferralFee(ctx context.Context, referrer, tokenAddr string) (*indexer.ReferralFee, error) {
	dao := new(ReferralFeeDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("referrer = ?", referrer).
		Where("token = ?", tokenAddr).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get referral fee: %w", err)
	}
	return toReferralFee(dao), nil
}

// ListReferralFeesByReferrer retrieves all fee records for a referrer
func (s *Store) ListReferralFeesByReferrer(ctx context.Context, referrer string) ([]*indexer.ReferralFee, error) {
	var daos []ReferralFeeDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("referrer = ?", referrer).
		Order("token ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list referral fees: %w", err)
	}
	fees := make([]*indexer.ReferralFee, len(daos))
	for i := range daos {
		fees[i] = toReferralFee(&daos[i])
	}
	return fees, nil
}

// GetIndexingState retrieves an indexer's checkpoint by name.
// Returns (nil, nil) when the indexer has never run.
func (s *Store) GetIndexingState(ctx context.Context, indexerName string) (*indexer.State, error) {
	dao := new(IndexingStateDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("indexer_name = ?", indexerName).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get indexing state: %w", err)
	}
	return toIndexingState(dao), nil
}

// InitIndexingState creates the checkpoint row for an indexer if it does
// not exist yet, and returns the current state either way.
func (s *Store) InitIndexingState(ctx context.Context, indexerName string, startBlock uint64) (*indexer.State, error) {
	dao := &IndexingStateDao{
		IndexerName:      indexerName,
		LastIndexedBlock: int64(startBlock),
		LastIndexedAt:    time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (indexer_name) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init indexing state: %w", err)
	}
	return s.GetIndexingState(ctx, indexerName)
}

// SetLastIndexedBlock advances an indexer's checkpoint. Called only after
// the corresponding block window has been fully processed.
func (s *Store) SetLastIndexedBlock(ctx context.Context, indexerName string, block uint64) error {
	_, err := s.db.NewUpdate().
		Model((*IndexingStateDao)(nil)).
		Set("last_indexed_block = ?", int64(block)).
		Set("last_indexed_at = NOW()").
		Where("indexer_name = ?", indexerName).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set last indexed block: %w", err)
	}
	return nil
}

// SetIndexerActive flips an indexer's active flag
func (s *Store) SetIndexerActive(ctx context.Context, indexerName string, active bool) error {
	_, err := s.db.NewUpdate().
		Model((*IndexingStateDao)(nil)).
		Set("is_active = ?", active).
		Where("indexer_name = ?", indexerName).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set indexer active flag: %w", err)
	}
	return nil
}
