package store

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/crosslane/bridge-middleware/pkg/bridge"
	"github.com/crosslane/bridge-middleware/pkg/indexer"
)

// BridgeTransactionDao maps directly to the 'bridge_transactions' table in PostgreSQL.
type BridgeTransactionDao struct {
	bun.BaseModel   `bun:"table:bridge_transactions,alias:bt"`
	ID              int64      `bun:"id,pk,autoincrement"`
	MessageID       string     `bun:"message_id,unique,notnull,type:varchar(66)"`
	UserAddress     string     `bun:"user_address,notnull,type:varchar(42)"`
	SourceChainID   int64      `bun:"source_chain_id,notnull"`
	TargetChainID   int64      `bun:"target_chain_id,notnull"`
	SourceTxHash    string     `bun:"source_tx_hash,notnull,type:varchar(66)"`
	TokenAddress    string     `bun:"token_address,notnull,type:varchar(42)"`
	TokenSymbol     string     `bun:"token_symbol,notnull,type:varchar(32)"`
	TokenDecimals   int16      `bun:"token_decimals,notnull"`
	Amount          string     `bun:"amount,notnull,type:numeric(78,0)"`
	SourceTimestamp time.Time  `bun:"source_timestamp,notnull"`
	TargetTxHash    *string    `bun:"target_tx_hash,type:varchar(66)"`
	TargetTimestamp *time.Time `bun:"target_timestamp"`
	Status          string     `bun:"status,notnull,type:varchar(16)"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,default:current_timestamp"`
}

// ReferralFeeDao maps directly to the 'referral_fees' table in PostgreSQL.
type ReferralFeeDao struct {
	bun.BaseModel `bun:"table:referral_fees,alias:rf"`
	ID            int64     `bun:"id,pk,autoincrement"`
	Referrer      string    `bun:"referrer,notnull,type:varchar(42)"`
	Token         string    `bun:"token,notnull,type:varchar(42)"`
	NetworkID     int64     `bun:"network_id,notnull"`
	Amount        string    `bun:"amount,notnull,type:numeric(38,18)"`
	LastUpdated   time.Time `bun:"last_updated,notnull"`
}

// IndexingStateDao maps directly to the 'indexing_state' table in PostgreSQL.
type IndexingStateDao struct {
	bun.BaseModel    `bun:"table:indexing_state,alias:ix"`
	ID               int64     `bun:"id,pk,autoincrement"`
	IndexerName      string    `bun:"indexer_name,unique,notnull,type:varchar(64)"`
	LastIndexedBlock int64     `bun:"last_indexed_block,notnull"`
	IsActive         bool      `bun:"is_active,notnull,default:false"`
	LastIndexedAt    time.Time `bun:"last_indexed_at,nullzero,default:current_timestamp"`
}

func toTransactionDao(tx *bridge.Transaction) *BridgeTransactionDao {
	return &BridgeTransactionDao{
		MessageID:       tx.MessageID,
		UserAddress:     tx.UserAddress,
		SourceChainID:   int64(tx.SourceChainID),
		TargetChainID:   int64(tx.TargetChainID),
		SourceTxHash:    tx.SourceTxHash,
		TokenAddress:    tx.TokenAddress,
		TokenSymbol:     tx.TokenSymbol,
		TokenDecimals:   int16(tx.TokenDecimals),
		Amount:          tx.Amount,
		SourceTimestamp: tx.SourceTimestamp,
		TargetTxHash:    tx.TargetTxHash,
		TargetTimestamp: tx.TargetTimestamp,
		Status:          string(tx.Status),
	}
}

func toTransaction(dao *BridgeTransactionDao) *bridge.Transaction {
	return &bridge.Transaction{
		MessageID:       dao.MessageID,
		UserAddress:     dao.UserAddress,
		SourceChainID:   uint64(dao.SourceChainID),
		TargetChainID:   uint64(dao.TargetChainID),
		SourceTxHash:    dao.SourceTxHash,
		TokenAddress:    dao.TokenAddress,
		TokenSymbol:     dao.TokenSymbol,
		TokenDecimals:   uint8(dao.TokenDecimals),
		Amount:          dao.Amount,
		SourceTimestamp: dao.SourceTimestamp,
		TargetTxHash:    dao.TargetTxHash,
		TargetTimestamp: dao.TargetTimestamp,
		Status:          bridge.Status(dao.Status),
		CreatedAt:       dao.CreatedAt,
		UpdatedAt:       dao.UpdatedAt,
	}
}

func toReferralFee(dao *ReferralFeeDao) *indexer.ReferralFee {
	return &indexer.ReferralFee{
		Referrer:    dao.Referrer,
		Token:       dao.Token,
		NetworkID:   uint64(dao.NetworkID),
		Amount:      dao.Amount,
		LastUpdated: dao.LastUpdated,
	}
}

func toIndexingState(dao *IndexingStateDao) *indexer.State {
	return &indexer.State{
		IndexerName:      dao.IndexerName,
		LastIndexedBlock: uint64(dao.LastIndexedBlock),
		IsActive:         dao.IsActive,
		LastIndexedAt:    dao.LastIndexedAt,
	}
}
