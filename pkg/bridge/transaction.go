package bridge

import "time"

// Status represents the current state of a bridge transaction
type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// Transaction is one cross-chain bridging operation. The message id is
// assigned by the bridge contract and is the record's identity: creation
// is idempotent on it, and it correlates the source-chain initiation with
// the target-chain execution.
type Transaction struct {
	MessageID     string
	UserAddress   string
	SourceChainID uint64
	TargetChainID uint64
	SourceTxHash  string
	TokenAddress  string
	TokenSymbol   string
	TokenDecimals uint8

	// Amount is in base units as an integer string; 18-decimal values do
	// not survive floating point.
	Amount string

	SourceTimestamp time.Time
	TargetTxHash    *string
	TargetTimestamp *time.Time
	Status          Status

	CreatedAt time.Time
	UpdatedAt time.Time
}
