package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// bridgeABIJSON covers the three events this service consumes. Kept as a
// plain ABI fragment so decode attempts stay tied to one fixed schema.
const bridgeABIJSON = `[
  {
    "type": "event",
    "name": "MessageDispatched",
    "inputs": [
      {"name": "messageId", "type": "bytes32", "indexed": true},
      {"name": "sender", "type": "address", "indexed": true},
      {"name": "token", "type": "address", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "targetChainId", "type": "uint256", "indexed": false},
      {"name": "recipient", "type": "address", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "MessageExecuted",
    "inputs": [
      {"name": "messageId", "type": "bytes32", "indexed": true}
    ]
  },
  {
    "type": "event",
    "name": "ReferralFeeAccrued",
    "inputs": [
      {"name": "referrer", "type": "address", "indexed": true},
      {"name": "token", "type": "address", "indexed": true},
      {"name": "totalAmount", "type": "uint256", "indexed": false}
    ]
  }
]`

var bridgeABI = mustParseABI(bridgeABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid bridge ABI: %v", err))
	}
	return parsed
}

// Event topic hashes, exported for filter construction.
var (
	MessageDispatchedTopic  = bridgeABI.Events["MessageDispatched"].ID
	MessageExecutedTopic    = bridgeABI.Events["MessageExecuted"].ID
	ReferralFeeAccruedTopic = bridgeABI.Events["ReferralFeeAccrued"].ID
)

// MessageDispatchedEvent is the decoded bridge-initiation event: a user
// locked or burned tokens to begin a cross-chain transfer.
type MessageDispatchedEvent struct {
	MessageID     common.Hash
	Sender        common.Address
	Token         common.Address
	Amount        *big.Int
	TargetChainID *big.Int
	Recipient     common.Address

	// Provenance from the raw log.
	EmittedBy   common.Address
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// MessageExecutedEvent marks completion of a transfer on the target chain.
type MessageExecutedEvent struct {
	MessageID   common.Hash
	BlockNumber uint64
	TxHash      common.Hash
}

// ReferralFeeEvent carries a referrer's new cumulative fee total for one
// token. The total replaces the stored value; it is not a delta.
type ReferralFeeEvent struct {
	Referrer    common.Address
	Token       common.Address
	TotalAmount *big.Int
	BlockNumber uint64
	TxHash      common.Hash
}

// DecodeMessageDispatched attempts to decode a log against the
// MessageDispatched schema. Returns (nil, nil) when the log is some other
// event; that is the expected outcome for unrelated logs, not an error.
func DecodeMessageDispatched(log *types.Log) (*MessageDispatchedEvent, error) {
	if len(log.Topics) != 3 || log.Topics[0] != MessageDispatchedTopic {
		return nil, nil
	}
	values, err := bridgeABI.Events["MessageDispatched"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack MessageDispatched data: %w", err)
	}
	return &MessageDispatchedEvent{
		MessageID:     log.Topics[1],
		Sender:        common.BytesToAddress(log.Topics[2].Bytes()),
		Token:         values[0].(common.Address),
		Amount:        values[1].(*big.Int),
		TargetChainID: values[2].(*big.Int),
		Recipient:     values[3].(common.Address),
		EmittedBy:     log.Address,
		BlockNumber:   log.BlockNumber,
		TxHash:        log.TxHash,
		LogIndex:      log.Index,
	}, nil
}

// DecodeMessageExecuted attempts to decode a log against the
// MessageExecuted schema. Returns (nil, nil) for other events.
func DecodeMessageExecuted(log *types.Log) (*MessageExecutedEvent, error) {
	if len(log.Topics) != 2 || log.Topics[0] != MessageExecutedTopic {
		return nil, nil
	}
	return &MessageExecutedEvent{
		MessageID:   log.Topics[1],
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
	}, nil
}

// DecodeReferralFeeAccrued attempts to decode a log against the
// ReferralFeeAccrued schema. Returns (nil, nil) for other events.
func DecodeReferralFeeAccrued(log *types.Log) (*ReferralFeeEvent, error) {
	if len(log.Topics) != 3 || log.Topics[0] != ReferralFeeAccruedTopic {
		return nil, nil
	}
	values, err := bridgeABI.Events["ReferralFeeAccrued"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack ReferralFeeAccrued data: %w", err)
	}
	return &ReferralFeeEvent{
		Referrer:    common.BytesToAddress(log.Topics[1].Bytes()),
		Token:       common.BytesToAddress(log.Topics[2].Bytes()),
		TotalAmount: values[0].(*big.Int),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
	}, nil
}
