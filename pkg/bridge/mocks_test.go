package bridge

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/crosslane/bridge-middleware/pkg/chain"
	"github.com/crosslane/bridge-middleware/pkg/subgraph"
	"github.com/crosslane/bridge-middleware/pkg/token"
)

// MockChainReader is a mock implementation of ChainReader
type MockChainReader struct {
	TransactionReceiptFunc func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionOriginFunc  func(ctx context.Context, txHash common.Hash) (common.Address, error)
	BlockTimeFunc          func(ctx context.Context, number uint64) (time.Time, error)
	BlockNumberFunc        func(ctx context.Context) (uint64, error)
	FilterLogsFunc         func(ctx context.Context, contract common.Address, fromBlock, toBlock uint64, topics ...common.Hash) ([]types.Log, error)
}

func (m *MockChainReader) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if m.TransactionReceiptFunc != nil {
		return m.TransactionReceiptFunc(ctx, txHash)
	}
	return &types.Receipt{}, nil
}

func (m *MockChainReader) TransactionOrigin(ctx context.Context, txHash common.Hash) (common.Address, error) {
	if m.TransactionOriginFunc != nil {
		return m.TransactionOriginFunc(ctx, txHash)
	}
	return common.Address{}, nil
}

func (m *MockChainReader) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	if m.BlockTimeFunc != nil {
		return m.BlockTimeFunc(ctx, number)
	}
	return time.Unix(1700000000, 0).UTC(), nil
}

func (m *MockChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	if m.BlockNumberFunc != nil {
		return m.BlockNumberFunc(ctx)
	}
	return 0, nil
}

func (m *MockChainReader) FilterLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64, topics ...common.Hash) ([]types.Log, error) {
	if m.FilterLogsFunc != nil {
		return m.FilterLogsFunc(ctx, contract, fromBlock, toBlock, topics...)
	}
	return nil, nil
}

// MockExtractor is a mock implementation of EventExtractor
type MockExtractor struct {
	ExtractFunc func(receipt *types.Receipt, networkID uint64) (*chain.MessageDispatchedEvent, error)
}

func (m *MockExtractor) ExtractBridgeInitiation(receipt *types.Receipt, networkID uint64) (*chain.MessageDispatchedEvent, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(receipt, networkID)
	}
	return nil, nil
}

// MockRegistry is a mock implementation of ContractRegistry
type MockRegistry struct {
	IsManagerContractFunc func(networkID uint64, addr common.Address) bool
	TrustedBridgesFunc    func(networkID uint64) []common.Address
}

func (m *MockRegistry) IsManagerContract(networkID uint64, addr common.Address) bool {
	if m.IsManagerContractFunc != nil {
		return m.IsManagerContractFunc(networkID, addr)
	}
	return false
}

func (m *MockRegistry) TrustedBridges(networkID uint64) []common.Address {
	if m.TrustedBridgesFunc != nil {
		return m.TrustedBridgesFunc(networkID)
	}
	return nil
}

// MockTokenResolver is a mock implementation of TokenResolver
type MockTokenResolver struct {
	ResolveFunc func(ctx context.Context, networkID uint64, addr common.Address) (token.Metadata, error)
}

func (m *MockTokenResolver) Resolve(ctx context.Context, networkID uint64, addr common.Address) (token.Metadata, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, networkID, addr)
	}
	return token.Metadata{Symbol: "TKN", Decimals: 18}, nil
}

// MockStore is a mock implementation of TransactionStore
type MockStore struct {
	CreateTransactionFunc            func(ctx context.Context, tx *Transaction) error
	GetTransactionByMessageIDFunc    func(ctx context.Context, messageID string) (*Transaction, error)
	GetTransactionsByUserFunc        func(ctx context.Context, userAddress string) ([]*Transaction, error)
	GetPendingTransactionsByUserFunc func(ctx context.Context, userAddress string) ([]*Transaction, error)
	UpdateTransactionStatusFunc      func(ctx context.Context, messageID string, status Status, targetTxHash *string, targetTimestamp *time.Time) error
}

func (m *MockStore) CreateTransaction(ctx context.Context, tx *Transaction) error {
	if m.CreateTransactionFunc != nil {
		return m.CreateTransactionFunc(ctx, tx)
	}
	return nil
}

func (m *MockStore) GetTransactionByMessageID(ctx context.Context, messageID string) (*Transaction, error) {
	if m.GetTransactionByMessageIDFunc != nil {
		return m.GetTransactionByMessageIDFunc(ctx, messageID)
	}
	return nil, nil
}

func (m *MockStore) GetTransactionsByUser(ctx context.Context, userAddress string) ([]*Transaction, error) {
	if m.GetTransactionsByUserFunc != nil {
		return m.GetTransactionsByUserFunc(ctx, userAddress)
	}
	return nil, nil
}

func (m *MockStore) GetPendingTransactionsByUser(ctx context.Context, userAddress string) ([]*Transaction, error) {
	if m.GetPendingTransactionsByUserFunc != nil {
		return m.GetPendingTransactionsByUserFunc(ctx, userAddress)
	}
	return nil, nil
}

func (m *MockStore) UpdateTransactionStatus(ctx context.Context, messageID string, status Status, targetTxHash *string, targetTimestamp *time.Time) error {
	if m.UpdateTransactionStatusFunc != nil {
		return m.UpdateTransactionStatusFunc(ctx, messageID, status, targetTxHash, targetTimestamp)
	}
	return nil
}

// MockIndex is a mock implementation of BridgeIndex
type MockIndex struct {
	RequestsByUserFunc         func(ctx context.Context, networkID uint64, user string) ([]subgraph.BridgeRequest, error)
	ExecutionsByMessageIDsFunc func(ctx context.Context, networkID uint64, ids []string) ([]subgraph.Execution, error)
}

func (m *MockIndex) RequestsByUser(ctx context.Context, networkID uint64, user string) ([]subgraph.BridgeRequest, error) {
	if m.RequestsByUserFunc != nil {
		return m.RequestsByUserFunc(ctx, networkID, user)
	}
	return nil, nil
}

func (m *MockIndex) ExecutionsByMessageIDs(ctx context.Context, networkID uint64, ids []string) ([]subgraph.Execution, error) {
	if m.ExecutionsByMessageIDsFunc != nil {
		return m.ExecutionsByMessageIDsFunc(ctx, networkID, ids)
	}
	return nil, nil
}
