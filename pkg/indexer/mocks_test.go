package indexer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/crosslane/bridge-middleware/pkg/token"
)

// MockLogReader is a mock implementation of LogReader
type MockLogReader struct {
	BlockNumberFunc func(ctx context.Context) (uint64, error)
	FilterLogsFunc  func(ctx context.Context, contract common.Address, fromBlock, toBlock uint64, topics ...common.Hash) ([]types.Log, error)

	blockNumberCalls atomic.Int64
}

func (m *MockLogReader) BlockNumber(ctx context.Context) (uint64, error) {
	m.blockNumberCalls.Add(1)
	if m.BlockNumberFunc != nil {
		return m.BlockNumberFunc(ctx)
	}
	return 0, nil
}

// BlockNumberCalls reports how many head fetches the indexer has made
func (m *MockLogReader) BlockNumberCalls() int64 {
	return m.blockNumberCalls.Load()
}

func (m *MockLogReader) FilterLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64, topics ...common.Hash) ([]types.Log, error) {
	if m.FilterLogsFunc != nil {
		return m.FilterLogsFunc(ctx, contract, fromBlock, toBlock, topics...)
	}
	return nil, nil
}

// MockCheckpointStore is an in-memory CheckpointStore that records every
// checkpoint advance in order.
type MockCheckpointStore struct {
	mu       sync.Mutex
	state    map[string]*State
	Advances []uint64
	Active   []bool

	SetLastIndexedBlockFunc func(ctx context.Context, indexerName string, block uint64) error
}

func NewMockCheckpointStore() *MockCheckpointStore {
	return &MockCheckpointStore{state: make(map[string]*State)}
}

func (m *MockCheckpointStore) GetIndexingState(_ context.Context, indexerName string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.state[indexerName]; ok {
		snapshot := *s
		return &snapshot, nil
	}
	return nil, nil
}

func (m *MockCheckpointStore) InitIndexingState(_ context.Context, indexerName string, startBlock uint64) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state[indexerName]; !ok {
		m.state[indexerName] = &State{IndexerName: indexerName, LastIndexedBlock: startBlock}
	}
	snapshot := *m.state[indexerName]
	return &snapshot, nil
}

func (m *MockCheckpointStore) SetLastIndexedBlock(ctx context.Context, indexerName string, block uint64) error {
	if m.SetLastIndexedBlockFunc != nil {
		if err := m.SetLastIndexedBlockFunc(ctx, indexerName, block); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.state[indexerName]; ok {
		s.LastIndexedBlock = block
	} else {
		m.state[indexerName] = &State{IndexerName: indexerName, LastIndexedBlock: block}
	}
	m.Advances = append(m.Advances, block)
	return nil
}

func (m *MockCheckpointStore) SetIndexerActive(_ context.Context, indexerName string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.state[indexerName]; ok {
		s.IsActive = active
	}
	m.Active = append(m.Active, active)
	return nil
}

// MockFeeStore is a mock implementation of FeeStore
type MockFeeStore struct {
	mu   sync.Mutex
	Fees []*ReferralFee

	UpsertReferralFeeFunc func(ctx context.Context, fee *ReferralFee) error
}

func (m *MockFeeStore) UpsertReferralFee(ctx context.Context, fee *ReferralFee) error {
	if m.UpsertReferralFeeFunc != nil {
		if err := m.UpsertReferralFeeFunc(ctx, fee); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fees = append(m.Fees, fee)
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
