package bridge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
	"github.com/crosslane/bridge-middleware/pkg/chain"
	"github.com/crosslane/bridge-middleware/pkg/subgraph"
)

const (
	testNetworkA = uint64(1)
	testNetworkB = uint64(137)
)

var (
	testCaller = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testBridge = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testToken  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testTxHash = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	testMsgID  = common.HexToHash("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func testEvent(sender common.Address) *chain.MessageDispatchedEvent {
	return &chain.MessageDispatchedEvent{
		MessageID:     testMsgID,
		Sender:        sender,
		Token:         testToken,
		Amount:        big.NewInt(1_000_000),
		TargetChainID: new(big.Int).SetUint64(testNetworkB),
		Recipient:     sender,
		EmittedBy:     testBridge,
		BlockNumber:   100,
		TxHash:        testTxHash,
	}
}

// memStore backs MockStore with an in-memory map so concurrent creates
// behave like the real unique constraint.
type memStore struct {
	mu   sync.Mutex
	txs  map[string]*Transaction
	mock *MockStore
}

func newMemStore() *memStore {
	s := &memStore{txs: make(map[string]*Transaction)}
	s.mock = &MockStore{
		GetTransactionByMessageIDFunc: func(_ context.Context, messageID string) (*Transaction, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.txs[messageID], nil
		},
		CreateTransactionFunc: func(_ context.Context, tx *Transaction) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.txs[tx.MessageID]; ok {
				return errors.New("duplicate key value violates unique constraint")
			}
			s.txs[tx.MessageID] = tx
			return nil
		},
	}
	return s
}

func newTestService(reader ChainReader, extractor EventExtractor, st TransactionStore, index BridgeIndex, ttl time.Duration) *Service {
	return NewService(
		map[uint64]ChainReader{testNetworkA: reader, testNetworkB: reader},
		extractor,
		&MockRegistry{},
		&MockTokenResolver{},
		st,
		index,
		ttl,
		zap.NewNop(),
	)
}

func TestCreateTransaction_Success(t *testing.T) {
	st := newMemStore()
	svc := newTestService(
		&MockChainReader{},
		&MockExtractor{ExtractFunc: func(*types.Receipt, uint64) (*chain.MessageDispatchedEvent, error) {
			return testEvent(testCaller), nil
		}},
		st.mock,
		&MockIndex{},
		time.Minute,
	)

	tx, err := svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if tx.MessageID != testMsgID.Hex() {
		t.Errorf("Expected message id %s, got %s", testMsgID.Hex(), tx.MessageID)
	}
	if tx.Amount != "1000000" {
		t.Errorf("Expected amount 1000000, got %s", tx.Amount)
	}
	if tx.SourceChainID != testNetworkA || tx.TargetChainID != testNetworkB {
		t.Errorf("Unexpected chain ids: %d -> %d", tx.SourceChainID, tx.TargetChainID)
	}
	if tx.Status != StatusPending {
		t.Errorf("Expected pending status, got %s", tx.Status)
	}
}

func TestCreateTransaction_InvalidInput(t *testing.T) {
	svc := newTestService(&MockChainReader{}, &MockExtractor{}, newMemStore().mock, &MockIndex{}, time.Minute)

	cases := []struct {
		name    string
		txHash  string
		network uint64
		user    string
	}{
		{"malformed hash", "0x1234", testNetworkA, testCaller.Hex()},
		{"missing prefix", testTxHash.Hex()[2:] + "ab", testNetworkA, testCaller.Hex()},
		{"unsupported network", testTxHash.Hex(), 999, testCaller.Hex()},
		{"bad user address", testTxHash.Hex(), testNetworkA, "not-an-address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateTransaction(context.Background(), tc.txHash, tc.network, tc.user)
			if !apperrors.Is(err, apperrors.CategoryInvalidInput) {
				t.Errorf("Expected invalid input error, got %v", err)
			}
		})
	}
}

func TestCreateTransaction_ConcurrentRequestsShareOneFetch(t *testing.T) {
	var fetches atomic.Int64
	reader := &MockChainReader{
		TransactionReceiptFunc: func(context.Context, common.Hash) (*types.Receipt, error) {
			fetches.Add(1)
			time.Sleep(100 * time.Millisecond)
			return &types.Receipt{}, nil
		},
	}
	st := newMemStore()
	svc := newTestService(
		reader,
		&MockExtractor{ExtractFunc: func(*types.Receipt, uint64) (*chain.MessageDispatchedEvent, error) {
			return testEvent(testCaller), nil
		}},
		st.mock,
		&MockIndex{},
		time.Minute,
	)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Caller %d failed: %v", i, err)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("Expected exactly 1 receipt fetch, got %d", got)
	}
}

func TestCreateTransaction_NegativeCache(t *testing.T) {
	var fetches atomic.Int64
	reader := &MockChainReader{
		TransactionReceiptFunc: func(context.Context, common.Hash) (*types.Receipt, error) {
			fetches.Add(1)
			return &types.Receipt{}, nil
		},
	}
	svc := newTestService(
		reader,
		&MockExtractor{}, // never finds a trusted event
		newMemStore().mock,
		&MockIndex{},
		50*time.Millisecond,
	)

	_, err := svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
	if !apperrors.Is(err, apperrors.CategoryResourceNotFound) {
		t.Fatalf("Expected resource not found, got %v", err)
	}

	_, err = svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
	if !apperrors.Is(err, apperrors.CategoryResourceNotFound) {
		t.Fatalf("Expected cached resource not found, got %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("Expected second request to be answered from the negative cache, got %d fetches", got)
	}

	// After the TTL the failure must be forgotten and refetched.
	time.Sleep(80 * time.Millisecond)
	_, _ = svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
	if got := fetches.Load(); got != 2 {
		t.Errorf("Expected refetch after TTL expiry, got %d fetches", got)
	}
}

func TestCreateTransaction_SenderMismatch(t *testing.T) {
	var fetches atomic.Int64
	reader := &MockChainReader{
		TransactionReceiptFunc: func(context.Context, common.Hash) (*types.Receipt, error) {
			fetches.Add(1)
			return &types.Receipt{}, nil
		},
	}
	var created atomic.Int64
	st := &MockStore{
		CreateTransactionFunc: func(context.Context, *Transaction) error {
			created.Add(1)
			return nil
		},
	}
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")
	svc := newTestService(
		reader,
		&MockExtractor{ExtractFunc: func(*types.Receipt, uint64) (*chain.MessageDispatchedEvent, error) {
			return testEvent(other), nil
		}},
		st,
		&MockIndex{},
		time.Minute,
	)

	_, err := svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
	if !apperrors.Is(err, apperrors.CategoryTrustViolation) {
		t.Fatalf("Expected trust violation, got %v", err)
	}
	if created.Load() != 0 {
		t.Error("Mismatched transaction must never be persisted")
	}

	// A sender mismatch must not poison the hash for other callers.
	_, err = svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
	if !apperrors.Is(err, apperrors.CategoryTrustViolation) {
		t.Fatalf("Expected trust violation on retry, got %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Errorf("Expected sender mismatch to bypass the negative cache, got %d fetches", got)
	}
}

func TestCreateTransaction_ManagerRelayPath(t *testing.T) {
	manager := common.HexToAddress("0x4444444444444444444444444444444444444444")
	event := testEvent(manager)
	event.EmittedBy = manager

	reader := &MockChainReader{
		TransactionOriginFunc: func(context.Context, common.Hash) (common.Address, error) {
			return testCaller, nil
		},
	}
	st := newMemStore()
	svc := NewService(
		map[uint64]ChainReader{testNetworkA: reader},
		&MockExtractor{ExtractFunc: func(*types.Receipt, uint64) (*chain.MessageDispatchedEvent, error) {
			return event, nil
		}},
		&MockRegistry{IsManagerContractFunc: func(_ uint64, addr common.Address) bool {
			return addr == manager
		}},
		&MockTokenResolver{},
		st.mock,
		&MockIndex{},
		time.Minute,
		zap.NewNop(),
	)

	tx, err := svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
	if err != nil {
		t.Fatalf("Expected manager-relayed transaction to be accepted: %v", err)
	}
	if tx.UserAddress != "0x1111111111111111111111111111111111111111" {
		t.Errorf("Expected record owned by the caller, got %s", tx.UserAddress)
	}
}

func TestCreateTransaction_ManagerRelayOriginMismatch(t *testing.T) {
	manager := common.HexToAddress("0x4444444444444444444444444444444444444444")
	event := testEvent(manager)
	event.EmittedBy = manager

	reader := &MockChainReader{
		TransactionOriginFunc: func(context.Context, common.Hash) (common.Address, error) {
			return common.HexToAddress("0x9999999999999999999999999999999999999999"), nil
		},
	}
	svc := NewService(
		map[uint64]ChainReader{testNetworkA: reader},
		&MockExtractor{ExtractFunc: func(*types.Receipt, uint64) (*chain.MessageDispatchedEvent, error) {
			return event, nil
		}},
		&MockRegistry{IsManagerContractFunc: func(uint64, common.Address) bool { return true }},
		&MockTokenResolver{},
		&MockStore{},
		&MockIndex{},
		time.Minute,
		zap.NewNop(),
	)

	_, err := svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
	if !apperrors.Is(err, apperrors.CategoryTrustViolation) {
		t.Errorf("Expected trust violation for origin mismatch, got %v", err)
	}
}

func TestCreateTransaction_IdempotentOnMessageID(t *testing.T) {
	st := newMemStore()
	svc := newTestService(
		&MockChainReader{},
		&MockExtractor{ExtractFunc: func(*types.Receipt, uint64) (*chain.MessageDispatchedEvent, error) {
			return testEvent(testCaller), nil
		}},
		st.mock,
		&MockIndex{},
		time.Minute,
	)

	first, err := svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
	if err != nil {
		t.Fatalf("First create failed: %v", err)
	}
	second, err := svc.CreateTransaction(context.Background(), testTxHash.Hex(), testNetworkA, testCaller.Hex())
	if err != nil {
		t.Fatalf("Second create failed: %v", err)
	}
	if first != second {
		t.Error("Expected the existing record to be returned on resubmission")
	}
	if len(st.txs) != 1 {
		t.Errorf("Expected exactly 1 stored record, got %d", len(st.txs))
	}
}

func TestGetTransactionStatus_NotFound(t *testing.T) {
	svc := newTestService(&MockChainReader{}, &MockExtractor{}, &MockStore{}, &MockIndex{}, time.Minute)

	_, err := svc.GetTransactionStatus(context.Background(), testMsgID.Hex())
	if !apperrors.Is(err, apperrors.CategoryResourceNotFound) {
		t.Errorf("Expected resource not found, got %v", err)
	}
}

func TestGetTransactionStatus_LazyRefresh(t *testing.T) {
	var updated atomic.Int64
	st := &MockStore{
		GetTransactionByMessageIDFunc: func(context.Context, string) (*Transaction, error) {
			return &Transaction{
				MessageID:     testMsgID.Hex(),
				TargetChainID: testNetworkB,
				Status:        StatusPending,
			}, nil
		},
		UpdateTransactionStatusFunc: func(_ context.Context, messageID string, status Status, targetTxHash *string, _ *time.Time) error {
			updated.Add(1)
			if status != StatusExecuted {
				t.Errorf("Expected executed status, got %s", status)
			}
			if targetTxHash == nil || *targetTxHash != "0xdeadbeef" {
				t.Errorf("Unexpected target tx hash %v", targetTxHash)
			}
			return nil
		},
	}
	index := &MockIndex{
		ExecutionsByMessageIDsFunc: func(_ context.Context, networkID uint64, ids []string) ([]subgraph.Execution, error) {
			if networkID != testNetworkB {
				t.Errorf("Expected refresh against target chain %d, got %d", testNetworkB, networkID)
			}
			return []subgraph.Execution{{MessageID: ids[0], TxHash: "0xdeadbeef", Timestamp: "1700000100"}}, nil
		},
	}
	svc := newTestService(&MockChainReader{}, &MockExtractor{}, st, index, time.Minute)

	tx, err := svc.GetTransactionStatus(context.Background(), testMsgID.Hex())
	if err != nil {
		t.Fatalf("GetTransactionStatus failed: %v", err)
	}
	if tx.Status != StatusExecuted {
		t.Errorf("Expected executed status, got %s", tx.Status)
	}
	if updated.Load() != 1 {
		t.Errorf("Expected 1 status update, got %d", updated.Load())
	}
}

func TestGetTransactionStatus_StaleOnIndexFailure(t *testing.T) {
	st := &MockStore{
		GetTransactionByMessageIDFunc: func(context.Context, string) (*Transaction, error) {
			return &Transaction{MessageID: testMsgID.Hex(), TargetChainID: testNetworkB, Status: StatusPending}, nil
		},
	}
	index := &MockIndex{
		ExecutionsByMessageIDsFunc: func(context.Context, uint64, []string) ([]subgraph.Execution, error) {
			return nil, errors.New("subgraph down")
		},
	}
	svc := newTestService(&MockChainReader{}, &MockExtractor{}, st, index, time.Minute)

	tx, err := svc.GetTransactionStatus(context.Background(), testMsgID.Hex())
	if err != nil {
		t.Fatalf("Expected stale record instead of error, got %v", err)
	}
	if tx.Status != StatusPending {
		t.Errorf("Expected pending status preserved, got %s", tx.Status)
	}
}

func TestGetTransactionStatus_ChainLogFallbackWhenIndexDown(t *testing.T) {
	var updated atomic.Int64
	st := &MockStore{
		GetTransactionByMessageIDFunc: func(context.Context, string) (*Transaction, error) {
			return &Transaction{MessageID: testMsgID.Hex(), TargetChainID: testNetworkB, Status: StatusPending}, nil
		},
		UpdateTransactionStatusFunc: func(_ context.Context, _ string, status Status, targetTxHash *string, targetTimestamp *time.Time) error {
			updated.Add(1)
			if status != StatusExecuted {
				t.Errorf("Expected executed status, got %s", status)
			}
			if targetTxHash == nil || *targetTxHash != "0xfefefefefefefefefefefefefefefefefefefefefefefefefefefefefefefefe" {
				t.Errorf("Unexpected target tx hash %v", targetTxHash)
			}
			if targetTimestamp == nil || targetTimestamp.Unix() != 1700000000 {
				t.Errorf("Unexpected target timestamp %v", targetTimestamp)
			}
			return nil
		},
	}
	index := &MockIndex{
		ExecutionsByMessageIDsFunc: func(context.Context, uint64, []string) ([]subgraph.Execution, error) {
			return nil, errors.New("subgraph down")
		},
	}
	reader := &MockChainReader{
		BlockNumberFunc: func(context.Context) (uint64, error) { return 200_000, nil },
		FilterLogsFunc: func(_ context.Context, contract common.Address, from, to uint64, topics ...common.Hash) ([]types.Log, error) {
			if contract != testBridge {
				t.Errorf("Unexpected contract %s", contract.Hex())
			}
			if to != 200_000 || from != 150_000 {
				t.Errorf("Unexpected scan range %d-%d", from, to)
			}
			if len(topics) != 2 || topics[0] != chain.MessageExecutedTopic || topics[1] != testMsgID {
				t.Errorf("Expected signature and message id topics, got %v", topics)
			}
			return []types.Log{{
				Address:     contract,
				Topics:      []common.Hash{chain.MessageExecutedTopic, testMsgID},
				BlockNumber: 199_990,
				TxHash:      common.HexToHash("0xfefefefefefefefefefefefefefefefefefefefefefefefefefefefefefefefe"),
			}}, nil
		},
	}
	svc := NewService(
		map[uint64]ChainReader{testNetworkB: reader},
		&MockExtractor{},
		&MockRegistry{TrustedBridgesFunc: func(networkID uint64) []common.Address {
			if networkID != testNetworkB {
				t.Errorf("Expected bridge lookup on target chain %d, got %d", testNetworkB, networkID)
			}
			return []common.Address{testBridge}
		}},
		&MockTokenResolver{},
		st,
		index,
		time.Minute,
		zap.NewNop(),
	)

	tx, err := svc.GetTransactionStatus(context.Background(), testMsgID.Hex())
	if err != nil {
		t.Fatalf("GetTransactionStatus failed: %v", err)
	}
	if tx.Status != StatusExecuted {
		t.Errorf("Expected chain-log fallback to resolve execution, got %s", tx.Status)
	}
	if updated.Load() != 1 {
		t.Errorf("Expected 1 status update, got %d", updated.Load())
	}
}

func TestGetTransactionStatus_FallbackScanFailureStaysPending(t *testing.T) {
	st := &MockStore{
		GetTransactionByMessageIDFunc: func(context.Context, string) (*Transaction, error) {
			return &Transaction{MessageID: testMsgID.Hex(), TargetChainID: testNetworkB, Status: StatusPending}, nil
		},
	}
	index := &MockIndex{
		ExecutionsByMessageIDsFunc: func(context.Context, uint64, []string) ([]subgraph.Execution, error) {
			return nil, errors.New("subgraph down")
		},
	}
	reader := &MockChainReader{
		BlockNumberFunc: func(context.Context) (uint64, error) { return 0, errors.New("rpc down") },
	}
	svc := NewService(
		map[uint64]ChainReader{testNetworkB: reader},
		&MockExtractor{},
		&MockRegistry{TrustedBridgesFunc: func(uint64) []common.Address {
			return []common.Address{testBridge}
		}},
		&MockTokenResolver{},
		st,
		index,
		time.Minute,
		zap.NewNop(),
	)

	tx, err := svc.GetTransactionStatus(context.Background(), testMsgID.Hex())
	if err != nil {
		t.Fatalf("Expected stale record instead of error, got %v", err)
	}
	if tx.Status != StatusPending {
		t.Errorf("Expected pending status preserved, got %s", tx.Status)
	}
}

func TestSyncUserTransactions(t *testing.T) {
	st := newMemStore()
	indexedMsgID := "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	st.mock.GetTransactionsByUserFunc = func(context.Context, string) ([]*Transaction, error) {
		st.mu.Lock()
		defer st.mu.Unlock()
		out := make([]*Transaction, 0, len(st.txs))
		for _, tx := range st.txs {
			out = append(out, tx)
		}
		return out, nil
	}
	st.mock.GetPendingTransactionsByUserFunc = func(context.Context, string) ([]*Transaction, error) {
		st.mu.Lock()
		defer st.mu.Unlock()
		out := make([]*Transaction, 0)
		for _, tx := range st.txs {
			if tx.Status == StatusPending {
				out = append(out, tx)
			}
		}
		return out, nil
	}
	st.mock.UpdateTransactionStatusFunc = func(_ context.Context, messageID string, status Status, targetTxHash *string, targetTimestamp *time.Time) error {
		st.mu.Lock()
		defer st.mu.Unlock()
		tx := st.txs[messageID]
		tx.Status = status
		tx.TargetTxHash = targetTxHash
		tx.TargetTimestamp = targetTimestamp
		return nil
	}

	index := &MockIndex{
		RequestsByUserFunc: func(_ context.Context, networkID uint64, user string) ([]subgraph.BridgeRequest, error) {
			if networkID != testNetworkA {
				return nil, nil
			}
			return []subgraph.BridgeRequest{{
				MessageID:     indexedMsgID,
				Sender:        user,
				Recipient:     user,
				Token:         testToken.Hex(),
				Amount:        "5000000",
				TargetChainID: "137",
				TxHash:        testTxHash.Hex(),
				Timestamp:     "1700000000",
			}}, nil
		},
		ExecutionsByMessageIDsFunc: func(_ context.Context, networkID uint64, ids []string) ([]subgraph.Execution, error) {
			if networkID != testNetworkB {
				t.Errorf("Expected executions queried on target chain %d, got %d", testNetworkB, networkID)
			}
			return []subgraph.Execution{{MessageID: ids[0], TxHash: "0xfeedface", Timestamp: "1700000500"}}, nil
		},
	}

	svc := newTestService(&MockChainReader{}, &MockExtractor{}, st.mock, index, time.Minute)

	txs, err := svc.SyncUserTransactions(context.Background(), testCaller.Hex())
	if err != nil {
		t.Fatalf("SyncUserTransactions failed: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("Expected 1 reconciled transaction, got %d", len(txs))
	}
	if txs[0].MessageID != indexedMsgID {
		t.Errorf("Expected message id %s, got %s", indexedMsgID, txs[0].MessageID)
	}
	if txs[0].Status != StatusExecuted {
		t.Errorf("Expected pending record resolved to executed, got %s", txs[0].Status)
	}
	if txs[0].TargetTxHash == nil || *txs[0].TargetTxHash != "0xfeedface" {
		t.Errorf("Unexpected target tx hash %v", txs[0].TargetTxHash)
	}
}
