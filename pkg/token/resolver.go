// Package token resolves ERC-20 metadata (symbol, decimals) for bridged
// assets. The zero address stands for the network's native asset and is
// answered from configuration instead of the chain.
package token

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
)

const erc20ABIJSON = `[
  {"type": "function", "name": "symbol", "inputs": [], "outputs": [{"name": "", "type": "string"}], "stateMutability": "view"},
  {"type": "function", "name": "decimals", "inputs": [], "outputs": [{"name": "", "type": "uint8"}], "stateMutability": "view"}
]`

var erc20ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid ERC-20 ABI: %v", err))
	}
	return parsed
}()

// ContractCaller is the read-only contract access the resolver needs
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Metadata describes one token on one network
type Metadata struct {
	Address  string
	Symbol   string
	Decimals uint8
}

// Resolver looks up token metadata with a process-local cache. Metadata is
// immutable on-chain, so cached entries never expire.
type Resolver struct {
	mu      sync.Mutex
	callers map[uint64]ContractCaller
	native  map[uint64]Metadata
	cache   map[string]Metadata
	logger  *zap.Logger
}

// NewResolver creates an empty resolver
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{
		callers: make(map[uint64]ContractCaller),
		native:  make(map[uint64]Metadata),
		cache:   make(map[string]Metadata),
		logger:  logger,
	}
}

// Register wires a network's contract caller and its native asset fallback
func (r *Resolver) Register(networkID uint64, caller ContractCaller, nativeSymbol string, nativeDecimals uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers[networkID] = caller
	r.native[networkID] = Metadata{
		Address:  (common.Address{}).Hex(),
		Symbol:   nativeSymbol,
		Decimals: nativeDecimals,
	}
}

// Resolve returns the metadata for a token address on a network
func (r *Resolver) Resolve(ctx context.Context, networkID uint64, addr common.Address) (Metadata, error) {
	if addr == (common.Address{}) {
		r.mu.Lock()
		meta, ok := r.native[networkID]
		r.mu.Unlock()
		if !ok {
			return Metadata{}, apperrors.ConfigurationError(nil,
				fmt.Sprintf("no native asset configured for network %d", networkID))
		}
		return meta, nil
	}

	key := fmt.Sprintf("%d:%s", networkID, strings.ToLower(addr.Hex()))
	r.mu.Lock()
	if meta, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return meta, nil
	}
	caller, ok := r.callers[networkID]
	r.mu.Unlock()
	if !ok {
		return Metadata{}, apperrors.ConfigurationError(nil,
			fmt.Sprintf("no contract caller registered for network %d", networkID))
	}

	symbol, err := r.callString(ctx, caller, addr, "symbol")
	if err != nil {
		return Metadata{}, err
	}
	decimals, err := r.callUint8(ctx, caller, addr, "decimals")
	if err != nil {
		return Metadata{}, err
	}

	meta := Metadata{Address: addr.Hex(), Symbol: symbol, Decimals: decimals}
	r.mu.Lock()
	r.cache[key] = meta
	r.mu.Unlock()

	r.logger.Debug("Resolved token metadata",
		zap.Uint64("network", networkID),
		zap.String("token", addr.Hex()),
		zap.String("symbol", symbol),
		zap.Uint8("decimals", decimals))
	return meta, nil
}

func (r *Resolver) callString(ctx context.Context, caller ContractCaller, addr common.Address, method string) (string, error) {
	out, err := r.rawCall(ctx, caller, addr, method)
	if err != nil {
		return "", err
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return "", apperrors.UpstreamError(
			fmt.Errorf("failed to decode %s() of %s: %w", method, addr.Hex(), err),
			"token metadata unavailable")
	}
	return values[0].(string), nil
}

func (r *Resolver) callUint8(ctx context.Context, caller ContractCaller, addr common.Address, method string) (uint8, error) {
	out, err := r.rawCall(ctx, caller, addr, method)
	if err != nil {
		return 0, err
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return 0, apperrors.UpstreamError(
			fmt.Errorf("failed to decode %s() of %s: %w", method, addr.Hex(), err),
			"token metadata unavailable")
	}
	return values[0].(uint8), nil
}

func (r *Resolver) rawCall(ctx context.Context, caller ContractCaller, addr common.Address, method string) ([]byte, error) {
	input, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s(): %w", method, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: input})
	if err != nil {
		return nil, err
	}
	return out, nil
}
