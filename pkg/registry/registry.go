// Package registry holds the per-network sets of contract addresses that
// are trusted to emit bridge events. An event log is only believed if its
// emitting address is in the registry; payload shape alone proves nothing,
// since any contract can emit a byte-identical log.
package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
)

// Registry maps each supported network to its trusted bridge contracts and
// the subset of manager contracts that relay on behalf of end users.
type Registry struct {
	bridges  map[uint64]map[string]struct{}
	managers map[uint64]map[string]struct{}
	logger   *zap.Logger
}

// New creates an empty trust registry
func New(logger *zap.Logger) *Registry {
	return &Registry{
		bridges:  make(map[uint64]map[string]struct{}),
		managers: make(map[uint64]map[string]struct{}),
		logger:   logger,
	}
}

// Configure sets the trusted bridge contracts for a network. A non-empty
// override list replaces the built-in defaults; a malformed override entry
// is a configuration error, not a silent skip.
func (r *Registry) Configure(networkID uint64, defaults, overrides []string) error {
	set, err := buildSet(networkID, defaults, overrides)
	if err != nil {
		return err
	}
	r.bridges[networkID] = set
	r.logger.Info("Configured trusted bridge contracts",
		zap.Uint64("network", networkID),
		zap.Int("count", len(set)))
	return nil
}

// ConfigureManagers sets the manager/relay contracts for a network. Manager
// contracts are also trusted emitters but events they relay carry the
// manager as sender, so callers are verified against the transaction origin
// instead.
func (r *Registry) ConfigureManagers(networkID uint64, defaults, overrides []string) error {
	set, err := buildSet(networkID, defaults, overrides)
	if err != nil {
		return err
	}
	r.managers[networkID] = set
	r.logger.Info("Configured manager contracts",
		zap.Uint64("network", networkID),
		zap.Int("count", len(set)))
	return nil
}

func buildSet(networkID uint64, defaults, overrides []string) (map[string]struct{}, error) {
	source := defaults
	if len(overrides) > 0 {
		source = overrides
	}
	set := make(map[string]struct{}, len(source))
	for _, raw := range source {
		normalized, err := Normalize(raw)
		if err != nil {
			return nil, apperrors.ConfigurationError(err,
				fmt.Sprintf("malformed contract address %q for network %d", raw, networkID))
		}
		set[normalized] = struct{}{}
	}
	return set, nil
}

// Normalize canonicalizes a contract address to lowercase hex. Returns an
// error for anything that is not a well-formed address.
func Normalize(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("not a hex address: %q", addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// IsTrusted reports whether the address is a trusted emitter on the
// network. Manager contracts are trusted emitters too.
func (r *Registry) IsTrusted(networkID uint64, addr common.Address) bool {
	key := strings.ToLower(addr.Hex())
	if _, ok := r.bridges[networkID][key]; ok {
		return true
	}
	_, ok := r.managers[networkID][key]
	return ok
}

// TrustedBridges returns the trusted bridge contracts for a network.
// Managers are excluded: execution events come from the bridges themselves.
func (r *Registry) TrustedBridges(networkID uint64) []common.Address {
	set := r.bridges[networkID]
	out := make([]common.Address, 0, len(set))
	for addr := range set {
		out = append(out, common.HexToAddress(addr))
	}
	return out
}

// IsManagerContract reports whether the address is a manager/relay contract
// on the network
func (r *Registry) IsManagerContract(networkID uint64, addr common.Address) bool {
	set, ok := r.managers[networkID]
	if !ok {
		return false
	}
	_, ok = set[strings.ToLower(addr.Hex())]
	return ok
}

// TrustedCount returns the number of trusted emitters for a network. The
// extractor treats zero as a configuration error rather than accepting
// every emitter.
func (r *Registry) TrustedCount(networkID uint64) int {
	return len(r.bridges[networkID]) + len(r.managers[networkID])
}
