package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
	"github.com/crosslane/bridge-middleware/pkg/registry"
)

// Extractor pulls trusted bridge-initiation events out of transaction
// receipts. The trust check runs before any decode attempt: an attacker
// can emit a byte-identical event from an arbitrary contract, so only the
// emitting address makes the signal trustworthy.
type Extractor struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewExtractor creates an extractor backed by the given trust registry
func NewExtractor(reg *registry.Registry, logger *zap.Logger) *Extractor {
	return &Extractor{registry: reg, logger: logger}
}

// ExtractBridgeInitiation returns the decoded bridge-initiation event from
// the receipt, or nil when the receipt holds no trusted, decodable event.
// A nil result is the expected outcome for unrelated transactions and for
// forged look-alikes from untrusted emitters.
func (e *Extractor) ExtractBridgeInitiation(receipt *types.Receipt, networkID uint64) (*MessageDispatchedEvent, error) {
	if e.registry.TrustedCount(networkID) == 0 {
		// An empty allowlist must never silently accept all events.
		return nil, apperrors.ConfigurationError(nil,
			fmt.Sprintf("no trusted bridge contracts configured for network %d", networkID))
	}

	for _, log := range receipt.Logs {
		if !e.registry.IsTrusted(networkID, log.Address) {
			continue
		}
		event, err := DecodeMessageDispatched(log)
		if err != nil {
			e.logger.Warn("Failed to decode log from trusted contract",
				zap.Uint64("network", networkID),
				zap.String("contract", log.Address.Hex()),
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Error(err))
			continue
		}
		if event != nil {
			return event, nil
		}
	}
	return nil, nil
}
