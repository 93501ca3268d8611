package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
)

// Manager controls the fee indexers of both networks as a unit
type Manager struct {
	indexers map[uint64]*FeeIndexer
	logger   *zap.Logger
}

// NewManager creates a manager over the given indexers
func NewManager(indexers []*FeeIndexer, logger *zap.Logger) *Manager {
	byNetwork := make(map[uint64]*FeeIndexer, len(indexers))
	for _, ix := range indexers {
		byNetwork[ix.NetworkID()] = ix
	}
	return &Manager{indexers: byNetwork, logger: logger}
}

// StartAll starts every indexer, failing on the first error
func (m *Manager) StartAll(ctx context.Context) error {
	for _, ix := range m.indexers {
		if err := ix.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", ix.Name(), err)
		}
	}
	return nil
}

// StopAll stops every indexer, collecting the first error
func (m *Manager) StopAll(ctx context.Context) error {
	var firstErr error
	for _, ix := range m.indexers {
		if err := ix.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to stop %s: %w", ix.Name(), err)
		}
	}
	return firstErr
}

// Start starts the indexer for one network
func (m *Manager) Start(ctx context.Context, networkID uint64) error {
	ix, err := m.indexer(networkID)
	if err != nil {
		return err
	}
	return ix.Start(ctx)
}

// Stop stops the indexer for one network
func (m *Manager) Stop(ctx context.Context, networkID uint64) error {
	ix, err := m.indexer(networkID)
	if err != nil {
		return err
	}
	return ix.Stop(ctx)
}

// RescanFrom resets one network's checkpoint to re-read from a block
func (m *Manager) RescanFrom(ctx context.Context, networkID uint64, fromBlock uint64) error {
	ix, err := m.indexer(networkID)
	if err != nil {
		return err
	}
	return ix.RescanFrom(ctx, fromBlock)
}

// Status reports every indexer's phase and checkpoint
func (m *Manager) Status(ctx context.Context) ([]*StatusInfo, error) {
	infos := make([]*StatusInfo, 0, len(m.indexers))
	for _, ix := range m.indexers {
		info, err := ix.Status(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (m *Manager) indexer(networkID uint64) (*FeeIndexer, error) {
	ix, ok := m.indexers[networkID]
	if !ok {
		return nil, apperrors.InvalidInputError(nil, fmt.Sprintf("no indexer for network id %d", networkID))
	}
	return ix, nil
}
