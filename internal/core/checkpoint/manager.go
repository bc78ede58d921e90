package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/indexing/metrics"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage"
)

var (
	// ErrNotFound is returned when a chain has no checkpoint yet.
	ErrNotFound = storage.ErrCheckpointNotFound

	// ErrRegression is returned when Advance would move the checkpoint
	// backwards. Only Rollback may decrease the position.
	ErrRegression = errors.New("checkpoint regression")
)

// Manager guards checkpoint updates: the position is monotonically
// non-decreasing through Advance, and only an explicit Rollback (reorg
// recovery) may move it back.
type Manager interface {
	// Load retrieves the current checkpoint for a chain.
	Load(ctx context.Context, chainID domain.ChainID) (*domain.Checkpoint, error)

	// Initialize creates the first checkpoint, seeded from the
	// configured start block.
	Initialize(ctx context.Context, chainID domain.ChainID, block uint64, hash string) (*domain.Checkpoint, error)

	// Advance moves the checkpoint forward after a chunk's records are
	// durably sinked. Re-saving the current position with the same hash
	// is a no-op (chunk retry after a crash between sink and save).
	Advance(ctx context.Context, chainID domain.ChainID, block uint64, hash string) error

	// Rollback moves the checkpoint back to a common ancestor during
	// reorg recovery.
	Rollback(ctx context.Context, chainID domain.ChainID, block uint64, hash string) error

	// Reset deletes the checkpoint (operator intervention).
	Reset(ctx context.Context, chainID domain.ChainID) error
}

// DefaultManager implements Manager over a CheckpointRepository.
type DefaultManager struct {
	repo storage.CheckpointRepository
}

// NewManager creates a checkpoint manager.
func NewManager(repo storage.CheckpointRepository) *DefaultManager {
	return &DefaultManager{repo: repo}
}

// Load retrieves the current checkpoint for a chain.
func (m *DefaultManager) Load(ctx context.Context, chainID domain.ChainID) (*domain.Checkpoint, error) {
	return m.repo.Get(ctx, chainID)
}

// Initialize creates the first checkpoint.
func (m *DefaultManager) Initialize(
	ctx context.Context,
	chainID domain.ChainID,
	block uint64,
	hash string,
) (*domain.Checkpoint, error) {
	cp := &domain.Checkpoint{
		ChainID:           chainID,
		LastSafeBlock:     block,
		LastSafeBlockHash: hash,
	}
	if err := m.repo.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	metrics.CheckpointBlock.WithLabelValues(string(chainID)).Set(float64(block))
	return cp, nil
}

// Advance moves the checkpoint forward.
func (m *DefaultManager) Advance(
	ctx context.Context,
	chainID domain.ChainID,
	block uint64,
	hash string,
) error {
	cp, err := m.repo.Get(ctx, chainID)
	if err != nil {
		return fmt.Errorf("failed to get checkpoint: %w", err)
	}

	if block == cp.LastSafeBlock && hash == cp.LastSafeBlockHash {
		// Chunk re-run after a crash between sink and save.
		return nil
	}
	genesisPending := cp.LastSafeBlock == 0 && cp.LastSafeBlockHash == ""
	if genesisPending && block == 0 {
		// A zero-start seed leaves block 0 pending with no hash; the
		// first advance records the genesis hash in place.
	} else if block <= cp.LastSafeBlock {
		return fmt.Errorf("%w: at %d, got %d", ErrRegression, cp.LastSafeBlock, block)
	}

	cp.LastSafeBlock = block
	cp.LastSafeBlockHash = hash
	if err := m.repo.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	metrics.CheckpointBlock.WithLabelValues(string(chainID)).Set(float64(block))
	return nil
}

// Rollback moves the checkpoint back during reorg recovery.
func (m *DefaultManager) Rollback(
	ctx context.Context,
	chainID domain.ChainID,
	block uint64,
	hash string,
) error {
	cp, err := m.repo.Get(ctx, chainID)
	if err != nil {
		return fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if block > cp.LastSafeBlock {
		return fmt.Errorf("rollback target %d is ahead of checkpoint %d", block, cp.LastSafeBlock)
	}

	cp.LastSafeBlock = block
	cp.LastSafeBlockHash = hash
	if err := m.repo.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	metrics.CheckpointBlock.WithLabelValues(string(chainID)).Set(float64(block))
	return nil
}

// Reset deletes the checkpoint for a chain.
func (m *DefaultManager) Reset(ctx context.Context, chainID domain.ChainID) error {
	return m.repo.Delete(ctx, chainID)
}
