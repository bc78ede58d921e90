package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage"
)

// CheckpointRepo implements storage.CheckpointRepository on PostgreSQL.
// The upsert is a single statement, so a save is observed either fully
// applied or not at all.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo creates a new PostgreSQL checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

type checkpointRow struct {
	ChainID   string    `db:"chain_id"`
	Block     int64     `db:"last_safe_block"`
	BlockHash string    `db:"last_safe_block_hash"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Get retrieves the checkpoint for a chain.
func (r *CheckpointRepo) Get(ctx context.Context, chainID domain.ChainID) (*domain.Checkpoint, error) {
	var row checkpointRow
	err := r.db.GetContext(ctx, &row,
		`SELECT chain_id, last_safe_block, last_safe_block_hash, updated_at
		 FROM checkpoints WHERE chain_id = $1`, string(chainID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return &domain.Checkpoint{
		ChainID:           domain.ChainID(row.ChainID),
		LastSafeBlock:     uint64(row.Block),
		LastSafeBlockHash: row.BlockHash,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

// Save upserts the checkpoint atomically.
func (r *CheckpointRepo) Save(ctx context.Context, cp *domain.Checkpoint) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO checkpoints (chain_id, last_safe_block, last_safe_block_hash, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (chain_id) DO UPDATE SET
		   last_safe_block = EXCLUDED.last_safe_block,
		   last_safe_block_hash = EXCLUDED.last_safe_block_hash,
		   updated_at = now()`,
		string(cp.ChainID), int64(cp.LastSafeBlock), cp.LastSafeBlockHash)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint for a chain (operator reset).
func (r *CheckpointRepo) Delete(ctx context.Context, chainID domain.ChainID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE chain_id = $1`, string(chainID))
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
