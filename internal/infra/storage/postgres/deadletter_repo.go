package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
)

// DeadLetterRepo implements storage.DeadLetterRepository on PostgreSQL.
type DeadLetterRepo struct {
	db *DB
}

// NewDeadLetterRepo creates a new PostgreSQL dead letter repository.
func NewDeadLetterRepo(db *DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

// Save records a permanently rejected event.
func (r *DeadLetterRepo) Save(ctx context.Context, dl domain.DeadLetter) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, chain_id, tx_hash, log_index, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (id) DO NOTHING`,
		dl.ID, string(dl.ChainID), dl.Key.TxHash, int64(dl.Key.LogIndex), dl.Reason)
	if err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}
	return nil
}
