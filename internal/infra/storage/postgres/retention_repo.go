package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
)

// RetentionRepo deletes aged dead letters and invalidation records.
type RetentionRepo struct {
	db *DB
}

// NewRetentionRepo creates a retention repository.
func NewRetentionRepo(db *DB) *RetentionRepo {
	return &RetentionRepo{db: db}
}

// DeleteDeadLettersOlderThan removes dead letters created before the
// cutoff.
func (r *RetentionRepo) DeleteDeadLettersOlderThan(
	ctx context.Context,
	chainID domain.ChainID,
	before time.Time,
) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM dead_letters WHERE chain_id = $1 AND created_at < $2`,
		string(chainID), before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete dead letters: %w", err)
	}
	return res.RowsAffected()
}

// DeleteInvalidationsOlderThan removes invalidation markers created
// before the cutoff.
func (r *RetentionRepo) DeleteInvalidationsOlderThan(
	ctx context.Context,
	chainID domain.ChainID,
	before time.Time,
) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM invalidations WHERE chain_id = $1 AND created_at < $2`,
		string(chainID), before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete invalidations: %w", err)
	}
	return res.RowsAffected()
}
