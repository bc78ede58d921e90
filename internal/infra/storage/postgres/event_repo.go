package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
)

// EventRepo implements storage.EventSink on PostgreSQL. Idempotence
// comes from the primary key (chain_id, tx_hash, log_index) with
// ON CONFLICT DO NOTHING.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates a new PostgreSQL event sink.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// Append records events, skipping keys already present.
func (r *EventRepo) Append(ctx context.Context, events []domain.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events
			   (chain_id, tx_hash, log_index, block_number, block_hash,
			    block_time, matched_address, payload)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`,
			string(ev.Key.ChainID), ev.Key.TxHash, int64(ev.Key.LogIndex),
			int64(ev.BlockNumber), ev.BlockHash, int64(ev.BlockTime),
			ev.MatchedAddress, ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to append event %s: %w", ev.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// Has reports whether a key has already been recorded.
func (r *EventRepo) Has(ctx context.Context, key domain.EventKey) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (
		   SELECT 1 FROM events
		   WHERE chain_id = $1 AND tx_hash = $2 AND log_index = $3
		 )`, string(key.ChainID), key.TxHash, int64(key.LogIndex))
	if err != nil {
		return false, fmt.Errorf("failed to check event key: %w", err)
	}
	return exists, nil
}

// SupportsDelete reports range deletion support.
func (r *EventRepo) SupportsDelete() bool {
	return true
}

// DeleteRange removes events in [fromBlock, toBlock] for a chain.
func (r *EventRepo) DeleteRange(
	ctx context.Context,
	chainID domain.ChainID,
	fromBlock, toBlock uint64,
) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM events
		 WHERE chain_id = $1 AND block_number BETWEEN $2 AND $3`,
		string(chainID), int64(fromBlock), int64(toBlock))
	if err != nil {
		return 0, fmt.Errorf("failed to delete range: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return removed, nil
}

// AppendInvalidation records an invalidated block range.
func (r *EventRepo) AppendInvalidation(ctx context.Context, inv domain.Invalidation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invalidations (id, chain_id, from_block, to_block, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (id) DO NOTHING`,
		inv.ID, string(inv.ChainID), int64(inv.FromBlock), int64(inv.ToBlock))
	if err != nil {
		return fmt.Errorf("failed to append invalidation: %w", err)
	}
	return nil
}
