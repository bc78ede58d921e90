package storage

import (
	"context"
	"errors"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
)

var (
	// ErrCheckpointNotFound is returned when a chain has no checkpoint yet
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrPermanentRejection signals the sink rejected a record for good
	// (malformed, constraint violation). The record is dead-lettered,
	// not retried.
	ErrPermanentRejection = errors.New("sink permanently rejected record")
)

// CheckpointRepository persists the last safely-processed position per
// chain. Save must be atomic: the store is never observed in a
// partially-written state.
type CheckpointRepository interface {
	// Get retrieves the checkpoint for a chain
	Get(ctx context.Context, chainID domain.ChainID) (*domain.Checkpoint, error)

	// Save upserts the checkpoint atomically
	Save(ctx context.Context, cp *domain.Checkpoint) error

	// Delete removes the checkpoint (operator reset)
	Delete(ctx context.Context, chainID domain.ChainID) error
}

// EventSink durably records canonical events. Append is idempotent on
// the event key: duplicate appends of the same key are no-ops, not
// errors. Implementations must be safe for concurrent writers on
// distinct chains.
type EventSink interface {
	// Append records events, skipping any key already present
	Append(ctx context.Context, events []domain.CanonicalEvent) error

	// Has reports whether a key has already been recorded
	Has(ctx context.Context, key domain.EventKey) (bool, error)

	// SupportsDelete reports whether DeleteRange is available
	SupportsDelete() bool

	// DeleteRange removes events in [fromBlock, toBlock] for a chain,
	// returning the number removed. Only valid when SupportsDelete
	// returns true.
	DeleteRange(ctx context.Context, chainID domain.ChainID, fromBlock, toBlock uint64) (int64, error)

	// AppendInvalidation records that a block range is no longer
	// canonical, for sinks that cannot delete
	AppendInvalidation(ctx context.Context, inv domain.Invalidation) error
}

// DeadLetterRepository records events the sink permanently rejected.
type DeadLetterRepository interface {
	Save(ctx context.Context, dl domain.DeadLetter) error
}
