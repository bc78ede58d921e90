// Package chain abstracts the chain data provider consumed by the
// indexing pipeline.
package chain

import (
	"context"
	"errors"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
)

// ErrBlockNotFound is returned when the provider does not know the
// requested block (future block or pruned history).
var ErrBlockNotFound = errors.New("block not found")

// Header is the subset of a block header the pipeline needs.
type Header struct {
	Number     uint64
	Hash       string
	ParentHash string
	Time       uint64
}

// Reader is the minimal provider surface: head height, block hash by
// number, and filtered log queries.
type Reader interface {
	// HeadNumber returns the current chain head height
	HeadNumber(ctx context.Context) (uint64, error)

	// HeaderByNumber returns the header for a block number
	HeaderByNumber(ctx context.Context, number uint64) (*Header, error)

	// FilterLogs returns logs in [fromBlock, toBlock] emitted to or
	// indexing any of the given addresses
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []string) ([]domain.RawLogMatch, error)
}
