// Package scanner fetches raw log matches for a planned chunk.
package scanner

import (
	"context"
	"fmt"
	"sort"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain"
)

// DefaultMaxAddressesPerQuery bounds how many watched addresses go into
// a single log filter. Large address sets are split into batches and
// the results merged.
const DefaultMaxAddressesPerQuery = 25

// Result is the output of scanning one chunk: the matched logs in
// block order plus the block timestamps needed for normalization.
type Result struct {
	Matches    []domain.RawLogMatch
	BlockTimes map[uint64]uint64
}

// Scanner queries a chain reader for logs matching the watched address
// set over a chunk's range.
type Scanner struct {
	target       *domain.ChainTarget
	reader       chain.Reader
	maxAddresses int
}

// New creates a scanner for one chain.
func New(target *domain.ChainTarget, reader chain.Reader) *Scanner {
	return &Scanner{
		target:       target,
		reader:       reader,
		maxAddresses: DefaultMaxAddressesPerQuery,
	}
}

// Scan fetches all matching logs in [chunk.FromBlock, chunk.ToBlock],
// batching the address set when it exceeds the per-query limit. Block
// hashes observed on matches are recorded into the chunk for the reorg
// guard. Errors (including query-too-large) propagate unwrapped so the
// caller can classify them.
func (s *Scanner) Scan(ctx context.Context, chunk *domain.ScanChunk) (*Result, error) {
	addrs := s.target.WatchedAddresses()
	sort.Strings(addrs)

	var matches []domain.RawLogMatch
	for start := 0; start < len(addrs); start += s.maxAddresses {
		end := start + s.maxAddresses
		if end > len(addrs) {
			end = len(addrs)
		}
		batch, err := s.reader.FilterLogs(ctx, chunk.FromBlock, chunk.ToBlock, addrs[start:end])
		if err != nil {
			return nil, err
		}
		matches = append(matches, batch...)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].BlockNumber != matches[j].BlockNumber {
			return matches[i].BlockNumber < matches[j].BlockNumber
		}
		return matches[i].LogIndex < matches[j].LogIndex
	})

	times := make(map[uint64]uint64)
	for i := range matches {
		m := &matches[i]
		chunk.BlockHashes[m.BlockNumber] = m.BlockHash
		if _, ok := times[m.BlockNumber]; ok {
			continue
		}
		hdr, err := s.reader.HeaderByNumber(ctx, m.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch header for block %d: %w", m.BlockNumber, err)
		}
		times[m.BlockNumber] = hdr.Time
		// The header hash is authoritative; logs on some providers omit
		// or lag the block hash.
		if hdr.Hash != "" {
			chunk.BlockHashes[m.BlockNumber] = hdr.Hash
		}
	}

	return &Result{Matches: matches, BlockTimes: times}, nil
}
