// Package planner decides the next block range to scan for a chain.
package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/affiliate-indexer/internal/core/checkpoint"
	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/indexing/metrics"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain"
)

// Planner computes the next ScanChunk from the checkpoint, the chain
// head, and the confirmation depth.
type Planner struct {
	target      *domain.ChainTarget
	checkpoints checkpoint.Manager
	reader      chain.Reader
}

// New creates a planner for one chain.
func New(target *domain.ChainTarget, checkpoints checkpoint.Manager, reader chain.Reader) *Planner {
	return &Planner{
		target:      target,
		checkpoints: checkpoints,
		reader:      reader,
	}
}

// NextChunk returns the next range to scan, or nil when the chain is
// caught up to the safe head and the caller should wait for the next
// poll. On first run the checkpoint is seeded from the configured
// start block.
func (p *Planner) NextChunk(ctx context.Context) (*domain.ScanChunk, error) {
	cp, err := p.checkpoints.Load(ctx, p.target.ChainID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		cp, err = p.seed(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	head, err := p.reader.HeadNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain head: %w", err)
	}
	metrics.ChainHeadBlock.WithLabelValues(string(p.target.ChainID)).Set(float64(head))

	if head < p.target.ConfirmationDepth {
		return nil, nil
	}
	safeHead := head - p.target.ConfirmationDepth

	// A zero-start seed has no block before genesis to checkpoint
	// behind, so it sits at block 0 with an empty hash until block 0
	// itself has been scanned.
	genesisPending := cp.LastSafeBlock == 0 && cp.LastSafeBlockHash == ""

	if !genesisPending && safeHead <= cp.LastSafeBlock {
		return nil, nil
	}

	from := cp.LastSafeBlock + 1
	if genesisPending {
		from = 0
	}
	if from > safeHead {
		// Checkpoint advanced past the safe head between polls; never
		// emit an inverted range.
		return nil, nil
	}

	to := from + p.target.ChunkSize - 1
	if to > safeHead {
		to = safeHead
	}

	return domain.NewScanChunk(p.target.ChainID, from, to), nil
}

// seed creates the first checkpoint at start_block - 1, so scanning
// begins exactly at the configured start block. The seed hash is
// fetched from the provider so the first reorg check has something to
// compare against; an unfetchable header leaves it empty, which the
// guard treats as unverifiable. A start block of 0 seeds at block 0
// with an empty hash, which NextChunk reads as "block 0 still pending".
func (p *Planner) seed(ctx context.Context) (*domain.Checkpoint, error) {
	if p.target.StartBlock == 0 {
		return p.checkpoints.Initialize(ctx, p.target.ChainID, 0, "")
	}
	seedBlock := p.target.StartBlock - 1

	var seedHash string
	hdr, err := p.reader.HeaderByNumber(ctx, seedBlock)
	if err == nil {
		seedHash = hdr.Hash
	} else if !errors.Is(err, chain.ErrBlockNotFound) {
		return nil, fmt.Errorf("failed to fetch seed header: %w", err)
	}

	return p.checkpoints.Initialize(ctx, p.target.ChainID, seedBlock, seedHash)
}
