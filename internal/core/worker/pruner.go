// Package worker holds background maintenance loops that run beside
// the indexing pipelines.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
)

// RetentionStore deletes aged operational records. Canonical events
// are never pruned; only dead letters and reorg invalidation markers
// have a retention policy.
type RetentionStore interface {
	DeleteDeadLettersOlderThan(ctx context.Context, chainID domain.ChainID, before time.Time) (int64, error)
	DeleteInvalidationsOlderThan(ctx context.Context, chainID domain.ChainID, before time.Time) (int64, error)
}

// Pruner deletes old operational data based on a per-chain retention
// period.
type Pruner struct {
	chainID   domain.ChainID
	retention time.Duration
	store     RetentionStore
	log       *slog.Logger
}

// NewPruner creates a pruner for one chain. A non-positive retention
// disables it.
func NewPruner(chainID domain.ChainID, retention time.Duration, store RetentionStore, log *slog.Logger) *Pruner {
	return &Pruner{
		chainID:   chainID,
		retention: retention,
		store:     store,
		log:       log.With("component", "pruner", "chain", chainID),
	}
}

// Start runs the pruner loop until the context is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	// Check at 10% of the retention period, clamped to [1m, 1h].
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	before := time.Now().Add(-p.retention)

	if n, err := p.store.DeleteDeadLettersOlderThan(ctx, p.chainID, before); err != nil {
		p.log.Error("failed to prune dead letters", "error", err)
	} else if n > 0 {
		p.log.Debug("pruned dead letters", "count", n)
	}

	if n, err := p.store.DeleteInvalidationsOlderThan(ctx, p.chainID, before); err != nil {
		p.log.Error("failed to prune invalidations", "error", err)
	} else if n > 0 {
		p.log.Debug("pruned invalidations", "count", n)
	}
}
