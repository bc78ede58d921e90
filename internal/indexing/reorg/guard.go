// Package reorg detects chain reorganizations at the safe boundary and
// rolls the pipeline back to a verified common ancestor.
package reorg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/affiliate-indexer/internal/core/checkpoint"
	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/indexing/metrics"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain"
)

// ErrTooDeep is returned when no common ancestor is found within the
// search bound. Continuing would risk emitting events from an orphaned
// branch, so the chain must halt for operator intervention.
var ErrTooDeep = errors.New("reorg deeper than confirmation depth")

// State describes the guard's view of the chain.
type State string

const (
	StateClean      State = "clean"
	StateDiverged   State = "diverged"
	StateRecovering State = "recovering"
)

// DefaultSafetyMargin extends the ancestor search past the
// confirmation depth before giving up.
const DefaultSafetyMargin = 8

// EventRemover is the slice of the sink the guard needs to undo
// invalidated blocks.
type EventRemover interface {
	SupportsDelete() bool
	DeleteRange(ctx context.Context, chainID domain.ChainID, fromBlock, toBlock uint64) (int64, error)
	AppendInvalidation(ctx context.Context, inv domain.Invalidation) error
}

// InvalidationNotifier mirrors invalidated ranges to a side channel and
// drops the chain's seen-key fast path when history is rewritten.
// Optional.
type InvalidationNotifier interface {
	PushInvalidatedRange(ctx context.Context, chainID domain.ChainID, fromBlock, toBlock uint64) error
	PurgeSeen(ctx context.Context, chainID domain.ChainID) error
}

// Result reports what a check did.
type Result struct {
	RolledBack      bool
	SafeBlock       uint64
	InvalidatedFrom uint64
	InvalidatedTo   uint64
	RemovedEvents   int64
}

// Guard verifies before each chunk that the checkpointed block is
// still on the canonical chain, and recovers when it is not. It keeps
// a window of recently accepted block hashes to find the common
// ancestor without trusting the sink's contents.
type Guard struct {
	target       *domain.ChainTarget
	reader       chain.Reader
	checkpoints  checkpoint.Manager
	sink         EventRemover
	notifier     InvalidationNotifier // may be nil
	safetyMargin uint64
	log          *slog.Logger

	mu     sync.Mutex
	state  State
	recent map[uint64]string
}

// NewGuard creates a reorg guard. notifier may be nil.
func NewGuard(
	target *domain.ChainTarget,
	reader chain.Reader,
	checkpoints checkpoint.Manager,
	sink EventRemover,
	notifier InvalidationNotifier,
	log *slog.Logger,
) *Guard {
	return &Guard{
		target:       target,
		reader:       reader,
		checkpoints:  checkpoints,
		sink:         sink,
		notifier:     notifier,
		safetyMargin: DefaultSafetyMargin,
		log:          log.With("component", "reorg-guard", "chain", target.ChainID),
		state:        StateClean,
		recent:       make(map[uint64]string),
	}
}

// State returns the guard's current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// RecordHash remembers an accepted block hash for future ancestor
// searches, pruning entries older than the search window.
func (g *Guard) RecordHash(block uint64, hash string) {
	if hash == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recent[block] = hash

	window := g.target.ConfirmationDepth + g.safetyMargin
	for b := range g.recent {
		if b+window < block {
			delete(g.recent, b)
		}
	}
}

// RecordChunk remembers every block hash observed in an accepted
// chunk.
func (g *Guard) RecordChunk(chunk *domain.ScanChunk) {
	for b, h := range chunk.BlockHashes {
		g.RecordHash(b, h)
	}
}

// Check verifies the checkpointed block against the provider. On a
// hash mismatch it recovers: walks back to a common ancestor,
// invalidates the affected range in the sink, and rolls the checkpoint
// back. Returns ErrTooDeep when no ancestor is found within
// confirmation depth plus the safety margin.
func (g *Guard) Check(ctx context.Context, cp *domain.Checkpoint) (*Result, error) {
	if g.target.ConfirmationDepth == 0 {
		// Instant finality: nothing behind the safe head can change.
		return &Result{SafeBlock: cp.LastSafeBlock}, nil
	}
	if cp.LastSafeBlockHash == "" {
		// Fresh seed without a verifiable hash. Nothing has been sinked
		// yet, so there is nothing to protect.
		return &Result{SafeBlock: cp.LastSafeBlock}, nil
	}

	hdr, err := g.reader.HeaderByNumber(ctx, cp.LastSafeBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkpoint header: %w", err)
	}
	if hdr.Hash == cp.LastSafeBlockHash {
		g.setState(StateClean)
		return &Result{SafeBlock: cp.LastSafeBlock}, nil
	}

	g.setState(StateDiverged)
	metrics.ReorgsTotal.WithLabelValues(string(g.target.ChainID)).Inc()
	g.log.Warn("reorg detected at checkpoint",
		"block", cp.LastSafeBlock,
		"expected", cp.LastSafeBlockHash,
		"got", hdr.Hash)

	return g.recover(ctx, cp)
}

// recover walks backward from the checkpoint until a block's
// provider-reported hash matches a recorded hash, then invalidates
// everything above it and rolls the checkpoint back.
func (g *Guard) recover(ctx context.Context, cp *domain.Checkpoint) (*Result, error) {
	g.setState(StateRecovering)

	bound := g.target.ConfirmationDepth + g.safetyMargin
	var floor uint64
	if cp.LastSafeBlock > bound {
		floor = cp.LastSafeBlock - bound
	}

	ancestor, ancestorHash, found := uint64(0), "", false
	for b := cp.LastSafeBlock; b > floor; b-- {
		prev := b - 1
		recorded, ok := g.recordedHash(prev)
		if !ok {
			continue
		}
		hdr, err := g.reader.HeaderByNumber(ctx, prev)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch header %d during recovery: %w", prev, err)
		}
		if hdr.Hash == recorded {
			ancestor, ancestorHash, found = prev, recorded, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no common ancestor within %d blocks of %d",
			ErrTooDeep, bound, cp.LastSafeBlock)
	}

	res := &Result{
		RolledBack:      true,
		SafeBlock:       ancestor,
		InvalidatedFrom: ancestor + 1,
		InvalidatedTo:   cp.LastSafeBlock,
	}

	if g.sink.SupportsDelete() {
		removed, err := g.sink.DeleteRange(ctx, g.target.ChainID, res.InvalidatedFrom, res.InvalidatedTo)
		if err != nil {
			return nil, fmt.Errorf("failed to delete invalidated range: %w", err)
		}
		res.RemovedEvents = removed
	} else {
		inv := domain.Invalidation{
			ID:        uuid.NewString(),
			ChainID:   g.target.ChainID,
			FromBlock: res.InvalidatedFrom,
			ToBlock:   res.InvalidatedTo,
			CreatedAt: time.Now().UTC(),
		}
		if err := g.sink.AppendInvalidation(ctx, inv); err != nil {
			return nil, fmt.Errorf("failed to record invalidation: %w", err)
		}
	}
	if g.notifier != nil {
		// The seen-set still holds keys from the orphaned branch. A
		// stale hit would drop the re-mined event on rescan, so the
		// purge must succeed before the checkpoint moves back.
		if err := g.notifier.PurgeSeen(ctx, g.target.ChainID); err != nil {
			return nil, fmt.Errorf("failed to purge seen cache: %w", err)
		}
		if err := g.notifier.PushInvalidatedRange(ctx, g.target.ChainID, res.InvalidatedFrom, res.InvalidatedTo); err != nil {
			g.log.Warn("failed to publish invalidated range", "error", err)
		}
	}

	if err := g.checkpoints.Rollback(ctx, g.target.ChainID, ancestor, ancestorHash); err != nil {
		return nil, fmt.Errorf("failed to roll back checkpoint: %w", err)
	}
	g.pruneAbove(ancestor)
	g.setState(StateClean)

	g.log.Info("reorg recovery complete",
		"ancestor", ancestor,
		"invalidated_from", res.InvalidatedFrom,
		"invalidated_to", res.InvalidatedTo,
		"removed_events", res.RemovedEvents)
	return res, nil
}

func (g *Guard) recordedHash(block uint64) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.recent[block]
	return h, ok
}

func (g *Guard) pruneAbove(block uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for b := range g.recent {
		if b > block {
			delete(g.recent, b)
		}
	}
}

func (g *Guard) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}
