// Package orchestrator runs the per-chain indexing loop: plan a
// chunk, scan, normalize, verify the chain tip, sink, checkpoint.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/affiliate-indexer/internal/core/checkpoint"
	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/indexing/metrics"
	"github.com/vietddude/affiliate-indexer/internal/indexing/normalize"
	"github.com/vietddude/affiliate-indexer/internal/indexing/planner"
	"github.com/vietddude/affiliate-indexer/internal/indexing/reorg"
	"github.com/vietddude/affiliate-indexer/internal/indexing/scanner"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain"
	"github.com/vietddude/affiliate-indexer/internal/infra/rpc"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage"
)

// State names the loop's current phase.
type State string

const (
	StateIdle         State = "idle"
	StateScanning     State = "scanning"
	StateErrorBackoff State = "error_backoff"
	StateHalted       State = "halted"
)

// Status is a point-in-time snapshot for health reporting.
type Status struct {
	ChainID       domain.ChainID `json:"chain_id"`
	State         State          `json:"state"`
	LastSafeBlock uint64         `json:"last_safe_block"`
	LastError     string         `json:"last_error,omitempty"`
}

// Config tunes retry behavior for transient chunk failures.
type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the standard backoff settings.
func DefaultConfig() Config {
	return Config{
		BackoffBase: 1 * time.Second,
		BackoffMax:  2 * time.Minute,
	}
}

// errReplan aborts the current chunk without backoff; the next loop
// iteration re-plans from the (possibly rolled back) checkpoint.
var errReplan = errors.New("chunk invalidated, replanning")

// Orchestrator drives one chain. Chains are independent: a fatal error
// halts only this orchestrator's loop.
type Orchestrator struct {
	target      *domain.ChainTarget
	planner     *planner.Planner
	scanner     *scanner.Scanner
	normalizer  *normalize.Normalizer
	guard       *reorg.Guard
	checkpoints checkpoint.Manager
	sink        storage.EventSink
	deadLetters storage.DeadLetterRepository
	seen        normalize.SeenCache // may be nil
	reader      chain.Reader
	cfg         Config
	log         *slog.Logger

	mu        sync.Mutex
	state     State
	lastErr   error
	lastBlock uint64
}

// New wires an orchestrator for one chain.
func New(
	target *domain.ChainTarget,
	pl *planner.Planner,
	sc *scanner.Scanner,
	nm *normalize.Normalizer,
	guard *reorg.Guard,
	checkpoints checkpoint.Manager,
	sink storage.EventSink,
	deadLetters storage.DeadLetterRepository,
	seen normalize.SeenCache,
	reader chain.Reader,
	cfg Config,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		target:      target,
		planner:     pl,
		scanner:     sc,
		normalizer:  nm,
		guard:       guard,
		checkpoints: checkpoints,
		sink:        sink,
		deadLetters: deadLetters,
		seen:        seen,
		reader:      reader,
		cfg:         cfg,
		log:         log.With("component", "orchestrator", "chain", target.ChainID),
		state:       StateIdle,
	}
}

// Status returns a snapshot for health reporting.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		ChainID:       o.target.ChainID,
		State:         o.state,
		LastSafeBlock: o.lastBlock,
	}
	if o.lastErr != nil {
		s.LastError = o.lastErr.Error()
	}
	return s
}

// Run executes the indexing loop until the context is cancelled or a
// fatal error halts the chain. Transient failures retry the same chunk
// with capped exponential backoff; a chunk is never skipped.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("starting chain loop",
		"start_block", o.target.StartBlock,
		"confirmation_depth", o.target.ConfirmationDepth,
		"chunk_size", o.target.ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			o.setState(StateIdle, nil)
			return err
		}

		chunk, err := o.plan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.setState(StateErrorBackoff, err)
			o.log.Warn("planning failed, backing off", "error", err)
			if !o.sleep(ctx, o.cfg.BackoffBase) {
				return ctx.Err()
			}
			continue
		}
		if chunk == nil {
			o.setState(StateIdle, nil)
			if !o.sleep(ctx, o.target.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		if err := o.processWithRetry(ctx, chunk); err != nil {
			switch {
			case errors.Is(err, errReplan):
				continue
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				o.setState(StateHalted, err)
				o.log.Error("chain halted", "error", err)
				return fmt.Errorf("chain %s halted: %w", o.target.ChainID, err)
			}
		}
	}
}

func (o *Orchestrator) plan(ctx context.Context) (*domain.ScanChunk, error) {
	chunk, err := o.planner.NextChunk(ctx)
	if err != nil {
		return nil, err
	}
	if cp, cpErr := o.checkpoints.Load(ctx, o.target.ChainID); cpErr == nil {
		o.mu.Lock()
		o.lastBlock = cp.LastSafeBlock
		o.mu.Unlock()
	}
	return chunk, err
}

// processWithRetry retries the chunk until it succeeds, halts, or is
// invalidated by a rollback. Retries are unbounded: skipping a failed
// chunk would leave a silent gap.
func (o *Orchestrator) processWithRetry(ctx context.Context, chunk *domain.ScanChunk) error {
	backoff := retry.WithCappedDuration(o.cfg.BackoffMax,
		retry.WithJitterPercent(20, retry.NewExponential(o.cfg.BackoffBase)))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := o.processChunk(ctx, chunk)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errReplan):
			return err
		case isFatal(err):
			return err
		default:
			o.setState(StateErrorBackoff, err)
			o.log.Warn("chunk failed, will retry",
				"from", chunk.FromBlock, "to", chunk.ToBlock, "error", err)
			return retry.RetryableError(err)
		}
	})
}

// processChunk runs one chunk through the pipeline. On a
// query-too-large response the chunk splits in half and both halves
// run to completion, each advancing the checkpoint, so progress
// through an oversized range is preserved across restarts.
func (o *Orchestrator) processChunk(ctx context.Context, chunk *domain.ScanChunk) error {
	o.setState(StateScanning, nil)

	res, err := o.scanner.Scan(ctx, chunk)
	if errors.Is(err, rpc.ErrQueryTooLarge) {
		if chunk.Width() <= 1 {
			return fmt.Errorf("single-block query rejected as too large at %d: %w", chunk.FromBlock, err)
		}
		first, rest := chunk.Split()
		metrics.ChunksSubdivided.WithLabelValues(string(o.target.ChainID)).Inc()
		o.log.Info("subdividing oversized chunk",
			"from", chunk.FromBlock, "to", chunk.ToBlock, "mid", first.ToBlock)
		if err := o.processChunk(ctx, first); err != nil {
			return err
		}
		return o.processChunk(ctx, rest)
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	events, err := o.normalizer.Normalize(ctx, res.Matches, res.BlockTimes)
	if err != nil {
		return fmt.Errorf("normalize failed: %w", err)
	}

	// Verify the checkpoint is still canonical before sinking anything
	// built on top of it.
	cp, err := o.checkpoints.Load(ctx, o.target.ChainID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	guardRes, err := o.guard.Check(ctx, cp)
	if err != nil {
		return err
	}
	if guardRes.RolledBack {
		o.log.Info("checkpoint rolled back, replanning", "safe_block", guardRes.SafeBlock)
		return errReplan
	}

	if err := o.sinkEvents(ctx, events); err != nil {
		return err
	}
	if o.seen != nil && len(events) > 0 {
		// Cache marks happen only after the durable write; a premature
		// mark plus a crash would skip the event forever.
		keys := make([]domain.EventKey, 0, len(events))
		for _, ev := range events {
			keys = append(keys, ev.Key)
		}
		if err := o.seen.MarkSeen(ctx, o.target.ChainID, keys); err != nil {
			o.log.Warn("failed to mark seen cache", "error", err)
		}
	}

	toHash, err := o.chunkTipHash(ctx, chunk)
	if err != nil {
		return err
	}
	o.guard.RecordChunk(chunk)
	o.guard.RecordHash(chunk.ToBlock, toHash)

	if err := o.checkpoints.Advance(ctx, o.target.ChainID, chunk.ToBlock, toHash); err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	o.mu.Lock()
	o.lastBlock = chunk.ToBlock
	o.mu.Unlock()
	metrics.BlocksScanned.WithLabelValues(string(o.target.ChainID)).Add(float64(chunk.Width()))
	metrics.EventsEmitted.WithLabelValues(string(o.target.ChainID)).Add(float64(len(events)))
	o.log.Debug("chunk complete",
		"from", chunk.FromBlock, "to", chunk.ToBlock, "events", len(events))
	return nil
}

// sinkEvents appends the batch. A permanent rejection falls back to
// per-event appends so one malformed record dead-letters without
// discarding its neighbors.
func (o *Orchestrator) sinkEvents(ctx context.Context, events []domain.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := o.sink.Append(ctx, events)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrPermanentRejection) {
		return fmt.Errorf("sink append failed: %w", err)
	}

	for _, ev := range events {
		evErr := o.sink.Append(ctx, []domain.CanonicalEvent{ev})
		if evErr == nil {
			continue
		}
		if !errors.Is(evErr, storage.ErrPermanentRejection) {
			return fmt.Errorf("sink append failed: %w", evErr)
		}
		o.log.Error("sink permanently rejected event", "key", ev.Key.String(), "error", evErr)
		dl := domain.DeadLetter{
			ID:        uuid.NewString(),
			ChainID:   ev.Key.ChainID,
			Key:       ev.Key,
			Reason:    evErr.Error(),
			CreatedAt: time.Now().UTC(),
		}
		if dlErr := o.deadLetters.Save(ctx, dl); dlErr != nil {
			return fmt.Errorf("failed to dead-letter %s: %w", ev.Key.String(), dlErr)
		}
	}
	return nil
}

// chunkTipHash resolves the hash for the chunk's upper bound, fetching
// the header when no scanned log already reported it.
func (o *Orchestrator) chunkTipHash(ctx context.Context, chunk *domain.ScanChunk) (string, error) {
	if h, ok := chunk.BlockHashes[chunk.ToBlock]; ok && h != "" {
		return h, nil
	}
	hdr, err := o.reader.HeaderByNumber(ctx, chunk.ToBlock)
	if err != nil {
		return "", fmt.Errorf("failed to fetch tip header %d: %w", chunk.ToBlock, err)
	}
	return hdr.Hash, nil
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (o *Orchestrator) setState(s State, err error) {
	o.mu.Lock()
	o.state = s
	o.lastErr = err
	o.mu.Unlock()
}

// isFatal reports whether an error must halt the chain instead of
// retrying: a reorg past the confirmation depth, a checkpoint
// regression, or an RPC response that retrying cannot change.
func isFatal(err error) bool {
	if errors.Is(err, reorg.ErrTooDeep) || errors.Is(err, checkpoint.ErrRegression) {
		return true
	}
	if errors.Is(err, rpc.ErrProviderExhausted) {
		// All providers down is transient: keep retrying.
		return false
	}
	return rpc.ClassifyError(err) == rpc.ActionFatal
}
