package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage"
)

// MemoryStorage backs the repositories when no database is configured.
// Also used heavily by tests.
type MemoryStorage struct {
	checkpoints   map[domain.ChainID]*domain.Checkpoint
	events        map[domain.EventKey]domain.CanonicalEvent
	invalidations []domain.Invalidation
	deadLetters   []domain.DeadLetter
	mu            sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		checkpoints: make(map[domain.ChainID]*domain.Checkpoint),
		events:      make(map[domain.EventKey]domain.CanonicalEvent),
	}
}

// DeleteDeadLettersOlderThan removes dead letters created before the
// cutoff.
func (s *MemoryStorage) DeleteDeadLettersOlderThan(
	ctx context.Context,
	chainID domain.ChainID,
	before time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.deadLetters[:0]
	var removed int64
	for _, dl := range s.deadLetters {
		if dl.ChainID == chainID && dl.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, dl)
	}
	s.deadLetters = kept
	return removed, nil
}

// DeleteInvalidationsOlderThan removes invalidation markers created
// before the cutoff.
func (s *MemoryStorage) DeleteInvalidationsOlderThan(
	ctx context.Context,
	chainID domain.ChainID,
	before time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.invalidations[:0]
	var removed int64
	for _, inv := range s.invalidations {
		if inv.ChainID == chainID && inv.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, inv)
	}
	s.invalidations = kept
	return removed, nil
}

// -----------------------------------------------------------------------------
// Checkpoint Repository
// -----------------------------------------------------------------------------

type CheckpointRepo struct {
	store *MemoryStorage
}

func NewCheckpointRepo(store *MemoryStorage) *CheckpointRepo {
	return &CheckpointRepo{store: store}
}

func (r *CheckpointRepo) Get(ctx context.Context, chainID domain.ChainID) (*domain.Checkpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	cp, ok := r.store.checkpoints[chainID]
	if !ok {
		return nil, storage.ErrCheckpointNotFound
	}
	c := *cp
	return &c, nil
}

func (r *CheckpointRepo) Save(ctx context.Context, cp *domain.Checkpoint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *cp
	c.UpdatedAt = time.Now()
	r.store.checkpoints[cp.ChainID] = &c
	return nil
}

func (r *CheckpointRepo) Delete(ctx context.Context, chainID domain.ChainID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.checkpoints, chainID)
	return nil
}

// -----------------------------------------------------------------------------
// Event Sink
// -----------------------------------------------------------------------------

type EventSinkRepo struct {
	store *MemoryStorage

	// appendOnly disables DeleteRange, forcing invalidation markers.
	// Used by tests exercising the append-only fallback.
	appendOnly bool
}

func NewEventSink(store *MemoryStorage) *EventSinkRepo {
	return &EventSinkRepo{store: store}
}

// NewAppendOnlyEventSink returns a sink that refuses range deletion.
func NewAppendOnlyEventSink(store *MemoryStorage) *EventSinkRepo {
	return &EventSinkRepo{store: store, appendOnly: true}
}

func (r *EventSinkRepo) Append(ctx context.Context, events []domain.CanonicalEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, ev := range events {
		if _, exists := r.store.events[ev.Key]; exists {
			continue
		}
		r.store.events[ev.Key] = ev
	}
	return nil
}

func (r *EventSinkRepo) Has(ctx context.Context, key domain.EventKey) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.events[key]
	return ok, nil
}

func (r *EventSinkRepo) SupportsDelete() bool {
	return !r.appendOnly
}

func (r *EventSinkRepo) DeleteRange(
	ctx context.Context,
	chainID domain.ChainID,
	fromBlock, toBlock uint64,
) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var removed int64
	for key, ev := range r.store.events {
		if key.ChainID == chainID && ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			delete(r.store.events, key)
			removed++
		}
	}
	return removed, nil
}

func (r *EventSinkRepo) AppendInvalidation(ctx context.Context, inv domain.Invalidation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.invalidations = append(r.store.invalidations, inv)
	return nil
}

// Events returns all sinked events for a chain ordered by
// (block_number, log_index). Test helper.
func (r *EventSinkRepo) Events(chainID domain.ChainID) []domain.CanonicalEvent {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.CanonicalEvent
	for _, ev := range r.store.events {
		if ev.Key.ChainID == chainID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Key.LogIndex < out[j].Key.LogIndex
	})
	return out
}

// Invalidations returns recorded invalidation markers. Test helper.
func (r *EventSinkRepo) Invalidations() []domain.Invalidation {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Invalidation, len(r.store.invalidations))
	copy(out, r.store.invalidations)
	return out
}

// -----------------------------------------------------------------------------
// Dead Letter Repository
// -----------------------------------------------------------------------------

type DeadLetterRepo struct {
	store *MemoryStorage
}

func NewDeadLetterRepo(store *MemoryStorage) *DeadLetterRepo {
	return &DeadLetterRepo{store: store}
}

func (r *DeadLetterRepo) Save(ctx context.Context, dl domain.DeadLetter) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.deadLetters = append(r.store.deadLetters, dl)
	return nil
}

// DeadLetters returns recorded dead letters. Test helper.
func (r *DeadLetterRepo) DeadLetters() []domain.DeadLetter {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.DeadLetter, len(r.store.deadLetters))
	copy(out, r.store.deadLetters)
	return out
}
