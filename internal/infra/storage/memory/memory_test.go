package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
)

func ev(block uint64, tx string, idx uint32) domain.CanonicalEvent {
	return domain.CanonicalEvent{
		Key:         domain.EventKey{ChainID: "ethereum", TxHash: tx, LogIndex: idx},
		BlockNumber: block,
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sink := NewEventSink(NewMemoryStorage())

	batch := []domain.CanonicalEvent{ev(10, "0xtx1", 0), ev(20, "0xtx2", 0)}
	if err := sink.Append(ctx, batch); err != nil {
		t.Fatal(err)
	}
	if err := sink.Append(ctx, batch); err != nil {
		t.Fatal(err)
	}
	if got := sink.Events("ethereum"); len(got) != 2 {
		t.Errorf("got %d events after double append, want 2", len(got))
	}

	has, err := sink.Has(ctx, batch[0].Key)
	if err != nil || !has {
		t.Errorf("Has() = %v, %v", has, err)
	}
}

func TestDeleteRange(t *testing.T) {
	ctx := context.Background()
	sink := NewEventSink(NewMemoryStorage())
	if err := sink.Append(ctx, []domain.CanonicalEvent{ev(10, "0xa", 0), ev(20, "0xb", 0), ev(30, "0xc", 0)}); err != nil {
		t.Fatal(err)
	}

	removed, err := sink.DeleteRange(ctx, "ethereum", 15, 25)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	got := sink.Events("ethereum")
	if len(got) != 2 || got[0].BlockNumber != 10 || got[1].BlockNumber != 30 {
		t.Errorf("events = %+v", got)
	}
}

func TestRetentionDeletes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	dead := NewDeadLetterRepo(store)
	sink := NewEventSink(store)

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()

	_ = dead.Save(ctx, domain.DeadLetter{ID: "1", ChainID: "ethereum", CreatedAt: old})
	_ = dead.Save(ctx, domain.DeadLetter{ID: "2", ChainID: "ethereum", CreatedAt: fresh})
	_ = dead.Save(ctx, domain.DeadLetter{ID: "3", ChainID: "polygon", CreatedAt: old})
	_ = sink.AppendInvalidation(ctx, domain.Invalidation{ID: "a", ChainID: "ethereum", CreatedAt: old})
	_ = sink.AppendInvalidation(ctx, domain.Invalidation{ID: "b", ChainID: "ethereum", CreatedAt: fresh})

	cutoff := time.Now().Add(-24 * time.Hour)

	n, err := store.DeleteDeadLettersOlderThan(ctx, "ethereum", cutoff)
	if err != nil || n != 1 {
		t.Errorf("DeleteDeadLettersOlderThan = %d, %v, want 1", n, err)
	}
	// Other chains are untouched.
	if got := dead.DeadLetters(); len(got) != 2 {
		t.Errorf("remaining dead letters = %d, want 2", len(got))
	}

	n, err = store.DeleteInvalidationsOlderThan(ctx, "ethereum", cutoff)
	if err != nil || n != 1 {
		t.Errorf("DeleteInvalidationsOlderThan = %d, %v, want 1", n, err)
	}
	if got := sink.Invalidations(); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("remaining invalidations = %+v", got)
	}
}

func TestAppendOnlySink(t *testing.T) {
	sink := NewAppendOnlyEventSink(NewMemoryStorage())
	if sink.SupportsDelete() {
		t.Error("append-only sink reports delete support")
	}
}
