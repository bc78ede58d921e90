// Package normalize converts raw log matches into canonical events and
// drops duplicates before they reach the sink.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/indexing/metrics"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage"
)

// SeenCache is an optional fast-path membership check in front of the
// sink. A cache miss is not authoritative; the sink is.
type SeenCache interface {
	IsSeen(ctx context.Context, key domain.EventKey) (bool, error)
	MarkSeen(ctx context.Context, chainID domain.ChainID, keys []domain.EventKey) error
}

// Normalizer decodes raw matches exactly once each and filters out
// events the sink already holds.
type Normalizer struct {
	sink        storage.EventSink
	seen        SeenCache // may be nil
	decoder     Decoder
	deadLetters storage.DeadLetterRepository
	log         *slog.Logger
}

// New creates a normalizer. seen may be nil when no cache is
// configured.
func New(
	sink storage.EventSink,
	seen SeenCache,
	decoder Decoder,
	deadLetters storage.DeadLetterRepository,
	log *slog.Logger,
) *Normalizer {
	return &Normalizer{
		sink:        sink,
		seen:        seen,
		decoder:     decoder,
		deadLetters: deadLetters,
		log:         log.With("component", "normalizer"),
	}
}

// Normalize decodes each match and returns the canonical events not
// yet present in the sink, preserving input order. A decode failure is
// permanent: retrying the chunk would fail identically, so the record
// is dead-lettered and the rest of the chunk proceeds.
func (n *Normalizer) Normalize(
	ctx context.Context,
	matches []domain.RawLogMatch,
	blockTimes map[uint64]uint64,
) ([]domain.CanonicalEvent, error) {
	out := make([]domain.CanonicalEvent, 0, len(matches))
	for _, m := range matches {
		matched, payload, err := n.decoder(m)
		if err != nil {
			if dlErr := n.deadLetter(ctx, m, err); dlErr != nil {
				return nil, dlErr
			}
			continue
		}

		ev := domain.CanonicalEvent{
			Key: domain.EventKey{
				ChainID:  m.ChainID,
				TxHash:   m.TxHash,
				LogIndex: m.LogIndex,
			},
			BlockNumber:    m.BlockNumber,
			BlockHash:      m.BlockHash,
			BlockTime:      blockTimes[m.BlockNumber],
			MatchedAddress: matched,
			Payload:        payload,
		}

		dup, err := n.isDuplicate(ctx, ev.Key)
		if err != nil {
			return nil, err
		}
		if dup {
			metrics.DuplicatesSkipped.WithLabelValues(string(m.ChainID)).Inc()
			n.log.Debug("skipping duplicate event", "key", ev.Key.String())
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (n *Normalizer) deadLetter(ctx context.Context, m domain.RawLogMatch, cause error) error {
	key := domain.EventKey{ChainID: m.ChainID, TxHash: m.TxHash, LogIndex: m.LogIndex}
	n.log.Error("dead-lettering undecodable log", "key", key.String(), "error", cause)
	dl := domain.DeadLetter{
		ID:        uuid.NewString(),
		ChainID:   m.ChainID,
		Key:       key,
		Reason:    cause.Error(),
		CreatedAt: time.Now().UTC(),
	}
	if err := n.deadLetters.Save(ctx, dl); err != nil {
		return fmt.Errorf("failed to save dead letter for %s: %w", key.String(), err)
	}
	return nil
}

func (n *Normalizer) isDuplicate(ctx context.Context, key domain.EventKey) (bool, error) {
	if n.seen != nil {
		hit, err := n.seen.IsSeen(ctx, key)
		if err != nil {
			// Cache trouble degrades to the sink check.
			n.log.Warn("seen cache lookup failed", "error", err)
		} else if hit {
			// A hit is trustworthy only because marks happen after the
			// durable append and reorg recovery purges the set before
			// rolling the checkpoint back.
			return true, nil
		}
	}
	has, err := n.sink.Has(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check sink for %s: %w", key.String(), err)
	}
	return has, nil
}
