package domain

import (
	"fmt"
	"time"
)

// RawLogMatch is a provider-reported event occurrence, produced by the
// scanner and consumed by the normalizer. Transient.
type RawLogMatch struct {
	ChainID     ChainID
	BlockNumber uint64
	BlockHash   string
	TxHash      string
	LogIndex    uint32
	Address     string
	Topics      []string
	Data        []byte
}

// EventKey uniquely identifies one on-chain event occurrence. It is the
// deduplication key: globally unique in the sink.
type EventKey struct {
	ChainID  ChainID
	TxHash   string
	LogIndex uint32
}

// String renders the key in "chain:txhash:index" form, used for Redis
// seen-set members and log output.
func (k EventKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.ChainID, k.TxHash, k.LogIndex)
}

// CanonicalEvent is the deduplicated, normalized output unit.
type CanonicalEvent struct {
	Key            EventKey
	BlockNumber    uint64
	BlockHash      string
	BlockTime      uint64
	MatchedAddress string
	Payload        []byte
}

// Invalidation marks a block range whose previously sinked events are
// no longer canonical. Emitted instead of deletion when the sink is
// append-only.
type Invalidation struct {
	ID        string
	ChainID   ChainID
	FromBlock uint64
	ToBlock   uint64
	CreatedAt time.Time
}

// DeadLetter records an event the sink permanently rejected. Reported,
// not retried.
type DeadLetter struct {
	ID        string
	ChainID   ChainID
	Key       EventKey
	Reason    string
	CreatedAt time.Time
}
