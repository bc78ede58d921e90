package domain

import (
	"strings"
	"time"
)

// ChainID identifies one indexed blockchain (e.g. "ethereum", "polygon").
type ChainID string

// ChainTarget describes one blockchain to index. Immutable after
// construction; one instance per chain, owned by that chain's
// orchestrator.
type ChainTarget struct {
	ChainID           ChainID
	DisplayName       string
	ConfirmationDepth uint64
	ChunkSize         uint64
	PollInterval      time.Duration
	StartBlock        uint64

	watched map[string]struct{}
}

// NewChainTarget builds a target with a normalized (lowercased) watched
// address set.
func NewChainTarget(
	chainID ChainID,
	displayName string,
	confirmationDepth uint64,
	chunkSize uint64,
	pollInterval time.Duration,
	startBlock uint64,
	watchedAddresses []string,
) *ChainTarget {
	watched := make(map[string]struct{}, len(watchedAddresses))
	for _, addr := range watchedAddresses {
		watched[strings.ToLower(addr)] = struct{}{}
	}

	return &ChainTarget{
		ChainID:           chainID,
		DisplayName:       displayName,
		ConfirmationDepth: confirmationDepth,
		ChunkSize:         chunkSize,
		PollInterval:      pollInterval,
		StartBlock:        startBlock,
		watched:           watched,
	}
}

// Watches reports whether the address is in the watched set.
func (t *ChainTarget) Watches(address string) bool {
	_, ok := t.watched[strings.ToLower(address)]
	return ok
}

// WatchedAddresses returns the watched set as a slice (lowercased).
func (t *ChainTarget) WatchedAddresses() []string {
	out := make([]string, 0, len(t.watched))
	for addr := range t.watched {
		out = append(out, addr)
	}
	return out
}
