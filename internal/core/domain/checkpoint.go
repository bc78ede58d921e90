package domain

import "time"

// Checkpoint marks how far a chain has been safely scanned.
//
// LastSafeBlock is monotonically non-decreasing except during an
// explicit reorg rollback, which may move it back to the last common
// ancestor.
type Checkpoint struct {
	ChainID           ChainID
	LastSafeBlock     uint64
	LastSafeBlockHash string
	UpdatedAt         time.Time
}
