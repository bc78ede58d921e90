package domain

// ScanChunk is the unit of work: a bounded block range processed as one
// piece. Created by the planner, populated by the scanner and reorg
// guard, discarded after a successful sink + checkpoint advance.
// Retried unchanged on transient failure.
type ScanChunk struct {
	ChainID   ChainID
	FromBlock uint64
	ToBlock   uint64

	// BlockHashes records provider-reported hashes for blocks touched
	// while scanning this chunk, keyed by block number. The reorg guard
	// uses them to find a common ancestor during recovery.
	BlockHashes map[uint64]string
}

// NewScanChunk builds a chunk for [from, to].
func NewScanChunk(chainID ChainID, from, to uint64) *ScanChunk {
	return &ScanChunk{
		ChainID:     chainID,
		FromBlock:   from,
		ToBlock:     to,
		BlockHashes: make(map[uint64]string),
	}
}

// Width returns the number of blocks covered by the chunk.
func (c *ScanChunk) Width() uint64 {
	return c.ToBlock - c.FromBlock + 1
}

// Split halves the chunk. The second half is nil when the chunk covers
// a single block and cannot be subdivided further.
func (c *ScanChunk) Split() (*ScanChunk, *ScanChunk) {
	if c.Width() <= 1 {
		return c, nil
	}
	mid := c.FromBlock + (c.ToBlock-c.FromBlock)/2
	return NewScanChunk(c.ChainID, c.FromBlock, mid),
		NewScanChunk(c.ChainID, mid+1, c.ToBlock)
}
