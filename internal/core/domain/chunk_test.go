package domain

import "testing"

func TestScanChunkWidth(t *testing.T) {
	c := NewScanChunk("ethereum", 100, 149)
	if got := c.Width(); got != 50 {
		t.Errorf("Width() = %d, want 50", got)
	}

	single := NewScanChunk("ethereum", 7, 7)
	if got := single.Width(); got != 1 {
		t.Errorf("Width() = %d, want 1", got)
	}
}

func TestScanChunkSplit(t *testing.T) {
	c := NewScanChunk("ethereum", 100, 199)
	first, rest := c.Split()
	if rest == nil {
		t.Fatal("expected two halves")
	}
	if first.FromBlock != 100 || first.ToBlock != 149 {
		t.Errorf("first half = [%d, %d], want [100, 149]", first.FromBlock, first.ToBlock)
	}
	if rest.FromBlock != 150 || rest.ToBlock != 199 {
		t.Errorf("second half = [%d, %d], want [150, 199]", rest.FromBlock, rest.ToBlock)
	}
	if first.Width()+rest.Width() != c.Width() {
		t.Error("split lost blocks")
	}
}

func TestScanChunkSplitOddWidth(t *testing.T) {
	c := NewScanChunk("ethereum", 10, 12)
	first, rest := c.Split()
	if first.FromBlock != 10 || first.ToBlock != 11 || rest.FromBlock != 12 || rest.ToBlock != 12 {
		t.Errorf("split = [%d,%d] [%d,%d]", first.FromBlock, first.ToBlock, rest.FromBlock, rest.ToBlock)
	}
}

func TestScanChunkSplitSingleBlock(t *testing.T) {
	c := NewScanChunk("ethereum", 5, 5)
	first, rest := c.Split()
	if rest != nil {
		t.Error("single block chunk should not split")
	}
	if first != c {
		t.Error("expected the chunk itself back")
	}
}
