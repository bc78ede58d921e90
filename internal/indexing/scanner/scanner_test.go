package scanner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain"
)

// fakeReader serves logs keyed by the recipient address the filter
// would match on.
type fakeReader struct {
	head       uint64
	logs       map[string][]domain.RawLogMatch
	filterCall int
	filterErr  error
}

func (r *fakeReader) HeadNumber(ctx context.Context) (uint64, error) {
	return r.head, nil
}

func (r *fakeReader) HeaderByNumber(ctx context.Context, number uint64) (*chain.Header, error) {
	return &chain.Header{
		Number: number,
		Hash:   fmt.Sprintf("0xhash%d", number),
		Time:   1700000000 + number,
	}, nil
}

func (r *fakeReader) FilterLogs(ctx context.Context, from, to uint64, addresses []string) ([]domain.RawLogMatch, error) {
	r.filterCall++
	if r.filterErr != nil {
		return nil, r.filterErr
	}
	var out []domain.RawLogMatch
	for _, addr := range addresses {
		for _, m := range r.logs[addr] {
			if m.BlockNumber >= from && m.BlockNumber <= to {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func match(block uint64, txHash string, logIndex uint32) domain.RawLogMatch {
	return domain.RawLogMatch{
		ChainID:     "ethereum",
		BlockNumber: block,
		BlockHash:   fmt.Sprintf("0xlog%d", block),
		TxHash:      txHash,
		LogIndex:    logIndex,
	}
}

func target(addrs ...string) *domain.ChainTarget {
	return domain.NewChainTarget("ethereum", "Ethereum", 12, 50, time.Second, 0, addrs)
}

func TestScanOrdersMatches(t *testing.T) {
	reader := &fakeReader{
		head: 1000,
		logs: map[string][]domain.RawLogMatch{
			"0xaaa": {match(120, "0xt3", 1), match(100, "0xt1", 5), match(100, "0xt1", 2)},
		},
	}
	s := New(target("0xAAA"), reader)

	chunk := domain.NewScanChunk("ethereum", 100, 149)
	res, err := s.Scan(context.Background(), chunk)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(res.Matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(res.Matches))
	}

	// Ordered by (block, log index).
	got := []struct {
		block uint64
		idx   uint32
	}{}
	for _, m := range res.Matches {
		got = append(got, struct {
			block uint64
			idx   uint32
		}{m.BlockNumber, m.LogIndex})
	}
	want := []struct {
		block uint64
		idx   uint32
	}{{100, 2}, {100, 5}, {120, 1}}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("match %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestScanRecordsHashesAndTimes(t *testing.T) {
	reader := &fakeReader{
		head: 1000,
		logs: map[string][]domain.RawLogMatch{
			"0xaaa": {match(100, "0xt1", 0), match(120, "0xt2", 0)},
		},
	}
	s := New(target("0xaaa"), reader)

	chunk := domain.NewScanChunk("ethereum", 100, 149)
	res, err := s.Scan(context.Background(), chunk)
	if err != nil {
		t.Fatal(err)
	}

	// The header hash wins over the log-reported one.
	if chunk.BlockHashes[100] != "0xhash100" || chunk.BlockHashes[120] != "0xhash120" {
		t.Errorf("block hashes = %v", chunk.BlockHashes)
	}
	if res.BlockTimes[100] != 1700000100 || res.BlockTimes[120] != 1700000120 {
		t.Errorf("block times = %v", res.BlockTimes)
	}
}

func TestScanBatchesLargeAddressSets(t *testing.T) {
	addrs := make([]string, 60)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("0xaddr%02d", i)
	}
	reader := &fakeReader{head: 1000, logs: map[string][]domain.RawLogMatch{
		"0xaddr59": {match(105, "0xt1", 0)},
	}}
	s := New(target(addrs...), reader)

	chunk := domain.NewScanChunk("ethereum", 100, 149)
	res, err := s.Scan(context.Background(), chunk)
	if err != nil {
		t.Fatal(err)
	}
	// 60 addresses at 25 per query = 3 filter calls.
	if reader.filterCall != 3 {
		t.Errorf("filter calls = %d, want 3", reader.filterCall)
	}
	if len(res.Matches) != 1 {
		t.Errorf("matches across batches = %d, want 1", len(res.Matches))
	}
}

func TestScanPropagatesFilterError(t *testing.T) {
	wantErr := fmt.Errorf("boom")
	reader := &fakeReader{head: 1000, filterErr: wantErr}
	s := New(target("0xaaa"), reader)

	_, err := s.Scan(context.Background(), domain.NewScanChunk("ethereum", 100, 149))
	if err == nil {
		t.Fatal("expected error")
	}
}
