package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/affiliate-indexer/internal/core/checkpoint"
	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/indexing/normalize"
	"github.com/vietddude/affiliate-indexer/internal/indexing/planner"
	"github.com/vietddude/affiliate-indexer/internal/indexing/reorg"
	"github.com/vietddude/affiliate-indexer/internal/indexing/scanner"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain/evm"
	"github.com/vietddude/affiliate-indexer/internal/infra/rpc"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage/memory"
)

const affiliate = "0x35339070f178dc4119732982c23f5a8d88d3f8a3"

// fakeChain is a scripted chain backend. maxRange, when non-zero,
// rejects log queries wider than that many blocks the way a capped
// provider would.
type fakeChain struct {
	mu          sync.Mutex
	head        uint64
	hashes      map[uint64]string
	logs        map[uint64][]domain.RawLogMatch
	maxRange    uint64
	filterCalls int
}

func newFakeChain(head uint64) *fakeChain {
	hashes := make(map[uint64]string, head+1)
	for b := uint64(0); b <= head; b++ {
		hashes[b] = fmt.Sprintf("0xhash%d", b)
	}
	return &fakeChain{
		head:   head,
		hashes: hashes,
		logs:   make(map[uint64][]domain.RawLogMatch),
	}
}

func (c *fakeChain) addTransfer(block uint64, txHash string, logIndex uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[block] = append(c.logs[block], domain.RawLogMatch{
		ChainID:     "ethereum",
		BlockNumber: block,
		BlockHash:   c.hashes[block],
		TxHash:      txHash,
		LogIndex:    logIndex,
		Address:     "0x2222222222222222222222222222222222222222",
		Topics: []string{
			evm.TransferTopic,
			evm.AddressTopic("0x1111111111111111111111111111111111111111"),
			evm.AddressTopic(affiliate),
		},
		Data: big.NewInt(1000).Bytes(),
	})
}

func (c *fakeChain) HeadNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) HeaderByNumber(ctx context.Context, number uint64) (*chain.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hashes[number]
	if !ok {
		return nil, chain.ErrBlockNotFound
	}
	return &chain.Header{Number: number, Hash: h, Time: 1700000000 + number}, nil
}

func (c *fakeChain) FilterLogs(ctx context.Context, from, to uint64, addresses []string) ([]domain.RawLogMatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterCalls++
	if c.maxRange > 0 && to-from+1 > c.maxRange {
		return nil, rpc.ErrQueryTooLarge
	}
	var out []domain.RawLogMatch
	for b := from; b <= to; b++ {
		out = append(out, c.logs[b]...)
	}
	return out, nil
}

type harness struct {
	chain  *fakeChain
	store  *memory.MemoryStorage
	sink   *memory.EventSinkRepo
	cm     checkpoint.Manager
	orch   *Orchestrator
	target *domain.ChainTarget
}

func newHarness(fc *fakeChain, store *memory.MemoryStorage, depth, chunkSize uint64) *harness {
	target := domain.NewChainTarget("ethereum", "Ethereum", depth, chunkSize,
		5*time.Millisecond, 0, []string{affiliate})

	sink := memory.NewEventSink(store)
	dead := memory.NewDeadLetterRepo(store)
	cm := checkpoint.NewManager(memory.NewCheckpointRepo(store))
	log := slog.Default()

	pl := planner.New(target, cm, fc)
	sc := scanner.New(target, fc)
	nm := normalize.New(sink, nil, normalize.TransferDecoder, dead, log)
	guard := reorg.NewGuard(target, fc, cm, sink, nil, log)

	cfg := Config{BackoffBase: time.Millisecond, BackoffMax: 10 * time.Millisecond}
	orch := New(target, pl, sc, nm, guard, cm, sink, dead, nil, fc, cfg, log)

	return &harness{chain: fc, store: store, sink: sink, cm: cm, orch: orch, target: target}
}

// runUntilCheckpoint runs the loop until the checkpoint reaches the
// wanted block, then cancels it.
func (h *harness) runUntilCheckpoint(t *testing.T, want uint64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		cp, err := h.cm.Load(context.Background(), "ethereum")
		if err == nil && cp.LastSafeBlock >= want {
			cancel()
			<-done
			if cp.LastSafeBlock != want {
				t.Fatalf("checkpoint = %d, want exactly %d", cp.LastSafeBlock, want)
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done
	cp, _ := h.cm.Load(context.Background(), "ethereum")
	t.Fatalf("checkpoint never reached %d (at %v)", want, cp)
}

func TestRunIndexesToSafeHead(t *testing.T) {
	fc := newFakeChain(1000)
	fc.addTransfer(500, "0xtx500", 0)

	h := newHarness(fc, memory.NewMemoryStorage(), 12, 50)
	h.runUntilCheckpoint(t, 988)

	events := h.sink.Events("ethereum")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.BlockNumber != 500 || ev.Key.TxHash != "0xtx500" {
		t.Errorf("event = %+v", ev)
	}
	if ev.MatchedAddress != affiliate {
		t.Errorf("matched = %s", ev.MatchedAddress)
	}
	if ev.BlockTime != 1700000500 {
		t.Errorf("block time = %d", ev.BlockTime)
	}

	if st := h.orch.Status(); st.State == StateHalted {
		t.Errorf("status = %+v", st)
	}
}

func TestRunAtMostOnceAcrossRestart(t *testing.T) {
	fc := newFakeChain(1000)
	fc.addTransfer(500, "0xtx500", 0)

	store := memory.NewMemoryStorage()
	h := newHarness(fc, store, 12, 50)
	h.runUntilCheckpoint(t, 988)

	// Operator rescan: the checkpoint is forced back behind the event
	// and a fresh process re-covers the range.
	if err := h.cm.Rollback(context.Background(), "ethereum", 450, "0xhash450"); err != nil {
		t.Fatal(err)
	}

	h2 := newHarness(fc, store, 12, 50)
	h2.runUntilCheckpoint(t, 988)

	events := h2.sink.Events("ethereum")
	if len(events) != 1 {
		t.Fatalf("event duplicated on re-scan: got %d", len(events))
	}
}

func TestRunLeavesNoGaps(t *testing.T) {
	for _, chunkSize := range []uint64{1, 7, 25, 1000} {
		chunkSize := chunkSize
		t.Run(fmt.Sprintf("chunk_%d", chunkSize), func(t *testing.T) {
			fc := newFakeChain(100)
			fc.addTransfer(10, "0xtx10", 0)
			fc.addTransfer(50, "0xtx50", 0)
			fc.addTransfer(90, "0xtx90", 0)

			h := newHarness(fc, memory.NewMemoryStorage(), 0, chunkSize)
			h.runUntilCheckpoint(t, 100)

			events := h.sink.Events("ethereum")
			if len(events) != 3 {
				t.Fatalf("got %d events, want 3", len(events))
			}
			for i, want := range []uint64{10, 50, 90} {
				if events[i].BlockNumber != want {
					t.Errorf("event %d at block %d, want %d", i, events[i].BlockNumber, want)
				}
			}
		})
	}
}

func TestRunSubdividesOversizedChunks(t *testing.T) {
	fc := newFakeChain(112)
	fc.maxRange = 10
	fc.addTransfer(5, "0xtx5", 0)
	fc.addTransfer(55, "0xtx55", 0)

	h := newHarness(fc, memory.NewMemoryStorage(), 12, 100)
	h.runUntilCheckpoint(t, 100)

	events := h.sink.Events("ethereum")
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	// The 100-wide chunk cannot be served in one query.
	if fc.filterCalls <= 10 {
		t.Errorf("filter calls = %d, expected subdivision into many queries", fc.filterCalls)
	}
}

func TestRunHaltsOnUnrecoverableReorg(t *testing.T) {
	fc := newFakeChain(200)
	store := memory.NewMemoryStorage()
	h := newHarness(fc, store, 12, 50)

	// A checkpoint whose hash matches nothing the provider reports and
	// with no recorded history to walk: recovery cannot find an
	// ancestor.
	if _, err := h.cm.Initialize(context.Background(), "ethereum", 100, "0xvanished"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.orch.Run(ctx)
	if err == nil || ctx.Err() != nil {
		t.Fatalf("Run() = %v, want a halt before the timeout", err)
	}

	if st := h.orch.Status(); st.State != StateHalted {
		t.Errorf("status = %+v, want halted", st)
	}
	// The checkpoint must not move during a failed recovery.
	cp, _ := h.cm.Load(context.Background(), "ethereum")
	if cp.LastSafeBlock != 100 {
		t.Errorf("checkpoint = %d, want 100", cp.LastSafeBlock)
	}
}

// sinkThatRejects wraps the memory sink, permanently rejecting one tx.
type sinkThatRejects struct {
	*memory.EventSinkRepo
	rejectTx string
}

func (s *sinkThatRejects) Append(ctx context.Context, events []domain.CanonicalEvent) error {
	for _, ev := range events {
		if ev.Key.TxHash == s.rejectTx {
			return fmt.Errorf("%w: oversized payload", storage.ErrPermanentRejection)
		}
	}
	return s.EventSinkRepo.Append(ctx, events)
}

func TestRunDeadLettersPermanentRejections(t *testing.T) {
	fc := newFakeChain(100)
	fc.addTransfer(10, "0xgood", 0)
	fc.addTransfer(10, "0xpoison", 1)

	store := memory.NewMemoryStorage()
	target := domain.NewChainTarget("ethereum", "Ethereum", 0, 1000,
		5*time.Millisecond, 0, []string{affiliate})

	sink := &sinkThatRejects{EventSinkRepo: memory.NewEventSink(store), rejectTx: "0xpoison"}
	dead := memory.NewDeadLetterRepo(store)
	cm := checkpoint.NewManager(memory.NewCheckpointRepo(store))
	log := slog.Default()

	pl := planner.New(target, cm, fc)
	sc := scanner.New(target, fc)
	nm := normalize.New(sink, nil, normalize.TransferDecoder, dead, log)
	guard := reorg.NewGuard(target, fc, cm, sink, nil, log)
	orch := New(target, pl, sc, nm, guard, cm, sink, dead, nil, fc,
		Config{BackoffBase: time.Millisecond, BackoffMax: 10 * time.Millisecond}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		cp, err := cm.Load(context.Background(), "ethereum")
		if err == nil && cp.LastSafeBlock >= 100 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	events := memory.NewEventSink(store).Events("ethereum")
	if len(events) != 1 || events[0].Key.TxHash != "0xgood" {
		t.Errorf("events = %+v, want only 0xgood", events)
	}
	letters := dead.DeadLetters()
	if len(letters) != 1 || letters[0].Key.TxHash != "0xpoison" {
		t.Errorf("dead letters = %+v, want 0xpoison", letters)
	}
	cp, err := cm.Load(context.Background(), "ethereum")
	if err != nil || cp.LastSafeBlock != 100 {
		t.Errorf("checkpoint = %v/%v, the poison event must not block progress", cp, err)
	}
}
