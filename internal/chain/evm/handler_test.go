package evm

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

type stubCeremony struct {
	mu         sync.Mutex
	initCalls  int
	finalCalls int
}

func (s *stubCeremony) InitializeDeposit(context.Context, deposit.Deposit) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls++
	return "0xinit", nil
}

func (s *stubCeremony) FinalizeDeposit(context.Context, deposit.Deposit) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalCalls++
	return "0xfinal", nil
}

func (s *stubCeremony) DepositStatus(context.Context, string) (deposit.Status, bool, error) {
	return deposit.StatusQueued, true, nil
}

// fakeL2 serves a fixed chain of headers plus a canned set of logs.
type fakeL2 struct {
	genesis  uint64
	interval uint64
	head     uint64

	logs []types.Log

	mu      sync.Mutex
	queries []ethereum.FilterQuery
}

func (f *fakeL2) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeL2) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	n := number.Uint64()
	if n > f.head {
		return nil, ethereum.NotFound
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: f.genesis + n*f.interval}, nil
}

func (f *fakeL2) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeL2) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, ethereum.NotFound
}

func newBackfillHandler(t *testing.T, l2 *fakeL2, now func() time.Time) (*Handler, *deposit.MemoryStore, *stubCeremony) {
	t.Helper()
	if err := loadL2ABI(); err != nil {
		t.Fatalf("loadL2ABI: %v", err)
	}

	store := deposit.NewMemoryStore()
	ceremony := &stubCeremony{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner, err := chain.NewRunner("testchain", store, ceremony, log, now)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	return &Handler{
		cfg: chain.Config{
			ChainName:         "testchain",
			ChainType:         chain.TypeEVM,
			L1RPC:             "http://unused",
			L2RPC:             "http://unused",
			L1ContractAddress: "0x0000000000000000000000000000000000000001",
			L2ContractAddress: "0x0000000000000000000000000000000000000022",
			VaultAddress:      "0x0000000000000000000000000000000000000002",
			PrivateKey:        "unused",
		},
		store:       store,
		log:         log,
		now:         now,
		initialized: true,
		runner:      runner,
		l2:          l2,
		l2Depositor: common.HexToAddress("0x0000000000000000000000000000000000000022"),
	}, store, ceremony
}

func TestCheckForPastDeposits_BackfillsAndDedupes(t *testing.T) {
	t.Parallel()

	l2 := &fakeL2{genesis: 1_000_000, interval: 12, head: 10_000}
	headTime := l2.genesis + l2.head*l2.interval
	now := func() time.Time { return time.Unix(int64(headTime), 0) }

	// Three historical deposits within the last 10 minutes, at distinct
	// blocks near the head.
	owner := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	sender := common.HexToAddress("0x000000000000000000000000000000000000bEEF")
	for i := 0; i < 3; i++ {
		ftx := sampleFundingTx()
		ftx.InputVector = []byte{0x01, byte(0xa0 + i)}
		lg := buildDepositInitializedLog(t, ftx, sampleReveal(), owner, sender)
		lg.BlockNumber = l2.head - uint64(10-i)
		l2.logs = append(l2.logs, lg)
	}
	// One stale deposit outside the scan range.
	stale := buildDepositInitializedLog(t, sampleFundingTx(), sampleReveal(), owner, sender)
	stale.BlockNumber = 100
	l2.logs = append(l2.logs, stale)

	h, store, ceremony := newBackfillHandler(t, l2, now)
	ctx := context.Background()

	if err := h.CheckForPastDeposits(ctx, chain.PastDepositsOptions{PastMinutes: 10, LatestBlock: l2.head}); err != nil {
		t.Fatalf("CheckForPastDeposits: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("records: got %d want 3", len(all))
	}
	for _, d := range all {
		if d.Status != deposit.StatusInitialized {
			t.Fatalf("record %s: status %v, want initialized", d.ID, d.Status)
		}
	}
	ceremony.mu.Lock()
	inits := ceremony.initCalls
	ceremony.mu.Unlock()
	if inits != 3 {
		t.Fatalf("initialize calls: got %d want 3", inits)
	}

	// The query range came out of the timestamp search, not block zero.
	l2.mu.Lock()
	q := l2.queries[0]
	l2.mu.Unlock()
	if q.FromBlock.Uint64() > l2.head-50 || q.FromBlock.Uint64() < l2.head-51 {
		t.Fatalf("FromBlock: got %d, want the 10-minute boundary near %d", q.FromBlock.Uint64(), l2.head-50)
	}
	if q.ToBlock.Uint64() != l2.head {
		t.Fatalf("ToBlock: got %d want %d", q.ToBlock.Uint64(), l2.head)
	}

	// Replaying the same scan creates nothing new.
	if err := h.CheckForPastDeposits(ctx, chain.PastDepositsOptions{PastMinutes: 10, LatestBlock: l2.head}); err != nil {
		t.Fatalf("CheckForPastDeposits replay: %v", err)
	}
	all, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("records after replay: got %d want 3", len(all))
	}
}

func TestCheckForPastDeposits_RequiresWindow(t *testing.T) {
	t.Parallel()

	l2 := &fakeL2{genesis: 1, interval: 12, head: 100}
	h, _, _ := newBackfillHandler(t, l2, time.Now)

	if err := h.CheckForPastDeposits(context.Background(), chain.PastDepositsOptions{PastMinutes: 0}); err == nil {
		t.Fatalf("expected error for zero window")
	}
}
