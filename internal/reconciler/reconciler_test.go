package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/archive"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

type fakeHandler struct {
	mu sync.Mutex

	name         string
	supportsPast bool

	initTicks int
	finTicks  int
	pastTicks int
	pastOpts  []chain.PastDepositsOptions
}

func (f *fakeHandler) Initialize(context.Context) error     { return nil }
func (f *fakeHandler) SetupListeners(context.Context) error { return nil }
func (f *fakeHandler) InitializeDeposit(context.Context, deposit.Deposit) error {
	return nil
}
func (f *fakeHandler) FinalizeDeposit(context.Context, deposit.Deposit) error { return nil }
func (f *fakeHandler) CheckDepositStatus(context.Context, string) (deposit.Status, bool, error) {
	return deposit.StatusQueued, true, nil
}
func (f *fakeHandler) LatestBlock(context.Context) (uint64, error) { return 777, nil }

func (f *fakeHandler) ProcessInitializeDeposits(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initTicks++
	return nil
}

func (f *fakeHandler) ProcessFinalizeDeposits(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finTicks++
	return nil
}

func (f *fakeHandler) CheckForPastDeposits(_ context.Context, opts chain.PastDepositsOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pastTicks++
	f.pastOpts = append(f.pastOpts, opts)
	return nil
}

func (f *fakeHandler) SupportsPastDepositCheck() bool { return f.supportsPast }
func (f *fakeHandler) ChainName() string              { return f.name }

func TestReconciler_RunsAllLoops(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{name: "testchain", supportsPast: true}
	store := deposit.NewMemoryStore()

	r, err := New(Config{
		InitializeInterval: 10 * time.Millisecond,
		FinalizeInterval:   10 * time.Millisecond,
		PastScanInterval:   10 * time.Millisecond,
		PastMinutes:        10,
	}, []chain.Handler{h}, store, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initTicks == 0 || h.finTicks == 0 || h.pastTicks == 0 {
		t.Fatalf("loops did not all tick: init=%d fin=%d past=%d", h.initTicks, h.finTicks, h.pastTicks)
	}
	for _, opts := range h.pastOpts {
		if opts.PastMinutes != 10 || opts.LatestBlock != 777 {
			t.Fatalf("past scan opts: %+v", opts)
		}
	}
}

func TestReconciler_SkipsPastScanWhenUnsupported(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{name: "endpointchain", supportsPast: false}
	r, err := New(Config{
		InitializeInterval: 10 * time.Millisecond,
		FinalizeInterval:   10 * time.Millisecond,
		PastScanInterval:   10 * time.Millisecond,
	}, []chain.Handler{h}, deposit.NewMemoryStore(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pastTicks != 0 {
		t.Fatalf("past scan ran for an endpoint handler: %d ticks", h.pastTicks)
	}
}

func TestReconciler_ArchivesFinalizedOnce(t *testing.T) {
	t.Parallel()

	store := deposit.NewMemoryStore()
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	d := deposit.NewQueued("42", "aa", 0, deposit.L1OutputEvent{}, now)
	d, err := deposit.MarkFinalized(d, "0xfin", now)
	if err != nil {
		t.Fatalf("MarkFinalized: %v", err)
	}
	if _, err := store.Create(ctx, d); err != nil {
		t.Fatalf("Create: %v", err)
	}
	q := deposit.NewQueued("7", "bb", 0, deposit.L1OutputEvent{}, now)
	if _, err := store.Create(ctx, q); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mem := archive.NewMemory("deposits")
	r, err := New(Config{ArchiveInterval: time.Minute}, []chain.Handler{&fakeHandler{name: "x"}}, store, mem, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.archiveFinalized(ctx); err != nil {
		t.Fatalf("archiveFinalized: %v", err)
	}

	ok, err := mem.Exists(ctx, "42.json")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatalf("finalized record not archived")
	}
	ok, err = mem.Exists(ctx, "7.json")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatalf("queued record must not be archived")
	}

	// Second sweep is a no-op.
	if err := r.archiveFinalized(ctx); err != nil {
		t.Fatalf("archiveFinalized #2: %v", err)
	}
}
