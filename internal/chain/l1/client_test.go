package l1

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/eth"
)

type fakeL1 struct {
	mu sync.Mutex

	pending uint64

	callOut   map[string][]byte // keyed by 4-byte selector hex
	callErr   error
	callCount int

	sent []*types.Transaction
}

func (f *fakeL1) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.pending, nil
}

func (f *fakeL1) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeL1) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10)}, nil
}

func (f *fakeL1) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeL1) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeL1) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

func (f *fakeL1) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if f.callErr != nil {
		return nil, f.callErr
	}
	if len(msg.Data) >= 4 {
		if out, ok := f.callOut[common.Bytes2Hex(msg.Data[:4])]; ok {
			return out, nil
		}
	}
	return nil, nil
}

func (f *fakeL1) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeL1) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, ethereum.NotFound
}

func selector(t *testing.T, method string) string {
	t.Helper()
	if err := loadABIs(); err != nil {
		t.Fatalf("loadABIs: %v", err)
	}
	return common.Bytes2Hex(depositorABI.Methods[method].ID)
}

func uint256Out(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func newTestClient(t *testing.T, backend *fakeL1) *fakeClientBundle {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender, err := eth.NewSender(backend, eth.NewLocalSigner(key), eth.SenderConfig{
		ChainID:     big.NewInt(1),
		ReceiptPoll: time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	c, err := NewClient(sender, backend, common.Address{0x01}, common.Address{0x02}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return &fakeClientBundle{client: c, backend: backend}
}

type fakeClientBundle struct {
	client  *Client
	backend *fakeL1
}

func testDeposit(t *testing.T) deposit.Deposit {
	t.Helper()
	ev := deposit.L1OutputEvent{
		FundingTx: deposit.FundingTransaction{
			Version:      "0x01000000",
			InputVector:  "0x0101aa",
			OutputVector: "0x0102bb",
			Locktime:     "0x00000000",
		},
		Reveal: deposit.Reveal{
			FundingOutputIndex:  0,
			BlindingFactor:      "0xf9f0c90d00039523",
			WalletPublicKeyHash: "0x8db50eb52063ea9d98b3eac91489a90f738986f6",
			RefundPublicKeyHash: "0x28e081f285138ccbe389c1eb8985716230129f89",
			RefundLocktime:      "0x60bcea61",
			ExtraData:           "0x00000000000000000000000000000000000000000000000000000000000000aa",
		},
		L2DepositOwner: "0x000000000000000000000000000000000000dEaD",
		L2Sender:       "0x000000000000000000000000000000000000bEEF",
	}
	return deposit.NewQueued("12345", strings.Repeat("11", 32), 0, ev, time.UnixMilli(0))
}

func TestInitializeDeposit_SendsAfterPreflight(t *testing.T) {
	t.Parallel()

	backend := &fakeL1{}
	b := newTestClient(t, backend)

	txHash, err := b.client.InitializeDeposit(context.Background(), testDeposit(t))
	if err != nil {
		t.Fatalf("InitializeDeposit: %v", err)
	}
	if txHash == "" {
		t.Fatalf("empty tx hash")
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent %d txs, want 1", len(backend.sent))
	}
	if got := common.Bytes2Hex(backend.sent[0].Data()[:4]); got != selector(t, "initializeDeposit") {
		t.Fatalf("selector: got %s", got)
	}
}

func TestInitializeDeposit_PreflightRevert(t *testing.T) {
	t.Parallel()

	backend := &fakeL1{callErr: errors.New("execution reverted: bad reveal")}
	b := newTestClient(t, backend)

	_, err := b.client.InitializeDeposit(context.Background(), testDeposit(t))
	var revert *chain.RevertError
	if !errors.As(err, &revert) {
		t.Fatalf("got %v want RevertError", err)
	}
	if !strings.Contains(revert.Reason, "bad reveal") {
		t.Fatalf("reason: got %q", revert.Reason)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("reverted pre-flight must not send")
	}
}

func TestFinalizeDeposit_ForwardsQuotedValue(t *testing.T) {
	t.Parallel()

	backend := &fakeL1{callOut: map[string][]byte{}}
	b := newTestClient(t, backend)
	backend.callOut[selector(t, "finalizeDeposit")] = uint256Out(1_234)

	txHash, err := b.client.FinalizeDeposit(context.Background(), testDeposit(t))
	if err != nil {
		t.Fatalf("FinalizeDeposit: %v", err)
	}
	if txHash == "" {
		t.Fatalf("empty tx hash")
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent %d txs, want 1", len(backend.sent))
	}
	if backend.sent[0].Value().Cmp(big.NewInt(1_234)) != 0 {
		t.Fatalf("value: got %s want 1234", backend.sent[0].Value())
	}
}

func TestFinalizeDeposit_FallsBackToQuoteVerb(t *testing.T) {
	t.Parallel()

	// finalizeDeposit pre-flight returns no data (older deployment); the
	// quote verb supplies the value.
	backend := &fakeL1{callOut: map[string][]byte{}}
	b := newTestClient(t, backend)
	backend.callOut[selector(t, "quoteFinalizeDeposit")] = uint256Out(55)

	if _, err := b.client.FinalizeDeposit(context.Background(), testDeposit(t)); err != nil {
		t.Fatalf("FinalizeDeposit: %v", err)
	}
	if backend.sent[0].Value().Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("value: got %s want 55", backend.sent[0].Value())
	}
}

func TestDepositStatus_Mapping(t *testing.T) {
	t.Parallel()

	backend := &fakeL1{callOut: map[string][]byte{}}
	b := newTestClient(t, backend)

	for _, tc := range []struct {
		raw   int64
		want  deposit.Status
		known bool
	}{
		{0, deposit.StatusQueued, true},
		{1, deposit.StatusInitialized, true},
		{2, deposit.StatusFinalized, true},
		{9, 0, false},
	} {
		backend.mu.Lock()
		backend.callOut[selector(t, "deposits")] = uint256Out(tc.raw)
		backend.mu.Unlock()

		got, known, err := b.client.DepositStatus(context.Background(), "12345")
		if err != nil {
			t.Fatalf("DepositStatus(%d): %v", tc.raw, err)
		}
		if known != tc.known {
			t.Fatalf("DepositStatus(%d): known=%v want %v", tc.raw, known, tc.known)
		}
		if known && got != tc.want {
			t.Fatalf("DepositStatus(%d): got %v want %v", tc.raw, got, tc.want)
		}
	}
}

func TestDepositStatus_RejectsNonDecimalID(t *testing.T) {
	t.Parallel()

	b := newTestClient(t, &fakeL1{})
	if _, _, err := b.client.DepositStatus(context.Background(), "0xabc"); err == nil {
		t.Fatalf("expected error for non-decimal id")
	}
}

func TestDecodeMintingFinalized(t *testing.T) {
	t.Parallel()

	if err := loadABIs(); err != nil {
		t.Fatalf("loadABIs: %v", err)
	}

	key := big.NewInt(987654321)
	lg := types.Log{
		Topics: []common.Hash{
			vaultABI.Events["OptimisticMintingFinalized"].ID,
			common.BytesToHash(common.LeftPadBytes(common.Address{0x0a}.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(key.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(common.Address{0x0b}.Bytes(), 32)),
		},
	}

	ev, ok := decodeMintingFinalized(lg)
	if !ok {
		t.Fatalf("decode failed")
	}
	if ev.DepositKey != key.String() {
		t.Fatalf("deposit key: got %s want %s", ev.DepositKey, key.String())
	}

	if _, ok := decodeMintingFinalized(types.Log{}); ok {
		t.Fatalf("log without topics must not decode")
	}
}

func TestEncodeValidation(t *testing.T) {
	t.Parallel()

	d := testDeposit(t)
	d.L1OutputEvent.Reveal.BlindingFactor = "0x00" // wrong length
	b := newTestClient(t, &fakeL1{})

	_, err := b.client.InitializeDeposit(context.Background(), d)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v want ErrInvalidInput", err)
	}
}
