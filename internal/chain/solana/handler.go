// Package solana adapts Solana destinations. The L2 depositor program emits
// deposit intents in its transaction logs; the handler subscribes to those
// logs over websockets and backfills by walking recent program signatures.
// The L1 ceremony is the shared Ethereum client.
package solana

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/bitcoin"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain/endpoint"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain/l1"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

// intentLogMarker prefixes the JSON intent payload inside program logs.
const intentLogMarker = "tbtc-deposit-intent:"

const (
	resubscribeDelay  = 5 * time.Second
	pastSignatureCap  = 1000
	vaultRetryDelay   = 5 * time.Second
	defaultCommitment = rpc.CommitmentFinalized
)

type Handler struct {
	cfg   chain.Config
	wsRPC string
	store deposit.Store
	log   *slog.Logger
	now   func() time.Time

	mu          sync.Mutex
	initialized bool

	runner  *chain.Runner
	l1c     *l1.Client
	client  *rpc.Client
	program solana.PublicKey
}

// NewHandler builds a Solana handler. wsRPC is the websocket endpoint used
// for log subscriptions; cfg.L2RPC is the HTTP RPC endpoint.
func NewHandler(cfg chain.Config, wsRPC string, store deposit.Store, log *slog.Logger) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ChainType != chain.TypeSolana {
		return nil, fmt.Errorf("%w: solana handler got %q", chain.ErrInvalidConfig, cfg.ChainType)
	}
	if cfg.UseEndpoint {
		return nil, fmt.Errorf("%w: solana handler observes program logs directly", chain.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.L2ContractAddress) == "" {
		return nil, fmt.Errorf("%w: l2ContractAddress (program id) is required", chain.ErrInvalidConfig)
	}
	if strings.TrimSpace(wsRPC) == "" {
		wsRPC = cfg.L2RPC
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", chain.ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		cfg:   cfg,
		wsRPC: wsRPC,
		store: store,
		log:   log.With("chain", cfg.ChainName),
		now:   time.Now,
	}, nil
}

func (h *Handler) ChainName() string { return h.cfg.ChainName }

func (h *Handler) SupportsPastDepositCheck() bool { return true }

func (h *Handler) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initialized {
		return nil
	}

	program, err := solana.PublicKeyFromBase58(h.cfg.L2ContractAddress)
	if err != nil {
		return fmt.Errorf("%w: program id: %v", chain.ErrInvalidConfig, err)
	}

	l1c, err := l1.Dial(ctx, l1.DialConfig{
		RPC:              h.cfg.L1RPC,
		PrivateKey:       h.cfg.PrivateKey,
		DepositorAddress: h.cfg.L1ContractAddress,
		VaultAddress:     h.cfg.VaultAddress,
		Now:              h.now,
	}, h.log)
	if err != nil {
		return err
	}
	runner, err := chain.NewRunner(h.cfg.ChainName, h.store, l1c, h.log, h.now)
	if err != nil {
		return err
	}

	h.program = program
	h.client = rpc.New(h.cfg.L2RPC)
	h.l1c = l1c
	h.runner = runner
	h.initialized = true
	return nil
}

func (h *Handler) ready() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return chain.ErrNotInitialized
	}
	return nil
}

func (h *Handler) SetupListeners(ctx context.Context) error {
	if err := h.ready(); err != nil {
		return err
	}
	go h.listenLogs(ctx)
	go l1.WatchMintingFinalizedLoop(ctx, h.l1c, vaultRetryDelay, h.log, func(ev l1.MintingFinalized) {
		if err := h.runner.HandleMintingFinalized(ctx, ev.DepositKey); err != nil {
			h.log.Error("handle OptimisticMintingFinalized", "depositKey", ev.DepositKey, "err", err)
		}
	})
	return nil
}

func (h *Handler) listenLogs(ctx context.Context) {
	for ctx.Err() == nil {
		if err := h.subscribeOnce(ctx); err != nil && ctx.Err() == nil {
			h.log.Error("program log subscription dropped", "err", err)
		}
		t := time.NewTimer(resubscribeDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (h *Handler) subscribeOnce(ctx context.Context) error {
	wsClient, err := ws.Connect(ctx, h.wsRPC)
	if err != nil {
		return err
	}
	defer wsClient.Close()

	sub, err := wsClient.LogsSubscribeMentions(h.program, defaultCommitment)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		res, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		if res == nil || res.Value.Err != nil {
			continue
		}
		h.handleLogLines(ctx, res.Value.Logs)
	}
}

func (h *Handler) handleLogLines(ctx context.Context, lines []string) {
	for _, line := range lines {
		idx := strings.Index(line, intentLogMarker)
		if idx < 0 {
			continue
		}
		payload := strings.TrimSpace(line[idx+len(intentLogMarker):])
		if err := h.handleIntentPayload(ctx, []byte(payload)); err != nil {
			h.log.Error("handle deposit intent log", "err", err)
		}
	}
}

func (h *Handler) handleIntentPayload(ctx context.Context, raw []byte) error {
	in, err := endpoint.DecodeIntent(raw)
	if err != nil {
		return err
	}
	fundingTxHash, err := bitcoin.FundingTxHash(in.FundingTx)
	if err != nil {
		return err
	}
	return h.runner.HandleDepositIntent(ctx, fundingTxHash, in.Reveal.FundingOutputIndex, deposit.L1OutputEvent{
		FundingTx:      in.FundingTx,
		Reveal:         in.Reveal,
		L2DepositOwner: in.L2DepositOwner,
		L2Sender:       in.L2Sender,
	})
}

func (h *Handler) InitializeDeposit(ctx context.Context, d deposit.Deposit) error {
	if err := h.ready(); err != nil {
		return err
	}
	return h.runner.InitializeDeposit(ctx, d)
}

func (h *Handler) FinalizeDeposit(ctx context.Context, d deposit.Deposit) error {
	if err := h.ready(); err != nil {
		return err
	}
	return h.runner.FinalizeDeposit(ctx, d)
}

func (h *Handler) CheckDepositStatus(ctx context.Context, id string) (deposit.Status, bool, error) {
	if err := h.ready(); err != nil {
		return 0, false, err
	}
	return h.runner.CheckDepositStatus(ctx, id)
}

// LatestBlock is the finalized slot.
func (h *Handler) LatestBlock(ctx context.Context) (uint64, error) {
	if err := h.ready(); err != nil {
		return 0, err
	}
	return h.client.GetSlot(ctx, defaultCommitment)
}

func (h *Handler) ProcessInitializeDeposits(ctx context.Context) error {
	if err := h.ready(); err != nil {
		return err
	}
	return h.runner.ProcessInitializeDeposits(ctx)
}

func (h *Handler) ProcessFinalizeDeposits(ctx context.Context) error {
	if err := h.ready(); err != nil {
		return err
	}
	return h.runner.ProcessFinalizeDeposits(ctx)
}

// CheckForPastDeposits walks recent program signatures (newest first) until
// it leaves the requested window, replaying any intent logs it finds.
func (h *Handler) CheckForPastDeposits(ctx context.Context, opts chain.PastDepositsOptions) error {
	if err := h.ready(); err != nil {
		return err
	}
	if opts.PastMinutes <= 0 {
		return fmt.Errorf("%w: pastMinutes must be > 0", chain.ErrInvalidConfig)
	}

	cutoff := h.now().Add(-time.Duration(opts.PastMinutes) * time.Minute).Unix()
	limit := pastSignatureCap
	sigs, err := h.client.GetSignaturesForAddressWithOpts(ctx, h.program, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: defaultCommitment,
	})
	if err != nil {
		return err
	}

	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		if sig.BlockTime != nil && int64(*sig.BlockTime) < cutoff {
			break
		}
		tx, err := h.client.GetTransaction(ctx, sig.Signature, &rpc.GetTransactionOpts{
			Commitment: defaultCommitment,
		})
		if err != nil {
			h.log.Error("fetch past transaction", "signature", sig.Signature, "err", err)
			continue
		}
		if tx == nil || tx.Meta == nil {
			continue
		}
		h.handleLogLines(ctx, tx.Meta.LogMessages)
	}
	return nil
}

var _ chain.Handler = (*Handler)(nil)
