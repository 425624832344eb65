// Package endpoint implements destination chains whose deposit intents
// arrive through an off-chain feed rather than a direct L2 subscription.
// Starknet and Sui run in this mode: the gateway on the destination chain
// publishes each intent to a queue topic, and the L1 ceremony is identical
// to every other chain.
package endpoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/bitcoin"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain/l1"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/queue"
)

const vaultRetryDelay = 5 * time.Second

type Handler struct {
	cfg      chain.Config
	store    deposit.Store
	consumer queue.Consumer
	log      *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	initialized bool
	runner      *chain.Runner
	l1c         *l1.Client
}

// NewHandler builds an endpoint-mode handler. The consumer delivers
// IntentV1 messages; its lifecycle belongs to the caller.
func NewHandler(cfg chain.Config, store deposit.Store, consumer queue.Consumer, log *slog.Logger) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.UseEndpoint {
		return nil, fmt.Errorf("%w: endpoint handler requires useEndpoint", chain.ErrInvalidConfig)
	}
	if store == nil || consumer == nil {
		return nil, fmt.Errorf("%w: nil store or consumer", chain.ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		cfg:      cfg,
		store:    store,
		consumer: consumer,
		log:      log.With("chain", cfg.ChainName),
		now:      time.Now,
	}, nil
}

func (h *Handler) ChainName() string { return h.cfg.ChainName }

// SupportsPastDepositCheck is false: an off-chain feed has no block history
// to rescan.
func (h *Handler) SupportsPastDepositCheck() bool { return false }

func (h *Handler) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initialized {
		return nil
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
	go h.consumeIntents(ctx)
	go l1.WatchMintingFinalizedLoop(ctx, h.l1c, vaultRetryDelay, h.log, func(ev l1.MintingFinalized) {
		if err := h.runner.HandleMintingFinalized(ctx, ev.DepositKey); err != nil {
			h.log.Error("handle OptimisticMintingFinalized", "depositKey", ev.DepositKey, "err", err)
		}
	})
	return nil
}

func (h *Handler) consumeIntents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-h.consumer.Errors():
			if !ok {
				return
			}
			h.log.Error("intent feed error", "err", err)
		case msg, ok := <-h.consumer.Messages():
			if !ok {
				return
			}
			if err := h.handleIntentMessage(ctx, msg); err != nil {
				h.log.Error("handle deposit intent", "topic", msg.Topic, "err", err)
				continue
			}
			if err := msg.Ack(ctx); err != nil {
				h.log.Error("ack deposit intent", "topic", msg.Topic, "err", err)
			}
		}
	}
}

func (h *Handler) handleIntentMessage(ctx context.Context, msg queue.Message) error {
	in, err := DecodeIntent(msg.Value)
	if err != nil {
		return err
	}
	fundingTxHash, err := bitcoin.FundingTxHash(in.FundingTx)
	if err != nil {
		return err
	}
	return h.runner.HandleDepositIntent(ctx, fundingTxHash, in.Reveal.FundingOutputIndex, in.event())
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

// LatestBlock is 0: the feed carries no chain-height notion.
func (h *Handler) LatestBlock(context.Context) (uint64, error) { return 0, nil }

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

// CheckForPastDeposits is a no-op in endpoint mode.
func (h *Handler) CheckForPastDeposits(context.Context, chain.PastDepositsOptions) error {
	return nil
}

var _ chain.Handler = (*Handler)(nil)
