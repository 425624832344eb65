// Package evm implements the reference destination-chain handler: an EVM
// rollup whose L2BitcoinDepositor is observed directly over JSON-RPC.
package evm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/bitcoin"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain/l1"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

const resubscribeDelay = 5 * time.Second

// L2Backend is the slice of an EVM client the handler needs on the
// destination chain.
type L2Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

type Handler struct {
	cfg   chain.Config
	store deposit.Store
	log   *slog.Logger
	now   func() time.Time

	mu          sync.Mutex
	initialized bool

	runner      *chain.Runner
	l1c         *l1.Client
	l2          L2Backend
	l2Depositor common.Address
}

func NewHandler(cfg chain.Config, store deposit.Store, log *slog.Logger) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ChainType != chain.TypeEVM {
		return nil, fmt.Errorf("%w: evm handler got %q", chain.ErrInvalidConfig, cfg.ChainType)
	}
	if cfg.UseEndpoint {
		return nil, fmt.Errorf("%w: evm handler observes L2 directly", chain.ErrInvalidConfig)
	}
	if cfg.L2ContractAddress == "" {
		return nil, fmt.Errorf("%w: l2ContractAddress is required", chain.ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", chain.ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := loadL2ABI(); err != nil {
		return nil, err
	}
	return &Handler{
		cfg:   cfg,
		store: store,
		log:   log.With("chain", cfg.ChainName),
		now:   time.Now,
	}, nil
}

func (h *Handler) ChainName() string { return h.cfg.ChainName }

func (h *Handler) SupportsPastDepositCheck() bool { return true }

// Initialize dials both providers and binds contracts. Safe to call twice.
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

	l2Client, err := ethclient.DialContext(ctx, h.cfg.L2RPC)
	if err != nil {
		return fmt.Errorf("evm: dial l2: %w", err)
	}

	runner, err := chain.NewRunner(h.cfg.ChainName, h.store, l1c, h.log, h.now)
	if err != nil {
		return err
	}

	h.l1c = l1c
	h.l2 = l2Client
	h.l2Depositor = common.HexToAddress(h.cfg.L2ContractAddress)
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

// SetupListeners starts the L2 deposit subscription and the L1 vault
// subscription. Both reconnect until ctx is canceled.
func (h *Handler) SetupListeners(ctx context.Context) error {
	if err := h.ready(); err != nil {
		return err
	}
	go h.listenDeposits(ctx)
	go h.listenVault(ctx)
	return nil
}

func (h *Handler) listenDeposits(ctx context.Context) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{h.l2Depositor},
		Topics:    [][]common.Hash{{depositInitializedTopic()}},
	}

	for ctx.Err() == nil {
		logs := make(chan types.Log, 16)
		sub, err := h.l2.SubscribeFilterLogs(ctx, q, logs)
		if err != nil {
			h.log.Error("subscribe DepositInitialized", "err", err)
			if sleepErr := sleepCtx(ctx, resubscribeDelay); sleepErr != nil {
				return
			}
			continue
		}

		if err := h.consumeDeposits(ctx, sub, logs); err != nil && ctx.Err() == nil {
			h.log.Error("DepositInitialized subscription dropped", "err", err)
		}
		sub.Unsubscribe()
	}
}

func (h *Handler) consumeDeposits(ctx context.Context, sub ethereum.Subscription, logs <-chan types.Log) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case lg := <-logs:
			if err := h.handleDepositLog(ctx, lg); err != nil {
				h.log.Error("handle DepositInitialized", "txHash", lg.TxHash, "err", err)
			}
		}
	}
}

func (h *Handler) listenVault(ctx context.Context) {
	l1.WatchMintingFinalizedLoop(ctx, h.l1c, resubscribeDelay, h.log, func(ev l1.MintingFinalized) {
		if err := h.runner.HandleMintingFinalized(ctx, ev.DepositKey); err != nil {
			h.log.Error("handle OptimisticMintingFinalized", "depositKey", ev.DepositKey, "err", err)
		}
	})
}

func (h *Handler) handleDepositLog(ctx context.Context, lg types.Log) error {
	ev, err := decodeDepositInitialized(lg)
	if err != nil {
		return err
	}
	fundingTxHash, err := bitcoin.FundingTxHash(ev.FundingTx)
	if err != nil {
		return err
	}
	return h.runner.HandleDepositIntent(ctx, fundingTxHash, ev.Reveal.FundingOutputIndex, ev)
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

func (h *Handler) LatestBlock(ctx context.Context) (uint64, error) {
	if err := h.ready(); err != nil {
		return 0, err
	}
	return h.l2.BlockNumber(ctx)
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

// CheckForPastDeposits replays DepositInitialized events from the recent
// past. Intents already known to the store dedupe at creation.
func (h *Handler) CheckForPastDeposits(ctx context.Context, opts chain.PastDepositsOptions) error {
	if err := h.ready(); err != nil {
		return err
	}
	if opts.PastMinutes <= 0 {
		return fmt.Errorf("%w: pastMinutes must be > 0", chain.ErrInvalidConfig)
	}

	latest := opts.LatestBlock
	if latest == 0 {
		var err error
		latest, err = h.l2.BlockNumber(ctx)
		if err != nil {
			return err
		}
	}

	target := h.now().Add(-time.Duration(opts.PastMinutes) * time.Minute)
	rng, err := blockRangeSince(ctx, h.l2, h.cfg.L2StartBlock, latest, target)
	if err != nil {
		return err
	}

	logs, err := h.l2.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(rng.StartBlock),
		ToBlock:   new(big.Int).SetUint64(rng.EndBlock),
		Addresses: []common.Address{h.l2Depositor},
		Topics:    [][]common.Hash{{depositInitializedTopic()}},
	})
	if err != nil {
		return err
	}

	for _, lg := range logs {
		if err := h.handleDepositLog(ctx, lg); err != nil {
			h.log.Error("backfill DepositInitialized", "txHash", lg.TxHash, "err", err)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ chain.Handler = (*Handler)(nil)
