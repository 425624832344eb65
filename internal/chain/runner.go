package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/depositid"
)

// RevertError marks a pre-flight or mined-with-revert failure. The reason is
// persisted on the record for operators; everything else is treated as
// transient and retried silently.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "Unknown error"
	}
	return e.Reason
}

// Ceremony executes the two L1 ceremony calls and reads back on-chain status.
// All destination chains settle on the same L1, so one implementation serves
// every handler.
type Ceremony interface {
	InitializeDeposit(ctx context.Context, d deposit.Deposit) (txHash string, err error)
	FinalizeDeposit(ctx context.Context, d deposit.Deposit) (txHash string, err error)
	DepositStatus(ctx context.Context, id string) (deposit.Status, bool, error)
}

// Runner is the chain-agnostic half of a handler: the per-deposit state
// machine, the reconcile passes and the activity throttle. Handlers supply
// event observation; the Runner does the rest.
type Runner struct {
	chainName string
	store     deposit.Store
	ceremony  Ceremony
	locks     *KeyedMutex
	log       *slog.Logger
	now       func() time.Time
}

func NewRunner(chainName string, store deposit.Store, ceremony Ceremony, log *slog.Logger, now func() time.Time) (*Runner, error) {
	if chainName == "" {
		return nil, fmt.Errorf("%w: empty chain name", ErrInvalidConfig)
	}
	if store == nil || ceremony == nil {
		return nil, fmt.Errorf("%w: nil store or ceremony", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if now == nil {
		now = time.Now
	}
	return &Runner{
		chainName: chainName,
		store:     store,
		ceremony:  ceremony,
		locks:     NewKeyedMutex(),
		log:       log.With("chain", chainName),
		now:       now,
	}, nil
}

func (r *Runner) ChainName() string { return r.chainName }

// HandleDepositIntent records a newly observed deposit intent and immediately
// attempts the initialize ceremony. Duplicate intents for the same id are
// no-ops at the store; the pre-flight keeps the follow-up call safe.
func (r *Runner) HandleDepositIntent(ctx context.Context, fundingTxHash string, outputIndex uint32, ev deposit.L1OutputEvent) error {
	id, err := depositid.FromFundingTx(fundingTxHash, outputIndex)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	d := deposit.NewQueued(id, fundingTxHash, outputIndex, ev, r.now())
	created, err := r.store.Create(ctx, d)
	if err != nil {
		return err
	}
	if created {
		r.log.Info("queued deposit", "id", id, "fundingTxHash", fundingTxHash, "outputIndex", outputIndex)
	}

	cur, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status != deposit.StatusQueued {
		return nil
	}
	return r.initializeLocked(ctx, cur)
}

// HandleMintingFinalized reacts to the vault's OptimisticMintingFinalized
// signal. Deposits this instance never relayed are ignored.
func (r *Runner) HandleMintingFinalized(ctx context.Context, depositKey string) error {
	unlock := r.locks.Lock(depositKey)
	defer unlock()

	d, err := r.store.Get(ctx, depositKey)
	if err != nil {
		if errors.Is(err, deposit.ErrNotFound) {
			return nil
		}
		return err
	}
	if d.Status != deposit.StatusInitialized {
		return nil
	}
	return r.finalizeLocked(ctx, d)
}

// InitializeDeposit drives one deposit through the initialize ceremony.
func (r *Runner) InitializeDeposit(ctx context.Context, d deposit.Deposit) error {
	unlock := r.locks.Lock(d.ID)
	defer unlock()

	cur, err := r.store.Get(ctx, d.ID)
	if err != nil {
		return err
	}
	if cur.Status != deposit.StatusQueued {
		return nil
	}
	return r.initializeLocked(ctx, cur)
}

// FinalizeDeposit drives one deposit through the finalize ceremony.
func (r *Runner) FinalizeDeposit(ctx context.Context, d deposit.Deposit) error {
	unlock := r.locks.Lock(d.ID)
	defer unlock()

	cur, err := r.store.Get(ctx, d.ID)
	if err != nil {
		return err
	}
	if cur.Status != deposit.StatusInitialized {
		return nil
	}
	return r.finalizeLocked(ctx, cur)
}

func (r *Runner) CheckDepositStatus(ctx context.Context, id string) (deposit.Status, bool, error) {
	return r.ceremony.DepositStatus(ctx, id)
}

// ProcessInitializeDeposits scans QUEUED records and nudges each forward.
// This is the reconcile path that recovers from missed events, restarts and
// races with other relayers.
func (r *Runner) ProcessInitializeDeposits(ctx context.Context) error {
	queued, err := r.store.ListByStatus(ctx, deposit.StatusQueued)
	if err != nil {
		return err
	}

	for _, d := range queued {
		if !deposit.EligibleForRetry(d, r.now()) {
			continue
		}
		if err := r.reconcileQueued(ctx, d.ID); err != nil {
			r.log.Error("reconcile queued deposit", "id", d.ID, "err", err)
		}
	}
	return nil
}

// ProcessFinalizeDeposits scans INITIALIZED records and nudges each forward.
func (r *Runner) ProcessFinalizeDeposits(ctx context.Context) error {
	initialized, err := r.store.ListByStatus(ctx, deposit.StatusInitialized)
	if err != nil {
		return err
	}

	for _, d := range initialized {
		if !deposit.EligibleForRetry(d, r.now()) {
			continue
		}
		if err := r.reconcileInitialized(ctx, d.ID); err != nil {
			r.log.Error("reconcile initialized deposit", "id", d.ID, "err", err)
		}
	}
	return nil
}

func (r *Runner) reconcileQueued(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	d, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != deposit.StatusQueued {
		return nil
	}

	// Bump first so a failure further down still spaces out retries.
	d = deposit.Touch(d, r.now())
	if err := r.store.Put(ctx, d); err != nil {
		return err
	}

	status, known, err := r.ceremony.DepositStatus(ctx, d.ID)
	if err != nil {
		return err
	}
	if !known {
		r.log.Warn("unmappable on-chain status, skipping", "id", d.ID)
		return nil
	}

	switch status {
	case deposit.StatusQueued:
		return r.initializeLocked(ctx, d)
	case deposit.StatusInitialized:
		// The contract already saw an initialize we have no hash for.
		updated, err := deposit.MarkInitialized(d, "", r.now())
		if err != nil {
			return err
		}
		r.log.Info("deposit already initialized on chain", "id", d.ID)
		return r.store.Put(ctx, updated)
	case deposit.StatusFinalized:
		updated, err := deposit.MarkFinalized(d, "", r.now())
		if err != nil {
			return err
		}
		r.log.Info("deposit already finalized on chain", "id", d.ID)
		return r.store.Put(ctx, updated)
	default:
		r.log.Warn("unexpected on-chain status", "id", d.ID, "status", status)
		return nil
	}
}

func (r *Runner) reconcileInitialized(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	d, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != deposit.StatusInitialized {
		return nil
	}

	d = deposit.Touch(d, r.now())
	if err := r.store.Put(ctx, d); err != nil {
		return err
	}

	status, known, err := r.ceremony.DepositStatus(ctx, d.ID)
	if err != nil {
		return err
	}
	if !known {
		r.log.Warn("unmappable on-chain status, skipping", "id", d.ID)
		return nil
	}

	switch status {
	case deposit.StatusInitialized:
		return r.finalizeLocked(ctx, d)
	case deposit.StatusFinalized:
		updated, err := deposit.MarkFinalized(d, "", r.now())
		if err != nil {
			return err
		}
		r.log.Info("deposit already finalized on chain", "id", d.ID)
		return r.store.Put(ctx, updated)
	default:
		r.log.Warn("unexpected on-chain status", "id", d.ID, "status", status)
		return nil
	}
}

// initializeLocked runs the initialize ceremony. The caller holds the id
// lock and has verified status == QUEUED.
func (r *Runner) initializeLocked(ctx context.Context, d deposit.Deposit) error {
	txHash, err := r.ceremony.InitializeDeposit(ctx, d)
	if err != nil {
		return r.recordCeremonyFailure(ctx, d, "initialize", err)
	}

	updated, err := deposit.MarkInitialized(d, txHash, r.now())
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, updated); err != nil {
		return err
	}
	r.log.Info("deposit initialized", "id", d.ID, "txHash", txHash)
	return nil
}

// finalizeLocked runs the finalize ceremony. The caller holds the id lock
// and has verified status == INITIALIZED.
func (r *Runner) finalizeLocked(ctx context.Context, d deposit.Deposit) error {
	txHash, err := r.ceremony.FinalizeDeposit(ctx, d)
	if err != nil {
		return r.recordCeremonyFailure(ctx, d, "finalize", err)
	}

	updated, err := deposit.MarkFinalized(d, txHash, r.now())
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, updated); err != nil {
		return err
	}
	r.log.Info("deposit finalized", "id", d.ID, "txHash", txHash)
	return nil
}

// recordCeremonyFailure persists revert reasons for operators; transient
// failures only bump activity so the throttle paces the retry.
func (r *Runner) recordCeremonyFailure(ctx context.Context, d deposit.Deposit, op string, cause error) error {
	var revert *RevertError
	if errors.As(cause, &revert) {
		failed := deposit.RecordFailure(d, revert.Reason, r.now())
		if err := r.store.Put(ctx, failed); err != nil {
			return err
		}
		r.log.Warn("ceremony call reverted", "op", op, "id", d.ID, "reason", revert.Reason)
		return nil
	}

	touched := deposit.Touch(d, r.now())
	if err := r.store.Put(ctx, touched); err != nil {
		return err
	}
	return fmt.Errorf("chain: %s deposit %s: %w", op, d.ID, cause)
}
