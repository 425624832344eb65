// Package reconciler drives the periodic loops that push every persisted
// deposit toward FINALIZED: the initialize pass, the finalize pass, the
// historical past-deposit scan, and the archival sweep.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/archive"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

var ErrInvalidConfig = errors.New("reconciler: invalid config")

type Config struct {
	// InitializeInterval paces the QUEUED pass.
	InitializeInterval time.Duration
	// FinalizeInterval paces the INITIALIZED pass.
	FinalizeInterval time.Duration
	// PastScanInterval paces the historical scan for handlers that support it.
	PastScanInterval time.Duration
	// PastMinutes is the backfill window handed to each scan.
	PastMinutes int

	// ArchiveInterval paces the finalized-record export. Zero disables it
	// even when an archiver is configured.
	ArchiveInterval time.Duration
}

// Reconciler owns the periodic jobs for a set of chain handlers sharing one
// deposit store. Any per-tick error is logged and the next tick proceeds.
type Reconciler struct {
	cfg      Config
	handlers []chain.Handler
	store    deposit.Store
	archiver archive.Archiver
	log      *slog.Logger
}

func New(cfg Config, handlers []chain.Handler, store deposit.Store, archiver archive.Archiver, log *slog.Logger) (*Reconciler, error) {
	if len(handlers) == 0 {
		return nil, fmt.Errorf("%w: no handlers", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if cfg.InitializeInterval <= 0 {
		cfg.InitializeInterval = time.Minute
	}
	if cfg.FinalizeInterval <= 0 {
		cfg.FinalizeInterval = time.Minute
	}
	if cfg.PastScanInterval <= 0 {
		cfg.PastScanInterval = 10 * time.Minute
	}
	if cfg.PastMinutes <= 0 {
		cfg.PastMinutes = 60
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{
		cfg:      cfg,
		handlers: handlers,
		store:    store,
		archiver: archiver,
		log:      log,
	}, nil
}

// Run blocks until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, h := range r.handlers {
		h := h

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx, r.cfg.InitializeInterval, func(ctx context.Context) error {
				return h.ProcessInitializeDeposits(ctx)
			}, h.ChainName()+" initialize")
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx, r.cfg.FinalizeInterval, func(ctx context.Context) error {
				return h.ProcessFinalizeDeposits(ctx)
			}, h.ChainName()+" finalize")
		}()

		if h.SupportsPastDepositCheck() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.loop(ctx, r.cfg.PastScanInterval, func(ctx context.Context) error {
					return r.pastScan(ctx, h)
				}, h.ChainName()+" past-scan")
			}()
		}
	}

	if r.archiver != nil && r.cfg.ArchiveInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx, r.cfg.ArchiveInterval, r.archiveFinalized, "archive")
		}()
	}

	wg.Wait()
}

// loop ticks until cancellation; a tick never kills the loop.
func (r *Reconciler) loop(ctx context.Context, interval time.Duration, tick func(context.Context) error, name string) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := tick(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("reconcile tick failed", "loop", name, "err", err)
			}
		}
	}
}

func (r *Reconciler) pastScan(ctx context.Context, h chain.Handler) error {
	latest, err := h.LatestBlock(ctx)
	if err != nil {
		return err
	}
	return h.CheckForPastDeposits(ctx, chain.PastDepositsOptions{
		PastMinutes: r.cfg.PastMinutes,
		LatestBlock: latest,
	})
}

// archiveFinalized exports FINALIZED records not yet in the archive. A
// failed export is retried on the next sweep.
func (r *Reconciler) archiveFinalized(ctx context.Context) error {
	finalized, err := r.store.ListByStatus(ctx, deposit.StatusFinalized)
	if err != nil {
		return err
	}

	for _, d := range finalized {
		key := d.ID + ".json"
		ok, err := r.archiver.Exists(ctx, key)
		if err != nil {
			r.log.Error("archive existence check", "id", d.ID, "err", err)
			continue
		}
		if ok {
			continue
		}

		payload, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			r.log.Error("archive marshal", "id", d.ID, "err", err)
			continue
		}
		if err := r.archiver.Put(ctx, key, payload); err != nil {
			r.log.Error("archive export", "id", d.ID, "err", err)
			continue
		}
		r.log.Info("archived finalized deposit", "id", d.ID)
	}
	return nil
}
