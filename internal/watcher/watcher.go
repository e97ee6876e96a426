// Package watcher runs the periodic sweep that advances positions waiting on
// an external ledger event: deposit detection and confirmation, bridge
// finalization, yield activation, and withdrawal finalization.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/solturn/yieldbridge/internal/domain"
	"github.com/solturn/yieldbridge/internal/observability"
	"github.com/solturn/yieldbridge/internal/service"
)

// sweepLockKey guards the sweep across service instances. An instance that
// fails to take the lock skips the sweep entirely.
const sweepLockKey = "watcher:sweep"

// Config holds the watcher's tunables.
type Config struct {
	SweepInterval time.Duration
	MaxPendingAge time.Duration
	LockTTL       time.Duration
}

// SweepStats accumulates per-sweep statistics. It has no effect on
// correctness; it exists for logging and metrics.
type SweepStats struct {
	Pending              int
	Checks               int
	Detected             int
	Finalized            int
	Cancelled            int
	WithdrawalsCompleted int
	Errors               int
}

// Watcher is the periodic sweep loop. One sweep runs at a time; a sweep that
// outlasts the interval delays the next tick rather than overlapping it.
type Watcher struct {
	positions domain.PositionStore
	orch      *service.Orchestrator
	detector  domain.DepositDetector
	bridge    domain.BridgeFinalizer
	locks     domain.LockManager
	metrics   *observability.Metrics
	cfg       Config
	logger    *slog.Logger
}

// New creates a Watcher with all required dependencies.
func New(
	positions domain.PositionStore,
	orch *service.Orchestrator,
	detector domain.DepositDetector,
	bridge domain.BridgeFinalizer,
	locks domain.LockManager,
	metrics *observability.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Watcher {
	return &Watcher{
		positions: positions,
		orch:      orch,
		detector:  detector,
		bridge:    bridge,
		locks:     locks,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "watcher")),
	}
}

// Run sweeps immediately and then on every tick until the context is
// cancelled. Sweeps never overlap: the loop body blocks the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "watcher started",
		slog.Duration("sweep_interval", w.cfg.SweepInterval),
		slog.Duration("max_pending_age", w.cfg.MaxPendingAge),
	)

	w.Sweep(ctx)

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every position awaiting an external event. The
// sweep is guarded by a distributed lock; when another instance holds it the
// sweep is skipped. Per-position errors are isolated: they are counted and
// logged but never halt the sweep for other positions.
func (w *Watcher) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats

	unlock, err := w.locks.Acquire(ctx, sweepLockKey, w.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			w.metrics.SweepSkipped.Inc()
			w.logger.DebugContext(ctx, "sweep skipped: lock held by another instance")
			return stats
		}
		w.metrics.SweepErrors.Inc()
		w.logger.ErrorContext(ctx, "sweep lock acquisition failed",
			slog.String("error", err.Error()),
		)
		return stats
	}
	defer unlock()

	started := time.Now()

	// bridging_to_near is deliberately part of the selection: a position
	// advanced on an unconfirmed detection is revisited every sweep until
	// the payment confirms and finalizes.
	pending, err := w.positions.ListByStatus(ctx,
		domain.StatusPendingDeposit,
		domain.StatusBridgingToNear,
		domain.StatusBridgingToZcash,
	)
	if err != nil {
		w.metrics.SweepErrors.Inc()
		w.logger.ErrorContext(ctx, "sweep selection failed",
			slog.String("error", err.Error()),
		)
		return stats
	}
	stats.Pending = len(pending)

	for _, pos := range pending {
		select {
		case <-ctx.Done():
			return stats
		default:
		}

		switch pos.Status {
		case domain.StatusPendingDeposit, domain.StatusBridgingToNear:
			w.sweepDeposit(ctx, pos, &stats)
		case domain.StatusBridgingToZcash:
			w.sweepWithdrawal(ctx, pos, &stats)
		}
	}

	elapsed := time.Since(started)
	w.metrics.SweepsTotal.Inc()
	w.metrics.SweepDuration.Observe(elapsed.Seconds())
	w.metrics.ChecksTotal.Add(float64(stats.Checks))
	w.metrics.DepositsDetected.Add(float64(stats.Detected))
	w.metrics.DepositsFinalized.Add(float64(stats.Finalized))
	w.metrics.PositionsCancelled.Add(float64(stats.Cancelled))
	w.metrics.WithdrawalsCompleted.Add(float64(stats.WithdrawalsCompleted))
	w.metrics.SweepErrors.Add(float64(stats.Errors))
	w.metrics.PendingPositions.Set(float64(stats.Pending))

	if stats.Pending > 0 || stats.Errors > 0 {
		w.logger.InfoContext(ctx, "sweep finished",
			slog.Int("pending", stats.Pending),
			slog.Int("checks", stats.Checks),
			slog.Int("detected", stats.Detected),
			slog.Int("finalized", stats.Finalized),
			slog.Int("cancelled", stats.Cancelled),
			slog.Int("withdrawals_completed", stats.WithdrawalsCompleted),
			slog.Int("errors", stats.Errors),
			slog.Duration("elapsed", elapsed),
		)
	}

	return stats
}

// sweepDeposit advances one position on the deposit leg.
func (w *Watcher) sweepDeposit(ctx context.Context, pos domain.Position, stats *SweepStats) {
	if pos.Watch == nil || pos.Watch.Kind != domain.WatchDeposit || pos.Watch.BridgeAddress == "" {
		w.logger.WarnContext(ctx, "position missing deposit bookkeeping",
			slog.String("position_id", pos.ID),
			slog.String("status", string(pos.Status)),
		)
		return
	}

	// Age out positions that never saw a payment. A detected-but-unconfirmed
	// deposit (bridging_to_near) is past cancellation: funds are on the way.
	if pos.Status == domain.StatusPendingDeposit {
		if age := time.Since(pos.Watch.CreatedAt); age > w.cfg.MaxPendingAge {
			if err := w.orch.CancelExpired(ctx, pos.ID, age); err != nil {
				stats.Errors++
				w.logger.ErrorContext(ctx, "cancel expired position failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			stats.Cancelled++
			return
		}
	}

	stats.Checks++
	deposits, err := w.detector.DetectDeposits(ctx, pos.Watch.BridgeAddress, pos.Watch.MinAmount)
	if err != nil {
		stats.Errors++
		w.logger.WarnContext(ctx, "deposit detection failed",
			slog.String("position_id", pos.ID),
			slog.String("bridge_address", pos.Watch.BridgeAddress),
			slog.String("error", err.Error()),
		)
		return
	}

	if len(deposits) == 0 {
		w.touch(ctx, pos)
		return
	}
	stats.Detected++

	// Prefer a confirmed payment; otherwise take the first match and record
	// progress while confirmations accumulate.
	dep := deposits[0]
	for _, d := range deposits {
		if d.Confirmed {
			dep = d
			break
		}
	}

	if !dep.Confirmed {
		if pos.Status == domain.StatusPendingDeposit {
			if err := w.orch.MarkDepositObserved(ctx, pos.ID, dep.TxRef, dep.Amount); err != nil {
				stats.Errors++
				w.logger.ErrorContext(ctx, "mark deposit observed failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		// Already observed; only the bookkeeping moves.
		w.touch(ctx, pos)
		return
	}

	// Record the observation before finalizing so the deposit bridge leg
	// exists even if finalization fails and is retried next sweep.
	if pos.Status == domain.StatusPendingDeposit {
		if err := w.orch.MarkDepositObserved(ctx, pos.ID, dep.TxRef, dep.Amount); err != nil {
			stats.Errors++
			w.logger.ErrorContext(ctx, "mark deposit observed failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	res, err := w.bridge.FinalizeDeposit(ctx, pos.OwnerAddress, dep.TxRef, dep.OutputIndex, pos.Watch.EncodedArgs)
	if err != nil {
		stats.Errors++
		w.logger.WarnContext(ctx, "bridge finalization failed",
			slog.String("position_id", pos.ID),
			slog.String("tx_ref", dep.TxRef),
			slog.String("error", err.Error()),
		)
		w.touch(ctx, pos)
		return
	}

	if err := w.orch.ActivateYield(ctx, pos.ID, res.MintedAmount, res.DestinationTxRef); err != nil {
		stats.Errors++
		w.logger.ErrorContext(ctx, "yield activation failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	stats.Finalized++
}

// sweepWithdrawal polls one in-flight reverse transfer.
func (w *Watcher) sweepWithdrawal(ctx context.Context, pos domain.Position, stats *SweepStats) {
	stats.Checks++
	completed, err := w.orch.ProcessWithdrawal(ctx, pos.ID)
	if err != nil {
		stats.Errors++
		w.logger.WarnContext(ctx, "withdrawal poll failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if completed {
		stats.WithdrawalsCompleted++
	}
}

// touch bumps the last-checked bookkeeping for a position that was examined
// but not advanced. A conflict means another writer advanced it; that is
// fine, the bookkeeping is best effort.
func (w *Watcher) touch(ctx context.Context, pos domain.Position) {
	if pos.Watch == nil {
		return
	}
	now := time.Now().UTC()
	pos.Watch.LastCheckedAt = &now
	pos.Watch.CheckCount++

	if err := w.positions.UpdateGuarded(ctx, pos, pos.Status); err != nil && !errors.Is(err, domain.ErrStatusConflict) {
		w.logger.WarnContext(ctx, "bookkeeping update failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}
