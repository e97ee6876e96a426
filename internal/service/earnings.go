package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/solturn/yieldbridge/internal/domain"
)

// EarningsRefresher periodically re-snapshots the pool APY and recomputes
// earnings for every lending_active position.
type EarningsRefresher struct {
	orch      *Orchestrator
	positions domain.PositionStore
	interval  time.Duration
	logger    *slog.Logger
}

// NewEarningsRefresher creates an EarningsRefresher running at the given
// interval.
func NewEarningsRefresher(orch *Orchestrator, positions domain.PositionStore, interval time.Duration, logger *slog.Logger) *EarningsRefresher {
	return &EarningsRefresher{
		orch:      orch,
		positions: positions,
		interval:  interval,
		logger:    logger.With(slog.String("component", "earnings")),
	}
}

// Run refreshes immediately and then on every tick until the context is
// cancelled.
func (r *EarningsRefresher) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "earnings refresher started",
		slog.Duration("interval", r.interval),
	)

	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "earnings refresher stopped")
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh runs one cycle. Per-position errors are logged and do not stop the
// cycle for other positions.
func (r *EarningsRefresher) refresh(ctx context.Context) {
	if _, err := r.orch.RefreshProtocolInfo(ctx); err != nil {
		r.logger.WarnContext(ctx, "protocol info refresh failed",
			slog.String("error", err.Error()),
		)
	}

	active, err := r.positions.ListByStatus(ctx, domain.StatusLendingActive)
	if err != nil {
		r.logger.ErrorContext(ctx, "list active positions failed",
			slog.String("error", err.Error()),
		)
		return
	}

	var updated, failed int
	for _, pos := range active {
		if err := r.orch.UpdateEarnings(ctx, pos.ID); err != nil {
			failed++
			r.logger.WarnContext(ctx, "earnings update failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		updated++
	}

	if len(active) > 0 {
		r.logger.InfoContext(ctx, "earnings cycle finished",
			slog.Int("active", len(active)),
			slog.Int("updated", updated),
			slog.Int("failed", failed),
		)
	}
}
