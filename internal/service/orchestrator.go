// Package service contains the orchestrator that drives positions through
// the deposit-to-withdrawal cycle, and the periodic earnings refresher.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solturn/yieldbridge/internal/domain"
)

const (
	// eventsChannel carries ephemeral position events for live subscribers.
	eventsChannel = "positions"
	// eventsStream is the durable journal of the same events.
	eventsStream = "positions:events"

	protocolInfoTTL = 15 * time.Minute
)

// Orchestrator exposes the operations that create positions, drive bridging
// and yield activation, and answer queries. Every mutation is validated
// before anything is persisted, and every status change goes through a
// conditional update so a concurrent writer loses cleanly instead of
// double-applying a transition.
type Orchestrator struct {
	positions domain.PositionStore
	audit     domain.AuditStore
	quotes    domain.QuoteCache
	bus       domain.SignalBus
	bridge    domain.BridgeFinalizer
	pool      domain.YieldPool
	logger    *slog.Logger

	defaultPoolID string
	// tolerancePercent is the downward tolerance applied to the deposited
	// amount when computing the minimum the watcher will accept.
	tolerancePercent float64
	quoteTTL         time.Duration
}

// NewOrchestrator creates an Orchestrator with all required dependencies.
func NewOrchestrator(
	positions domain.PositionStore,
	audit domain.AuditStore,
	quotes domain.QuoteCache,
	bus domain.SignalBus,
	bridge domain.BridgeFinalizer,
	pool domain.YieldPool,
	defaultPoolID string,
	tolerancePercent float64,
	quoteTTL time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		positions:        positions,
		audit:            audit,
		quotes:           quotes,
		bus:              bus,
		bridge:           bridge,
		pool:             pool,
		defaultPoolID:    defaultPoolID,
		tolerancePercent: tolerancePercent,
		quoteTTL:         quoteTTL,
		logger:           logger,
	}
}

// protocolInfo returns the protocol terms, preferring the cached snapshot and
// falling back to a live pool call that refreshes the cache.
func (o *Orchestrator) protocolInfo(ctx context.Context) (domain.ProtocolInfo, error) {
	info, err := o.quotes.GetProtocolInfo(ctx)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		o.logger.WarnContext(ctx, "orchestrator: protocol info cache read failed",
			slog.String("error", err.Error()),
		)
	}

	info, err = o.pool.GetProtocolInfo(ctx)
	if err != nil {
		return domain.ProtocolInfo{}, fmt.Errorf("orchestrator: protocol info: %w", err)
	}
	if cacheErr := o.quotes.PutProtocolInfo(ctx, info, protocolInfoTTL); cacheErr != nil {
		o.logger.WarnContext(ctx, "orchestrator: protocol info cache write failed",
			slog.String("error", cacheErr.Error()),
		)
	}
	return info, nil
}

// RefreshProtocolInfo fetches the protocol terms from the pool and refreshes
// the cached snapshot. The earnings loop calls it once per cycle.
func (o *Orchestrator) RefreshProtocolInfo(ctx context.Context) (domain.ProtocolInfo, error) {
	info, err := o.pool.GetProtocolInfo(ctx)
	if err != nil {
		return domain.ProtocolInfo{}, fmt.Errorf("orchestrator: refresh protocol info: %w", err)
	}
	if cacheErr := o.quotes.PutProtocolInfo(ctx, info, protocolInfoTTL); cacheErr != nil {
		o.logger.WarnContext(ctx, "orchestrator: protocol info cache write failed",
			slog.String("error", cacheErr.Error()),
		)
	}
	return info, nil
}

// GetDepositQuote validates the request and asks the bridge for a deposit
// address and terms. The quote is cached by intent ID so CreatePosition can
// reuse the exact address the user was shown.
func (o *Orchestrator) GetDepositQuote(ctx context.Context, ownerAddress string, amount float64) (domain.DepositQuote, error) {
	if !domain.ValidZcashAddress(ownerAddress) {
		return domain.DepositQuote{}, fmt.Errorf("orchestrator: quote for %q: %w", ownerAddress, domain.ErrInvalidAddress)
	}
	if amount <= 0 {
		return domain.DepositQuote{}, fmt.Errorf("orchestrator: quote amount %g: %w", amount, domain.ErrInvalidAmount)
	}

	info, err := o.protocolInfo(ctx)
	if err != nil {
		return domain.DepositQuote{}, err
	}
	if amount < info.MinDeposit || (info.MaxDeposit > 0 && amount > info.MaxDeposit) {
		return domain.DepositQuote{}, fmt.Errorf("orchestrator: amount %g outside protocol bounds [%g, %g]: %w",
			amount, info.MinDeposit, info.MaxDeposit, domain.ErrOutOfRange)
	}

	quote, err := o.bridge.GetDepositQuote(ctx, ownerAddress, amount)
	if err != nil {
		return domain.DepositQuote{}, fmt.Errorf("orchestrator: deposit quote: %w", err)
	}

	if cacheErr := o.quotes.PutQuote(ctx, quote, o.quoteTTL); cacheErr != nil {
		o.logger.WarnContext(ctx, "orchestrator: quote cache write failed",
			slog.String("intent_id", quote.IntentID),
			slog.String("error", cacheErr.Error()),
		)
	}

	return quote, nil
}

// CreatePosition persists a new position in pending_deposit together with
// the watcher bookkeeping needed to later detect and finalize the deposit.
// When the caller supplies a quote, its bridge address is reused verbatim so
// the address the user was shown matches what the watcher expects; a fresh
// quote is generated only when none was supplied.
func (o *Orchestrator) CreatePosition(ctx context.Context, ownerAddress string, amount float64, quote *domain.DepositQuote, poolID string) (domain.Position, error) {
	if !domain.ValidZcashAddress(ownerAddress) {
		return domain.Position{}, fmt.Errorf("orchestrator: create for %q: %w", ownerAddress, domain.ErrInvalidAddress)
	}
	if amount <= 0 {
		return domain.Position{}, fmt.Errorf("orchestrator: create amount %g: %w", amount, domain.ErrInvalidAmount)
	}

	info, err := o.protocolInfo(ctx)
	if err != nil {
		return domain.Position{}, err
	}
	if amount < info.MinDeposit || (info.MaxDeposit > 0 && amount > info.MaxDeposit) {
		return domain.Position{}, fmt.Errorf("orchestrator: amount %g outside protocol bounds [%g, %g]: %w",
			amount, info.MinDeposit, info.MaxDeposit, domain.ErrOutOfRange)
	}

	if quote == nil {
		fresh, quoteErr := o.bridge.GetDepositQuote(ctx, ownerAddress, amount)
		if quoteErr != nil {
			return domain.Position{}, fmt.Errorf("orchestrator: fresh deposit quote: %w", quoteErr)
		}
		quote = &fresh
	}

	if poolID == "" {
		poolID = o.defaultPoolID
	}

	now := time.Now().UTC()
	minAccepted := amount * (1 - o.tolerancePercent/100)

	pos := domain.Position{
		ID:              uuid.New().String(),
		OwnerAddress:    ownerAddress,
		Status:          domain.StatusPendingDeposit,
		DepositedAmount: amount,
		// BridgedAmount starts as the bridge's net-of-fee estimate; yield
		// activation overwrites it with the actually minted amount.
		BridgedAmount:        quote.ExpectedAmount,
		DepositAPY:           info.CurrentAPY,
		CurrentAPY:           info.CurrentAPY,
		BridgeDepositAddress: quote.BridgeAddress,
		BridgeIntentID:       quote.IntentID,
		PoolID:               poolID,
		ProtocolName:         info.ProtocolName,
		Watch: &domain.WatchState{
			Kind:          domain.WatchDeposit,
			BridgeAddress: quote.BridgeAddress,
			EncodedArgs:   quote.EncodedArgs,
			MinAmount:     minAccepted,
			CreatedAt:     now,
		},
		DepositInitiatedAt: now,
	}
	pos.AppendHistory(domain.StatusPendingDeposit, "position created", "")

	if err := o.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("orchestrator: create position: %w", err)
	}

	o.publishEvent(ctx, "position_created", pos, map[string]any{
		"deposited_amount": pos.DepositedAmount,
		"bridge_address":   pos.BridgeDepositAddress,
	})
	o.auditLog(ctx, "position_created", map[string]any{
		"position_id":      pos.ID,
		"owner":            pos.OwnerAddress,
		"deposited_amount": pos.DepositedAmount,
		"bridge_address":   pos.BridgeDepositAddress,
		"intent_id":        pos.BridgeIntentID,
		"pool_id":          pos.PoolID,
	})

	o.logger.InfoContext(ctx, "orchestrator: position created",
		slog.String("position_id", pos.ID),
		slog.String("owner", pos.OwnerAddress),
		slog.Float64("amount", amount),
	)

	return pos, nil
}

// MarkDepositObserved records the detected source payment and moves the
// position to bridging_to_near. Calling it again once the position is past
// pending_deposit is a no-op.
func (o *Orchestrator) MarkDepositObserved(ctx context.Context, positionID, sourceTxRef string, bridgedAmountHint float64) error {
	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("orchestrator: get position %q: %w", positionID, err)
	}
	if pos.Status != domain.StatusPendingDeposit {
		// Already observed (or terminal); re-application is a no-op.
		return nil
	}

	sourceAmount := bridgedAmountHint
	if sourceAmount <= 0 {
		sourceAmount = pos.DepositedAmount
	}

	now := time.Now().UTC()
	pos.DepositBridgeTx = &domain.BridgeTx{
		BridgeTxID:         uuid.New().String(),
		Direction:          domain.BridgeDeposit,
		Status:             domain.BridgeTxPending,
		SourceAddress:      pos.OwnerAddress,
		DestinationAddress: pos.BridgeDepositAddress,
		SourceAmount:       sourceAmount,
		SourceTxHash:       sourceTxRef,
		CreatedAt:          now,
	}
	if err := pos.Transition(domain.StatusBridgingToNear, "deposit observed on source ledger", sourceTxRef); err != nil {
		return fmt.Errorf("orchestrator: mark observed %q: %w", positionID, err)
	}

	if err := o.positions.UpdateGuarded(ctx, pos, domain.StatusPendingDeposit); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return nil // another writer observed it first
		}
		return fmt.Errorf("orchestrator: persist observed %q: %w", positionID, err)
	}

	o.publishEvent(ctx, "deposit_observed", pos, map[string]any{
		"source_tx_ref": sourceTxRef,
	})
	o.auditLog(ctx, "deposit_observed", map[string]any{
		"position_id":   pos.ID,
		"source_tx_ref": sourceTxRef,
		"amount":        sourceAmount,
	})

	return nil
}

// ActivateYield deposits the bridged funds into the yield pool and moves the
// position to lending_active. It prefers the amount actually minted by the
// bridge and falls back to the stored net-of-fee estimate. A pool rejection
// moves the position to failed and is never retried automatically.
func (o *Orchestrator) ActivateYield(ctx context.Context, positionID string, mintedAmount float64, destinationTxRef string) error {
	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("orchestrator: get position %q: %w", positionID, err)
	}
	if pos.Status != domain.StatusBridgingToNear {
		if pos.Status == domain.StatusLendingActive || pos.Status == domain.StatusBridgingToZcash || pos.Status.IsTerminal() {
			return nil // already activated (or beyond); re-application is a no-op
		}
		return fmt.Errorf("orchestrator: activate %q from %s: %w", positionID, pos.Status, domain.ErrInvalidTransition)
	}

	amount := mintedAmount
	if amount <= 0 {
		amount = pos.BridgedAmount
	}

	now := time.Now().UTC()

	dep, poolErr := o.pool.Deposit(ctx, pos.ID, amount, pos.PoolID)
	if poolErr != nil {
		// Funds are bridged but not earning; manual recovery required.
		if trErr := pos.Transition(domain.StatusFailed, "yield deposit rejected: "+poolErr.Error(), ""); trErr != nil {
			return fmt.Errorf("orchestrator: fail %q: %w", positionID, trErr)
		}
		if pos.DepositBridgeTx != nil {
			pos.DepositBridgeTx.Status = domain.BridgeTxCompleted
			pos.DepositBridgeTx.DestinationAmount = amount
			pos.DepositBridgeTx.DestinationTxHash = destinationTxRef
			pos.DepositBridgeTx.CompletedAt = &now
		}
		pos.Watch = nil

		if err := o.positions.UpdateGuarded(ctx, pos, domain.StatusBridgingToNear); err != nil {
			if errors.Is(err, domain.ErrStatusConflict) {
				return nil
			}
			return fmt.Errorf("orchestrator: persist failed %q: %w", positionID, err)
		}

		o.publishEvent(ctx, "position_failed", pos, map[string]any{
			"reason": poolErr.Error(),
		})
		o.auditLog(ctx, "position_failed", map[string]any{
			"position_id": pos.ID,
			"reason":      poolErr.Error(),
			"amount":      amount,
		})
		o.logger.ErrorContext(ctx, "orchestrator: yield activation failed",
			slog.String("position_id", pos.ID),
			slog.Float64("amount", amount),
			slog.String("error", poolErr.Error()),
		)
		return fmt.Errorf("orchestrator: activate %q: %w", positionID, poolErr)
	}

	pos.BridgedAmount = amount
	pos.CurrentValue = amount
	pos.AccruedInterest = 0
	pos.CurrentAPY = dep.CurrentAPY
	pos.LendingStartedAt = &now
	if pos.DepositBridgeTx != nil {
		pos.DepositBridgeTx.Status = domain.BridgeTxCompleted
		pos.DepositBridgeTx.DestinationAmount = amount
		pos.DepositBridgeTx.DestinationTxHash = destinationTxRef
		pos.DepositBridgeTx.CompletedAt = &now
	}
	pos.Watch = nil

	if err := pos.Transition(domain.StatusLendingActive, "yield deposit active", dep.TxRef); err != nil {
		return fmt.Errorf("orchestrator: activate %q: %w", positionID, err)
	}
	if err := o.positions.UpdateGuarded(ctx, pos, domain.StatusBridgingToNear); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return nil
		}
		return fmt.Errorf("orchestrator: persist active %q: %w", positionID, err)
	}

	o.publishEvent(ctx, "yield_activated", pos, map[string]any{
		"bridged_amount": amount,
		"apy":            dep.CurrentAPY,
	})
	o.auditLog(ctx, "yield_activated", map[string]any{
		"position_id":    pos.ID,
		"bridged_amount": amount,
		"apy":            dep.CurrentAPY,
		"pool_tx_ref":    dep.TxRef,
	})
	o.logger.InfoContext(ctx, "orchestrator: yield activated",
		slog.String("position_id", pos.ID),
		slog.Float64("amount", amount),
		slog.Float64("apy", dep.CurrentAPY),
	)

	return nil
}

// UpdateEarnings recomputes currentValue and accruedInterest for a
// lending_active position by applying the current APY linearly across the
// whole elapsed window. Non-active positions are left untouched.
func (o *Orchestrator) UpdateEarnings(ctx context.Context, positionID string) error {
	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("orchestrator: get position %q: %w", positionID, err)
	}
	if pos.Status != domain.StatusLendingActive || pos.LendingStartedAt == nil {
		return nil
	}

	// Pick up a fresher APY snapshot when one is cached; the stored snapshot
	// stays in effect otherwise.
	if info, infoErr := o.quotes.GetProtocolInfo(ctx); infoErr == nil && info.CurrentAPY > 0 {
		pos.CurrentAPY = info.CurrentAPY
	}

	days := time.Since(*pos.LendingStartedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	interest := pos.BridgedAmount * (pos.CurrentAPY / 365 / 100) * days

	pos.AccruedInterest = interest
	pos.CurrentValue = pos.BridgedAmount + interest

	if err := o.positions.UpdateGuarded(ctx, pos, domain.StatusLendingActive); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return nil // withdrawal won the race; stale earnings are moot
		}
		return fmt.Errorf("orchestrator: persist earnings %q: %w", positionID, err)
	}
	return nil
}

// InitiateWithdrawal pulls funds out of the yield pool, starts the reverse
// bridge transfer, and moves the position to bridging_to_zcash. A zero
// amount withdraws the full current value. The position is left unchanged
// when validation or a collaborator call fails.
func (o *Orchestrator) InitiateWithdrawal(ctx context.Context, positionID, ownerAddress, destinationAddress string, amount float64) (domain.Position, error) {
	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("orchestrator: get position %q: %w", positionID, err)
	}
	if pos.OwnerAddress != ownerAddress {
		return domain.Position{}, fmt.Errorf("orchestrator: position %q: %w", positionID, domain.ErrNotFound)
	}
	if pos.Status != domain.StatusLendingActive {
		return domain.Position{}, fmt.Errorf("orchestrator: withdraw %q from %s: %w", positionID, pos.Status, domain.ErrNotActive)
	}
	if !domain.ValidZcashAddress(destinationAddress) {
		return domain.Position{}, fmt.Errorf("orchestrator: withdraw to %q: %w", destinationAddress, domain.ErrInvalidAddress)
	}
	if amount <= 0 {
		amount = pos.CurrentValue
	}
	if amount > pos.CurrentValue {
		return domain.Position{}, fmt.Errorf("orchestrator: withdraw %g of %g: %w", amount, pos.CurrentValue, domain.ErrInsufficientBalance)
	}

	wd, err := o.pool.Withdraw(ctx, pos.ID, amount)
	if err != nil {
		return domain.Position{}, fmt.Errorf("orchestrator: pool withdraw %q: %w", positionID, err)
	}

	init, err := o.bridge.InitiateWithdrawal(ctx, ownerAddress, destinationAddress, wd.WithdrawnAmount)
	if err != nil {
		return domain.Position{}, fmt.Errorf("orchestrator: bridge withdrawal %q: %w", positionID, err)
	}

	now := time.Now().UTC()
	pos.WithdrawalBridgeTx = &domain.BridgeTx{
		BridgeTxID:         uuid.New().String(),
		Direction:          domain.BridgeWithdrawal,
		Status:             domain.BridgeTxPending,
		SourceAddress:      pos.PoolID,
		DestinationAddress: destinationAddress,
		SourceAmount:       wd.WithdrawnAmount,
		SourceTxHash:       init.DestinationTxRef,
		CreatedAt:          now,
	}
	pos.Watch = &domain.WatchState{
		Kind:       domain.WatchWithdrawal,
		PendingRef: init.PendingRef,
		CreatedAt:  now,
	}
	pos.WithdrawalInitiatedAt = &now

	if err := pos.Transition(domain.StatusBridgingToZcash, "withdrawal initiated", wd.TxRef); err != nil {
		return domain.Position{}, fmt.Errorf("orchestrator: withdraw %q: %w", positionID, err)
	}
	if err := o.positions.UpdateGuarded(ctx, pos, domain.StatusLendingActive); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			// A concurrent withdrawal won; only one may succeed.
			return domain.Position{}, fmt.Errorf("orchestrator: withdraw %q: %w", positionID, domain.ErrNotActive)
		}
		return domain.Position{}, fmt.Errorf("orchestrator: persist withdrawal %q: %w", positionID, err)
	}

	o.publishEvent(ctx, "withdrawal_initiated", pos, map[string]any{
		"amount":      wd.WithdrawnAmount,
		"destination": destinationAddress,
	})
	o.auditLog(ctx, "withdrawal_initiated", map[string]any{
		"position_id": pos.ID,
		"amount":      wd.WithdrawnAmount,
		"destination": destinationAddress,
		"pending_ref": init.PendingRef,
	})
	o.logger.InfoContext(ctx, "orchestrator: withdrawal initiated",
		slog.String("position_id", pos.ID),
		slog.Float64("amount", wd.WithdrawnAmount),
	)

	return pos, nil
}

// ProcessWithdrawal polls the reverse bridge for finalization and reports
// whether the withdrawal completed. A completed transfer marks the position
// completed; a still-pending transfer only bumps the watcher bookkeeping; a
// hard failure leaves the position in bridging_to_zcash for manual
// intervention.
func (o *Orchestrator) ProcessWithdrawal(ctx context.Context, positionID string) (bool, error) {
	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return false, fmt.Errorf("orchestrator: get position %q: %w", positionID, err)
	}
	if pos.Status != domain.StatusBridgingToZcash {
		return pos.Status == domain.StatusCompleted, nil
	}
	if pos.Watch == nil || pos.Watch.Kind != domain.WatchWithdrawal || pos.Watch.PendingRef == "" {
		return false, fmt.Errorf("orchestrator: position %q has no withdrawal bookkeeping: %w", positionID, domain.ErrNotFound)
	}

	final, err := o.bridge.FinalizeWithdrawal(ctx, pos.OwnerAddress, pos.Watch.PendingRef)
	if err != nil {
		// Funds may still be in flight; stay in bridging_to_zcash.
		o.logger.WarnContext(ctx, "orchestrator: withdrawal finalization failed",
			slog.String("position_id", pos.ID),
			slog.String("pending_ref", pos.Watch.PendingRef),
			slog.String("error", err.Error()),
		)
		return false, fmt.Errorf("orchestrator: finalize withdrawal %q: %w", positionID, err)
	}

	if !final.Completed {
		now := time.Now().UTC()
		pos.Watch.LastCheckedAt = &now
		pos.Watch.CheckCount++
		if updErr := o.positions.UpdateGuarded(ctx, pos, domain.StatusBridgingToZcash); updErr != nil && !errors.Is(updErr, domain.ErrStatusConflict) {
			return false, fmt.Errorf("orchestrator: persist withdrawal check %q: %w", positionID, updErr)
		}
		return false, nil
	}

	if err := o.MarkCompleted(ctx, positionID, final.SourceTxRef, 0); err != nil {
		return false, err
	}
	return true, nil
}

// MarkCompleted sets the terminal completed state, stamps completedAt, and
// closes out the withdrawal bridge leg. Re-application is a no-op.
func (o *Orchestrator) MarkCompleted(ctx context.Context, positionID, destinationTxRef string, actualAmount float64) error {
	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("orchestrator: get position %q: %w", positionID, err)
	}
	if pos.Status == domain.StatusCompleted {
		return nil
	}
	if pos.Status != domain.StatusBridgingToZcash {
		return fmt.Errorf("orchestrator: complete %q from %s: %w", positionID, pos.Status, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	if pos.WithdrawalBridgeTx != nil {
		pos.WithdrawalBridgeTx.Status = domain.BridgeTxCompleted
		pos.WithdrawalBridgeTx.DestinationTxHash = destinationTxRef
		if actualAmount > 0 {
			pos.WithdrawalBridgeTx.DestinationAmount = actualAmount
		} else {
			pos.WithdrawalBridgeTx.DestinationAmount = pos.WithdrawalBridgeTx.SourceAmount
		}
		pos.WithdrawalBridgeTx.CompletedAt = &now
	}
	pos.Watch = nil
	pos.CompletedAt = &now

	if err := pos.Transition(domain.StatusCompleted, "funds landed at withdrawal address", destinationTxRef); err != nil {
		return fmt.Errorf("orchestrator: complete %q: %w", positionID, err)
	}
	if err := o.positions.UpdateGuarded(ctx, pos, domain.StatusBridgingToZcash); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return nil
		}
		return fmt.Errorf("orchestrator: persist completed %q: %w", positionID, err)
	}

	o.publishEvent(ctx, "position_completed", pos, map[string]any{
		"destination_tx_ref": destinationTxRef,
	})
	o.auditLog(ctx, "position_completed", map[string]any{
		"position_id":        pos.ID,
		"destination_tx_ref": destinationTxRef,
	})
	o.logger.InfoContext(ctx, "orchestrator: position completed",
		slog.String("position_id", pos.ID),
	)

	return nil
}

// CancelExpired moves an aged-out pending_deposit position to cancelled with
// a timeout note. The watcher calls it when a position exceeds the maximum
// pending age without a confirmed payment.
func (o *Orchestrator) CancelExpired(ctx context.Context, positionID string, age time.Duration) error {
	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("orchestrator: get position %q: %w", positionID, err)
	}
	if pos.Status != domain.StatusPendingDeposit {
		return nil
	}

	pos.Watch = nil
	note := fmt.Sprintf("cancelled: no confirmed deposit after %s", age.Round(time.Minute))
	if err := pos.Transition(domain.StatusCancelled, note, ""); err != nil {
		return fmt.Errorf("orchestrator: cancel %q: %w", positionID, err)
	}
	if err := o.positions.UpdateGuarded(ctx, pos, domain.StatusPendingDeposit); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return nil
		}
		return fmt.Errorf("orchestrator: persist cancelled %q: %w", positionID, err)
	}

	o.publishEvent(ctx, "position_cancelled", pos, map[string]any{
		"age": age.String(),
	})
	o.auditLog(ctx, "position_cancelled", map[string]any{
		"position_id": pos.ID,
		"age":         age.String(),
	})
	o.logger.InfoContext(ctx, "orchestrator: position cancelled",
		slog.String("position_id", pos.ID),
		slog.String("age", age.String()),
	)

	return nil
}

// GetPosition returns one position by ID.
func (o *Orchestrator) GetPosition(ctx context.Context, positionID string) (domain.Position, error) {
	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("orchestrator: get position %q: %w", positionID, err)
	}
	return pos, nil
}

// ListPositionsForOwner returns an owner's positions, optionally filtered by
// status, newest first.
func (o *Orchestrator) ListPositionsForOwner(ctx context.Context, ownerAddress string, status *domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	if !domain.ValidZcashAddress(ownerAddress) {
		return nil, fmt.Errorf("orchestrator: list for %q: %w", ownerAddress, domain.ErrInvalidAddress)
	}
	positions, err := o.positions.ListByOwner(ctx, ownerAddress, status, opts)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list for %q: %w", ownerAddress, err)
	}
	return positions, nil
}

// GetEarningsHistory deterministically regenerates a daily earnings series
// for the last `days` days from the lending start time and the snapshot APY.
// The series is not stored; two calls with the same inputs produce the same
// points.
func (o *Orchestrator) GetEarningsHistory(ctx context.Context, positionID string, days int) ([]domain.EarningsPoint, error) {
	if days < 1 || days > 365 {
		return nil, fmt.Errorf("orchestrator: earnings window %d days: %w", days, domain.ErrOutOfRange)
	}

	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: get position %q: %w", positionID, err)
	}
	if pos.LendingStartedAt == nil {
		return []domain.EarningsPoint{}, nil
	}

	start := pos.LendingStartedAt.UTC()
	today := time.Now().UTC().Truncate(24 * time.Hour)
	dailyRate := pos.CurrentAPY / 365 / 100

	var points []domain.EarningsPoint
	for i := days - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i)
		if date.Before(start.Truncate(24 * time.Hour)) {
			continue
		}
		elapsed := date.Sub(start).Hours() / 24
		if elapsed < 0 {
			elapsed = 0
		}
		interest := pos.BridgedAmount * dailyRate * elapsed
		points = append(points, domain.EarningsPoint{
			Date:     date,
			Value:    pos.BridgedAmount + interest,
			Interest: interest,
		})
	}
	if points == nil {
		points = []domain.EarningsPoint{}
	}
	return points, nil
}

// publishEvent sends a position event to live subscribers and appends it to
// the durable journal. Delivery failures are logged, never propagated.
func (o *Orchestrator) publishEvent(ctx context.Context, event string, pos domain.Position, extra map[string]any) {
	payload := map[string]any{
		"event":       event,
		"position_id": pos.ID,
		"owner":       pos.OwnerAddress,
		"status":      string(pos.Status),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}

	evt, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if pubErr := o.bus.Publish(ctx, eventsChannel, evt); pubErr != nil {
		o.logger.WarnContext(ctx, "orchestrator: publish event failed",
			slog.String("event", event),
			slog.String("position_id", pos.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	if strErr := o.bus.StreamAppend(ctx, eventsStream, evt); strErr != nil {
		o.logger.WarnContext(ctx, "orchestrator: journal event failed",
			slog.String("event", event),
			slog.String("position_id", pos.ID),
			slog.String("error", strErr.Error()),
		)
	}
}

// auditLog records an orchestrator mutation in the audit log. Failures are
// logged, never propagated.
func (o *Orchestrator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := o.audit.Log(ctx, event, detail); err != nil {
		o.logger.WarnContext(ctx, "orchestrator: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
