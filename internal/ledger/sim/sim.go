// Package sim provides in-memory ledger collaborators for testnet mode. The
// simulated detector, bridge, and pool let the full service run end to end
// without a zcashd node, bridge API, or protocol account.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solturn/yieldbridge/internal/domain"
)

const (
	simFeePercent = 0.5
	simAPY        = 4.2
	simMinDeposit = 0.001
	simMaxDeposit = 10000
)

// Detector is an in-memory domain.DepositDetector. Deposits appear only after
// they are registered through RegisterDeposit, which makes watcher behavior
// reproducible in tests and on testnet.
type Detector struct {
	mu               sync.Mutex
	minConfirmations int
	deposits         map[string][]domain.DetectedDeposit // bridge address -> deposits
}

// NewDetector creates an empty simulated detector.
func NewDetector(minConfirmations int) *Detector {
	return &Detector{
		minConfirmations: minConfirmations,
		deposits:         make(map[string][]domain.DetectedDeposit),
	}
}

// RegisterDeposit records a payment to address with the given confirmation
// count and returns its transaction reference.
func (d *Detector) RegisterDeposit(address string, amount float64, confirmations int) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	txRef := "simtx-" + uuid.New().String()[:8]
	d.deposits[address] = append(d.deposits[address], domain.DetectedDeposit{
		TxRef:         txRef,
		OutputIndex:   0,
		Amount:        amount,
		Confirmations: confirmations,
		Timestamp:     time.Now().UTC(),
		Confirmed:     confirmations >= d.minConfirmations,
	})
	return txRef
}

// AdvanceConfirmations adds n confirmations to every registered deposit, as
// if n blocks had been mined.
func (d *Detector) AdvanceConfirmations(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for addr, deps := range d.deposits {
		for i := range deps {
			deps[i].Confirmations += n
			deps[i].Confirmed = deps[i].Confirmations >= d.minConfirmations
		}
		d.deposits[addr] = deps
	}
}

// DetectDeposits returns registered payments to address with amount >= minAmount.
func (d *Detector) DetectDeposits(_ context.Context, address string, minAmount float64) ([]domain.DetectedDeposit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []domain.DetectedDeposit
	for _, dep := range d.deposits[address] {
		if dep.Amount < minAmount {
			continue
		}
		out = append(out, dep)
	}
	return out, nil
}

// Bridge is an in-memory domain.BridgeFinalizer. Quotes carry the fixed
// simulated fee; withdrawals complete after a configurable number of
// finalization polls.
type Bridge struct {
	mu sync.Mutex
	// pollsToComplete is how many FinalizeWithdrawal calls a transfer stays
	// pending before it completes.
	pollsToComplete int
	withdrawalPolls map[string]int
}

// NewBridge creates a simulated bridge. pollsToComplete < 1 completes
// withdrawals on the first finalization poll.
func NewBridge(pollsToComplete int) *Bridge {
	if pollsToComplete < 1 {
		pollsToComplete = 1
	}
	return &Bridge{
		pollsToComplete: pollsToComplete,
		withdrawalPolls: make(map[string]int),
	}
}

// GetDepositQuote issues a fresh simulated deposit address and terms.
func (b *Bridge) GetDepositQuote(_ context.Context, ownerAddress string, amount float64) (domain.DepositQuote, error) {
	if amount <= 0 {
		return domain.DepositQuote{}, fmt.Errorf("sim: deposit quote for %s: %w", ownerAddress, domain.ErrInvalidAmount)
	}

	intentID := uuid.New().String()
	return domain.DepositQuote{
		BridgeAddress:  "t1Sim" + intentID[:8] + "DepositAddr000000000000",
		ExpectedAmount: amount * (1 - simFeePercent/100),
		ETAMinutes:     5,
		FeePercent:     simFeePercent,
		IntentID:       intentID,
		EncodedArgs:    "sim:" + intentID,
		MinAmount:      simMinDeposit,
	}, nil
}

// FinalizeDeposit mints the net amount immediately.
func (b *Bridge) FinalizeDeposit(_ context.Context, ownerAddress, txRef string, _ int, _ string) (domain.FinalizeResult, error) {
	_ = ownerAddress
	return domain.FinalizeResult{
		DestinationTxRef: "simdst-" + txRef,
		MintedAmount:     0, // caller falls back to its net-of-fee estimate
	}, nil
}

// InitiateWithdrawal accepts the reverse transfer and starts its poll counter.
func (b *Bridge) InitiateWithdrawal(_ context.Context, ownerAddress, destinationAddress string, amount float64) (domain.WithdrawalInit, error) {
	if amount <= 0 {
		return domain.WithdrawalInit{}, fmt.Errorf("sim: withdrawal for %s: %w", ownerAddress, domain.ErrInvalidAmount)
	}
	if !domain.ValidZcashAddress(destinationAddress) {
		return domain.WithdrawalInit{}, fmt.Errorf("sim: withdrawal for %s: %w", ownerAddress, domain.ErrInvalidAddress)
	}

	pendingRef := "simwd-" + uuid.New().String()[:8]

	b.mu.Lock()
	b.withdrawalPolls[pendingRef] = 0
	b.mu.Unlock()

	return domain.WithdrawalInit{
		PendingRef:       pendingRef,
		DestinationTxRef: "simdst-" + pendingRef,
		ETAMinutes:       5,
	}, nil
}

// FinalizeWithdrawal reports pending until the transfer has been polled
// pollsToComplete times, then completes it.
func (b *Bridge) FinalizeWithdrawal(_ context.Context, _, pendingRef string) (domain.WithdrawalFinal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	polls, ok := b.withdrawalPolls[pendingRef]
	if !ok {
		return domain.WithdrawalFinal{}, fmt.Errorf("sim: unknown withdrawal %s: %w", pendingRef, domain.ErrNotFound)
	}

	polls++
	b.withdrawalPolls[pendingRef] = polls
	if polls < b.pollsToComplete {
		return domain.WithdrawalFinal{}, nil
	}

	delete(b.withdrawalPolls, pendingRef)
	return domain.WithdrawalFinal{
		Completed:   true,
		SourceTxRef: "simsrc-" + pendingRef,
	}, nil
}

// Pool is an in-memory domain.YieldPool with a fixed APY and per-account
// balance tracking.
type Pool struct {
	mu       sync.Mutex
	balances map[string]float64
}

// NewPool creates an empty simulated pool.
func NewPool() *Pool {
	return &Pool{balances: make(map[string]float64)}
}

// GetProtocolInfo returns the fixed simulated terms.
func (p *Pool) GetProtocolInfo(_ context.Context) (domain.ProtocolInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var tvl float64
	for _, bal := range p.balances {
		tvl += bal
	}

	return domain.ProtocolInfo{
		ProtocolName:         "sim-lend",
		CurrentAPY:           simAPY,
		TotalValueLocked:     tvl,
		MinDeposit:           simMinDeposit,
		MaxDeposit:           simMaxDeposit,
		WithdrawalFeePercent: 0,
	}, nil
}

// Deposit credits amount to accountRef's simulated balance.
func (p *Pool) Deposit(_ context.Context, accountRef string, amount float64, _ string) (domain.PoolDeposit, error) {
	if amount <= 0 {
		return domain.PoolDeposit{}, fmt.Errorf("sim: pool deposit %s: %w", accountRef, domain.ErrInvalidAmount)
	}

	p.mu.Lock()
	p.balances[accountRef] += amount
	p.mu.Unlock()

	return domain.PoolDeposit{
		TxRef:      "simpool-" + uuid.New().String()[:8],
		CurrentAPY: simAPY,
	}, nil
}

// Withdraw debits amount from accountRef's simulated balance.
func (p *Pool) Withdraw(_ context.Context, accountRef string, amount float64) (domain.PoolWithdrawal, error) {
	if amount <= 0 {
		return domain.PoolWithdrawal{}, fmt.Errorf("sim: pool withdraw %s: %w", accountRef, domain.ErrInvalidAmount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balances[accountRef] < amount {
		return domain.PoolWithdrawal{}, fmt.Errorf("sim: pool withdraw %s: %w", accountRef, domain.ErrInsufficientBalance)
	}
	p.balances[accountRef] -= amount

	return domain.PoolWithdrawal{
		TxRef:           "simpool-" + uuid.New().String()[:8],
		WithdrawnAmount: amount,
	}, nil
}

// Compile-time interface checks.
var (
	_ domain.DepositDetector = (*Detector)(nil)
	_ domain.BridgeFinalizer = (*Bridge)(nil)
	_ domain.YieldPool       = (*Pool)(nil)
)
