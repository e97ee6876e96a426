package domain

import (
	"context"
	"time"
)

// DetectedDeposit is one payment observed on the source ledger.
type DetectedDeposit struct {
	TxRef         string
	OutputIndex   int
	Amount        float64
	Confirmations int
	BlockHeight   int64
	Timestamp     time.Time
	Confirmed     bool
}

// DepositDetector queries the source ledger for payments to an address.
type DepositDetector interface {
	// DetectDeposits returns payments to address with amount >= minAmount,
	// newest first. Unconfirmed payments are included with Confirmed=false.
	DetectDeposits(ctx context.Context, address string, minAmount float64) ([]DetectedDeposit, error)
}

// DepositQuote is the bridge's offer for a deposit: where to send funds and
// what arrives on the destination ledger after fees.
type DepositQuote struct {
	BridgeAddress  string  `json:"bridge_address"`
	ExpectedAmount float64 `json:"expected_amount"`
	ETAMinutes     int     `json:"eta_minutes"`
	FeePercent     float64 `json:"fee_percent"`
	IntentID       string  `json:"intent_id"`
	EncodedArgs    string  `json:"encoded_args,omitempty"`
	MinAmount      float64 `json:"min_amount,omitempty"`
}

// FinalizeResult reports a successful deposit-side bridge finalization.
type FinalizeResult struct {
	DestinationTxRef string
	MintedAmount     float64
}

// WithdrawalInit reports an accepted reverse-bridge initiation. PendingRef
// identifies the in-flight transfer for later finalization polls.
type WithdrawalInit struct {
	PendingRef       string
	DestinationTxRef string
	ETAMinutes       int
}

// WithdrawalFinal reports the state of a reverse-bridge transfer. Completed
// is false while the transfer is still in flight; a hard failure is returned
// as an error instead.
type WithdrawalFinal struct {
	Completed   bool
	SourceTxRef string
}

// BridgeFinalizer is the cross-chain bridge: it quotes deposits, mints on
// the destination ledger once a source payment is confirmed, and runs the
// reverse path for withdrawals.
type BridgeFinalizer interface {
	GetDepositQuote(ctx context.Context, ownerAddress string, amount float64) (DepositQuote, error)
	FinalizeDeposit(ctx context.Context, ownerAddress, txRef string, outputIndex int, encodedArgs string) (FinalizeResult, error)
	InitiateWithdrawal(ctx context.Context, ownerAddress, destinationAddress string, amount float64) (WithdrawalInit, error)
	FinalizeWithdrawal(ctx context.Context, ownerAddress, pendingRef string) (WithdrawalFinal, error)
}

// ProtocolInfo describes the yield protocol's current terms.
type ProtocolInfo struct {
	ProtocolName         string  `json:"protocol_name"`
	CurrentAPY           float64 `json:"current_apy"`
	TotalValueLocked     float64 `json:"total_value_locked"`
	MinDeposit           float64 `json:"min_deposit"`
	MaxDeposit           float64 `json:"max_deposit"`
	WithdrawalFeePercent float64 `json:"withdrawal_fee_percent"`
}

// PoolDeposit reports a successful yield pool deposit.
type PoolDeposit struct {
	TxRef      string
	CurrentAPY float64
}

// PoolWithdrawal reports a successful yield pool withdrawal.
type PoolWithdrawal struct {
	TxRef           string
	WithdrawnAmount float64
}

// YieldPool is the destination-ledger lending protocol.
type YieldPool interface {
	GetProtocolInfo(ctx context.Context) (ProtocolInfo, error)
	Deposit(ctx context.Context, accountRef string, amount float64, poolID string) (PoolDeposit, error)
	Withdraw(ctx context.Context, accountRef string, amount float64) (PoolWithdrawal, error)
}

// EarningsPoint is one day of the deterministically regenerated earnings
// series for a lending position.
type EarningsPoint struct {
	Date     time.Time `json:"date"`
	Value    float64   `json:"value"`
	Interest float64   `json:"interest"`
}
