package domain

import "time"

// PositionStatus tracks where a position sits in the deposit-to-withdrawal
// cycle.
type PositionStatus string

const (
	StatusPendingDeposit  PositionStatus = "pending_deposit"
	StatusBridgingToNear  PositionStatus = "bridging_to_near"
	StatusLendingActive   PositionStatus = "lending_active"
	StatusBridgingToZcash PositionStatus = "bridging_to_zcash"
	StatusCompleted       PositionStatus = "completed"
	StatusFailed          PositionStatus = "failed"
	StatusCancelled       PositionStatus = "cancelled"
)

// transitions is the directed graph of legal status changes. Terminal
// statuses have no outgoing edges and a position never moves backwards.
var transitions = map[PositionStatus][]PositionStatus{
	StatusPendingDeposit:  {StatusBridgingToNear, StatusCancelled},
	StatusBridgingToNear:  {StatusLendingActive, StatusFailed},
	StatusLendingActive:   {StatusBridgingToZcash},
	StatusBridgingToZcash: {StatusCompleted},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to PositionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func (s PositionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StatusChange is one entry in a position's append-only history.
type StatusChange struct {
	Status    PositionStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Note      string         `json:"note,omitempty"`
	TxRef     string         `json:"tx_ref,omitempty"`
}

// BridgeDirection identifies which leg of the cycle a bridge transfer
// belongs to.
type BridgeDirection string

const (
	BridgeDeposit    BridgeDirection = "zec_to_near"
	BridgeWithdrawal BridgeDirection = "near_to_zec"
)

// BridgeTxStatus is the lifecycle of a single bridge leg.
type BridgeTxStatus string

const (
	BridgeTxPending   BridgeTxStatus = "pending"
	BridgeTxCompleted BridgeTxStatus = "completed"
	BridgeTxFailed    BridgeTxStatus = "failed"
)

// BridgeTx records one bridge transfer leg. It is written once when the leg
// starts and updated in place as the leg progresses.
type BridgeTx struct {
	BridgeTxID         string          `json:"bridge_tx_id"`
	Direction          BridgeDirection `json:"direction"`
	Status             BridgeTxStatus  `json:"status"`
	SourceAddress      string          `json:"source_address"`
	DestinationAddress string          `json:"destination_address"`
	SourceAmount       float64         `json:"source_amount"`
	DestinationAmount  float64         `json:"destination_amount"`
	SourceTxHash       string          `json:"source_tx_hash,omitempty"`
	DestinationTxHash  string          `json:"destination_tx_hash,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// WatchKind says which leg the watcher bookkeeping belongs to.
type WatchKind string

const (
	WatchDeposit    WatchKind = "deposit"
	WatchWithdrawal WatchKind = "withdrawal"
)

// WatchState is the transient bookkeeping the watcher needs while a position
// awaits an external event. It is cleared the moment that step finalizes; at
// most one WatchState exists per position at any time.
type WatchState struct {
	Kind          WatchKind  `json:"kind"`
	BridgeAddress string     `json:"bridge_address,omitempty"`
	EncodedArgs   string     `json:"encoded_args,omitempty"`
	MinAmount     float64    `json:"min_amount,omitempty"`
	PendingRef    string     `json:"pending_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CheckCount    int        `json:"check_count"`
}

// Position is the durable record of one deposit-to-withdrawal cycle. It is
// created in pending_deposit and never deleted; terminal statuses are
// permanent records.
type Position struct {
	ID           string
	OwnerAddress string
	Status       PositionStatus

	DepositedAmount float64
	BridgedAmount   float64
	CurrentValue    float64
	AccruedInterest float64
	DepositAPY      float64
	CurrentAPY      float64

	BridgeDepositAddress string
	BridgeIntentID       string
	PoolID               string
	ProtocolName         string

	StatusHistory      []StatusChange
	DepositBridgeTx    *BridgeTx
	WithdrawalBridgeTx *BridgeTx
	Watch              *WatchState

	DepositInitiatedAt    time.Time
	LendingStartedAt      *time.Time
	WithdrawalInitiatedAt *time.Time
	CompletedAt           *time.Time
}

// Transition moves the position to a new status, appending a history entry.
// It returns ErrInvalidTransition when the move is not on the legal graph;
// re-applying an already-taken transition therefore fails fast and callers
// can treat it as a no-op.
func (p *Position) Transition(to PositionStatus, note, txRef string) error {
	if !CanTransition(p.Status, to) {
		return ErrInvalidTransition
	}
	p.Status = to
	p.AppendHistory(to, note, txRef)
	return nil
}

// AppendHistory adds an entry to the status history. Timestamps are clamped
// to be monotonically non-decreasing even if the wall clock steps backwards.
func (p *Position) AppendHistory(status PositionStatus, note, txRef string) {
	ts := time.Now().UTC()
	if n := len(p.StatusHistory); n > 0 && ts.Before(p.StatusHistory[n-1].Timestamp) {
		ts = p.StatusHistory[n-1].Timestamp
	}
	p.StatusHistory = append(p.StatusHistory, StatusChange{
		Status:    status,
		Timestamp: ts,
		Note:      note,
		TxRef:     txRef,
	})
}
