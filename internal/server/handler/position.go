package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/solturn/yieldbridge/internal/domain"
	"github.com/solturn/yieldbridge/internal/service"
)

// PositionHandler serves position creation and queries.
type PositionHandler struct {
	orch   *service.Orchestrator
	quotes domain.QuoteCache
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(orch *service.Orchestrator, quotes domain.QuoteCache, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{orch: orch, quotes: quotes, logger: logger}
}

// positionResponse is the wire shape of a position.
type positionResponse struct {
	ID           string `json:"id"`
	OwnerAddress string `json:"owner_address"`
	Status       string `json:"status"`

	DepositedAmount float64 `json:"deposited_amount"`
	BridgedAmount   float64 `json:"bridged_amount"`
	CurrentValue    float64 `json:"current_value"`
	AccruedInterest float64 `json:"accrued_interest"`
	DepositAPY      float64 `json:"deposit_apy"`
	CurrentAPY      float64 `json:"current_apy"`

	BridgeDepositAddress string `json:"bridge_deposit_address,omitempty"`
	BridgeIntentID       string `json:"bridge_intent_id,omitempty"`
	PoolID               string `json:"pool_id,omitempty"`
	ProtocolName         string `json:"protocol_name,omitempty"`

	StatusHistory      []domain.StatusChange `json:"status_history"`
	DepositBridgeTx    *domain.BridgeTx      `json:"deposit_bridge_tx,omitempty"`
	WithdrawalBridgeTx *domain.BridgeTx      `json:"withdrawal_bridge_tx,omitempty"`

	DepositInitiatedAt    time.Time  `json:"deposit_initiated_at"`
	LendingStartedAt      *time.Time `json:"lending_started_at,omitempty"`
	WithdrawalInitiatedAt *time.Time `json:"withdrawal_initiated_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

func toPositionResponse(pos domain.Position) positionResponse {
	return positionResponse{
		ID:                    pos.ID,
		OwnerAddress:          pos.OwnerAddress,
		Status:                string(pos.Status),
		DepositedAmount:       pos.DepositedAmount,
		BridgedAmount:         pos.BridgedAmount,
		CurrentValue:          pos.CurrentValue,
		AccruedInterest:       pos.AccruedInterest,
		DepositAPY:            pos.DepositAPY,
		CurrentAPY:            pos.CurrentAPY,
		BridgeDepositAddress:  pos.BridgeDepositAddress,
		BridgeIntentID:        pos.BridgeIntentID,
		PoolID:                pos.PoolID,
		ProtocolName:          pos.ProtocolName,
		StatusHistory:         pos.StatusHistory,
		DepositBridgeTx:       pos.DepositBridgeTx,
		WithdrawalBridgeTx:    pos.WithdrawalBridgeTx,
		DepositInitiatedAt:    pos.DepositInitiatedAt,
		LendingStartedAt:      pos.LendingStartedAt,
		WithdrawalInitiatedAt: pos.WithdrawalInitiatedAt,
		CompletedAt:           pos.CompletedAt,
	}
}

type createPositionRequest struct {
	OwnerAddress string  `json:"owner_address"`
	Amount       float64 `json:"amount"`
	// IntentID references a previously issued quote so the deposit address
	// the user was shown is reused verbatim.
	IntentID string `json:"intent_id,omitempty"`
	PoolID   string `json:"pool_id,omitempty"`
}

// CreatePosition opens a new position in pending_deposit.
// POST /api/positions
func (h *PositionHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var quote *domain.DepositQuote
	if req.IntentID != "" {
		cached, err := h.quotes.GetQuote(r.Context(), req.IntentID)
		switch {
		case err == nil:
			quote = &cached
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusGone, "quote expired, request a new one")
			return
		default:
			h.logger.ErrorContext(r.Context(), "quote lookup failed",
				slog.String("intent_id", req.IntentID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	pos, err := h.orch.CreatePosition(r.Context(), req.OwnerAddress, req.Amount, quote, req.PoolID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPositionResponse(pos))
}

// GetPosition returns one position by ID.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.orch.GetPosition(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// ListPositions returns an owner's positions, optionally filtered by status.
// GET /api/positions?owner=...&status=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}

	var status *domain.PositionStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.PositionStatus(s)
		status = &st
	}

	positions, err := h.orch.ListPositionsForOwner(r.Context(), owner, status, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, pos := range positions {
		out = append(out, toPositionResponse(pos))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": out,
		"count":     len(out),
	})
}

// GetEarnings returns the regenerated daily earnings series for a position.
// GET /api/positions/{id}/earnings?days=N
func (h *PositionHandler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = n
	}

	points, err := h.orch.GetEarningsHistory(r.Context(), r.PathValue("id"), days)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"points": points,
		"days":   days,
	})
}
