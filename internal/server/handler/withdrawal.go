package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/solturn/yieldbridge/internal/service"
)

// WithdrawalHandler serves withdrawal requests against active positions.
type WithdrawalHandler struct {
	orch   *service.Orchestrator
	logger *slog.Logger
}

// NewWithdrawalHandler creates a WithdrawalHandler.
func NewWithdrawalHandler(orch *service.Orchestrator, logger *slog.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{orch: orch, logger: logger}
}

type withdrawRequest struct {
	OwnerAddress       string `json:"owner_address"`
	DestinationAddress string `json:"destination_address"`
	// Amount zero or omitted withdraws the full position value.
	Amount float64 `json:"amount,omitempty"`
}

// InitiateWithdrawal pulls funds out of the pool and starts the bridge back
// to the owner's chain. The position moves to bridging_to_zcash; the watcher
// drives it to completed.
// POST /api/positions/{id}/withdraw
func (h *WithdrawalHandler) InitiateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	pos, err := h.orch.InitiateWithdrawal(r.Context(), id, req.OwnerAddress, req.DestinationAddress, req.Amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "withdrawal rejected",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toPositionResponse(pos))
}
