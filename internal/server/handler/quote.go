package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/solturn/yieldbridge/internal/service"
)

// QuoteHandler serves deposit-quote requests.
type QuoteHandler struct {
	orch   *service.Orchestrator
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler.
func NewQuoteHandler(orch *service.Orchestrator, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{orch: orch, logger: logger}
}

type quoteRequest struct {
	OwnerAddress string  `json:"owner_address"`
	Amount       float64 `json:"amount"`
}

// CreateQuote returns a bridge deposit quote for the given owner and amount.
// POST /api/quotes
func (h *QuoteHandler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	quote, err := h.orch.GetDepositQuote(r.Context(), req.OwnerAddress, req.Amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "quote request rejected",
			slog.String("owner", req.OwnerAddress),
			slog.Float64("amount", req.Amount),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}
