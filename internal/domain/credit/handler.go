package credit

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/clearpix/clearpix-api/internal/middleware"
	"github.com/clearpix/clearpix-api/internal/pkg/response"
)

// Handler handles credit HTTP requests
type Handler struct {
	service Service
}

// NewHandler creates credit handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// GetBalance handles GET /credits/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to get balance")
		response.InternalError(w)
		return
	}

	response.OK(w, BalanceResponseFromEntity(balance))
}

// ListTransactions handles GET /credits/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to list transactions")
		response.InternalError(w)
		return
	}

	items := make([]*TransactionResponse, len(transactions))
	for i, t := range transactions {
		items[i] = TransactionResponseFromEntity(t)
	}

	response.OK(w, items)
}
