package upscale

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clearpix/clearpix-api/internal/domain/credit"
	"github.com/clearpix/clearpix-api/internal/middleware"
	"github.com/clearpix/clearpix-api/internal/pkg/inference"
	"github.com/clearpix/clearpix-api/internal/pkg/response"
	"github.com/clearpix/clearpix-api/internal/pkg/validator"
)

// Handler handles upscale HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates upscale handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /upscales
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if details := validator.Validate(&req); details != nil {
		response.ValidationError(w, details)
		return
	}

	result, err := h.service.Create(r.Context(), userID, &req)
	if err != nil {
		h.writeError(w, userID, err)
		return
	}

	response.Created(w, CreateResponseFromResult(result))
}

func (h *Handler) writeError(w http.ResponseWriter, userID uuid.UUID, err error) {
	var insufficient *credit.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		response.PaymentRequired(w, "Not enough credits for this operation", map[string]string{
			"required": strconv.Itoa(insufficient.Required),
			"balance":  strconv.Itoa(insufficient.Balance),
		})
		return
	}

	var forbidden *TierForbiddenError
	if errors.As(err, &forbidden) {
		response.ErrorWithDetails(w, http.StatusForbidden, "FORBIDDEN_TIER", "Your plan does not include this feature", map[string]string{
			"feature": forbidden.Feature,
			"tier":    forbidden.Tier,
		})
		return
	}

	var batch *BatchLimitError
	if errors.As(err, &batch) {
		resetAt := batch.ResetAt.UTC()
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
		w.Header().Set("X-BatchLimit-Limit", strconv.Itoa(batch.Limit))
		w.Header().Set("X-BatchLimit-Current", strconv.Itoa(batch.Current))
		w.Header().Set("X-BatchLimit-Reset", resetAt.Format(time.RFC3339))
		response.TooManyRequests(w, "BATCH_LIMIT_EXCEEDED", "Hourly operation limit reached", map[string]string{
			"current":  strconv.Itoa(batch.Current),
			"limit":    strconv.Itoa(batch.Limit),
			"reset_at": resetAt.Format(time.RFC3339),
		})
		return
	}

	var vendor *inference.VendorError
	if errors.As(err, &vendor) {
		details := map[string]string{"kind": string(vendor.Kind)}
		if vendor.VendorCode != "" {
			details["vendor_code"] = vendor.VendorCode
		}
		switch vendor.Kind {
		case inference.KindContentRejected:
			response.ErrorWithDetails(w, http.StatusBadRequest, "CONTENT_REJECTED", "The image was rejected by content safety checks", details)
		case inference.KindInvalidInput:
			response.ErrorWithDetails(w, http.StatusBadRequest, "INVALID_SOURCE", vendor.Message, details)
		default:
			response.BadGateway(w, "Upscaling provider failed", details)
		}
		return
	}

	if errors.Is(err, credit.ErrOperationTimeout) {
		response.BadGateway(w, "Upscaling provider timed out", nil)
		return
	}

	log.Error().Err(err).Str("user_id", userID.String()).Msg("Upscale failed")
	response.InternalError(w)
}
