package billing

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clearpix/clearpix-api/internal/middleware"
	"github.com/clearpix/clearpix-api/internal/pkg/response"
	"github.com/clearpix/clearpix-api/internal/pkg/validator"
)

// Handler handles billing HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates billing handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListPlans handles GET /plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.service.Plans()

	items := make([]*PlanResponse, len(plans))
	for i, p := range plans {
		items[i] = PlanResponseFromEntity(p)
	}

	response.OK(w, items)
}

// GetCurrent handles GET /subscriptions/current
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sub, plan, err := h.service.GetCurrent(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			response.NotFound(w, "No subscription found")
			return
		}
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to get subscription")
		response.InternalError(w)
		return
	}

	response.OK(w, SubscriptionResponseFromEntity(sub, plan))
}

// PreviewChange handles POST /subscriptions/change/preview
func (h *Handler) PreviewChange(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req ChangePlanRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if details := validator.Validate(&req); details != nil {
		response.ValidationError(w, details)
		return
	}

	preview, err := h.service.PreviewChange(r.Context(), userID, req.PriceID)
	if err != nil {
		h.writeError(w, userID.String(), err)
		return
	}

	response.OK(w, PreviewResponseFromEntity(preview))
}

// ApplyChange handles POST /subscriptions/change
func (h *Handler) ApplyChange(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req ChangePlanRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if details := validator.Validate(&req); details != nil {
		response.ValidationError(w, details)
		return
	}

	result, err := h.service.ApplyChange(r.Context(), userID, req.PriceID)
	if err != nil {
		h.writeError(w, userID.String(), err)
		return
	}

	response.OK(w, ChangeResponseFromEntity(result))
}

func (h *Handler) writeError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, ErrInvalidPriceID):
		response.Error(w, http.StatusBadRequest, "INVALID_PRICE_ID", "Unknown price id")
	case errors.Is(err, ErrNoActiveSubscription):
		response.Error(w, http.StatusBadRequest, "NO_ACTIVE_SUBSCRIPTION", "No active subscription to change")
	case errors.Is(err, ErrSamePlan):
		response.Error(w, http.StatusBadRequest, "SAME_PLAN", "Already subscribed to this plan")
	case errors.Is(err, ErrSubscriptionModified):
		response.Conflict(w, "SUBSCRIPTION_MODIFIED", "Subscription was changed elsewhere, reload and retry")
	default:
		var provider *ProviderError
		if errors.As(err, &provider) {
			details := map[string]string{}
			if provider.Code != "" {
				details["vendor_code"] = provider.Code
			}
			response.BadGateway(w, "Billing provider failed", details)
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("Plan change failed")
		response.InternalError(w)
	}
}
