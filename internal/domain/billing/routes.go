package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// PlanRoutes returns the public catalog routes
func (h *Handler) PlanRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListPlans)

	return r
}

// Routes returns authenticated subscription routes
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(authMiddleware)

	r.Get("/current", h.GetCurrent)
	r.Post("/change/preview", h.PreviewChange)
	r.Post("/change", h.ApplyChange)

	return r
}

// WebhookRoutes returns the unauthenticated Stripe webhook route;
// authenticity comes from signature verification.
func (wh *WebhookHandler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/stripe", wh.Handle)

	return r
}
