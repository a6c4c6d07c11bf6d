package upscale

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns authenticated upscale routes. rateLimit gates the
// billable endpoint before any credit logic runs.
func (h *Handler) Routes(authMiddleware, rateLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(authMiddleware)

	r.With(rateLimit).Post("/", h.Create)

	return r
}
