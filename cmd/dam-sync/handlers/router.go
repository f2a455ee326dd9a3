package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the public and admin routes. admin guards /admin.
func NewRouter(h *Handler, admin func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Get("/status", h.Status)

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/authorize", h.Authorize)
		r.Get("/callback", h.Callback)
	})

	r.Route("/admin", func(r chi.Router) {
		if admin != nil {
			r.Use(admin)
		}
		r.Post("/queue/resume", h.Resume)
		r.Post("/sync", h.Sync)
		r.Post("/drain", h.Drain)
	})

	return r
}
