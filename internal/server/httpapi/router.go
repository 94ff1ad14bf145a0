package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/passkeygate/internal/server/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the chi router with every route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)
	r.Use(h.resolveSession)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.beginRegistration)
			r.Post("/register/verify", h.finishRegistration)
			r.Post("/login", h.beginLogin)
			r.Post("/login/verify", h.finishLogin)
			r.Post("/logout", h.logout)
		})

		r.Get("/session", h.currentSession)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/credentials", h.listCredentials)
			r.Delete("/credentials", h.deleteCredential)
			r.Get("/logs", h.listLogs)
		})

		r.Post("/events", h.events)
		r.Post("/logs/ingest", h.ingest)
	})

	return r
}
