package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
)

// NewRouter builds the chi router with the global middleware stack.
func NewRouter(h *Handler, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))
	r.Use(CORS)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Get("/{id}", h.GetSession)
		r.Post("/{id}/register", h.Register)
		r.Get("/{id}/registrations", h.ListRegistrations)
		r.Get("/{id}/waitlist", h.ListWaitlist)
		r.Post("/{id}/sweep", h.Sweep)
	})

	r.Route("/registrations", func(r chi.Router) {
		r.Get("/{id}", h.GetRegistration)
		r.Delete("/{id}", h.CancelRegistration)
		r.Get("/{id}/waitlist-position", h.GetWaitlistPosition)
	})

	r.Route("/waitlist", func(r chi.Router) {
		r.Post("/{id}/accept", h.AcceptPromotion)
		r.Post("/{id}/decline", h.DeclinePromotion)
		r.Delete("/{id}", h.WithdrawEntry)
	})

	return r
}
