package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all snapshot routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk/snapshots", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/run", h.HandleRunNow)
		r.Get("/backtest", h.HandleLatestBacktest)
	})
}
