package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all risk calculation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Get("/calculate", h.HandleCalculate)
		r.Get("/portfolio-summary", h.HandlePortfolioSummary)
		r.Get("/backtest", h.HandleBacktest)

		r.Get("/product/{productType}", func(w http.ResponseWriter, r *http.Request) {
			productType := chi.URLParam(r, "productType")
			h.HandleProductRisk(w, r, productType)
		})
	})
}
