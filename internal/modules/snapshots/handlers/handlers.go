// Package handlers provides HTTP handlers for stored risk snapshots: listing
// recent snapshots, triggering an immediate refresh and serving the latest
// backtest run.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/modules/snapshots"
)

// SnapshotRefresher triggers an immediate snapshot computation. The
// scheduler's snapshot job satisfies it.
type SnapshotRefresher interface {
	Run() error
}

// Handler handles snapshot HTTP requests
type Handler struct {
	snapshotRepo *snapshots.Repository
	refresher    SnapshotRefresher
	log          zerolog.Logger
}

// NewHandler creates a new snapshot handler
func NewHandler(snapshotRepo *snapshots.Repository, refresher SnapshotRefresher, log zerolog.Logger) *Handler {
	return &Handler{
		snapshotRepo: snapshotRepo,
		refresher:    refresher,
		log:          log.With().Str("handler", "snapshots").Logger(),
	}
}

// HandleList handles GET /risk/snapshots?limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			http.Error(w, "limit must be an integer between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	infos, err := h.snapshotRepo.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list snapshots")
		http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	items := make([]map[string]interface{}, 0, len(infos))
	for _, info := range infos {
		items = append(items, map[string]interface{}{
			"id":                  info.ID,
			"paramsKey":           info.ParamsKey,
			"createdAt":           info.CreatedAt.Format(time.RFC3339),
			"expiresAt":           info.ExpiresAt.Format(time.RFC3339),
			"expired":             info.ExpiresAt.Before(now),
			"calculationId":       info.Result.CalculationID,
			"totalPortfolioValue": info.Result.TotalPortfolioValue,
			"positionCount":       info.Result.PositionCount,
			"historicalVaR95":     info.Result.HistoricalVaR95,
			"garchVaR95":          info.Result.GarchVaR95,
			"monteCarloVaR95":     info.Result.MonteCarloVaR95,
			"expectedShortfall95": info.Result.ExpectedShortfall95,
			"degraded":            info.Result.Degraded,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"snapshots": items,
			"count":     len(items),
		},
		"metadata": map[string]interface{}{
			"timestamp": now.Format(time.RFC3339),
		},
	})
}

// HandleRunNow handles POST /risk/snapshots/run: compute a snapshot
// immediately instead of waiting for the next scheduled tick.
func (h *Handler) HandleRunNow(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		http.Error(w, "Snapshot scheduling is not enabled", http.StatusServiceUnavailable)
		return
	}

	if err := h.refresher.Run(); err != nil {
		h.log.Error().Err(err).Msg("Manual snapshot run failed")
		http.Error(w, "Snapshot run failed", http.StatusInternalServerError)
		return
	}

	result, found, err := h.snapshotRepo.LatestAny()
	if err != nil || !found {
		// The run succeeded, the readback is best effort.
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"status": "completed"},
			"metadata": map[string]interface{}{
				"timestamp": time.Now().Format(time.RFC3339),
			},
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"status":              "completed",
			"calculationId":       result.CalculationID,
			"totalPortfolioValue": result.TotalPortfolioValue,
			"positionCount":       result.PositionCount,
			"degraded":            result.Degraded,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleLatestBacktest handles GET /risk/snapshots/backtest: the most recent
// nightly backtest run.
func (h *Handler) HandleLatestBacktest(w http.ResponseWriter, r *http.Request) {
	result, found, err := h.snapshotRepo.LatestBacktest()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read backtest")
		http.Error(w, "Failed to read backtest", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "No backtest stored yet", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
