package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/oiltrading/riskengine/internal/version"
)

// handleHealth handles health check requests. Every database gets a ping; a
// failed ping degrades the status and flips the response to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := []struct {
		name string
		ping func(context.Context) error
	}{
		{"positions", s.container.PositionsDB.QuickCheck},
		{"snapshots", s.container.SnapshotsDB.QuickCheck},
		{"market", s.container.MarketDB.PingContext},
	}

	databases := make(map[string]string, len(checks))
	healthy := true
	for _, check := range checks {
		if err := check.ping(ctx); err != nil {
			s.log.Warn().Err(err).Str("database", check.name).Msg("Health check ping failed")
			databases[check.name] = "unreachable"
			healthy = false
			continue
		}
		databases[check.name] = "ok"
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"version":   version.Version,
		"service":   "riskengine",
		"databases": databases,
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
