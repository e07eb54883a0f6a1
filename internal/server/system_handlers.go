package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/oiltrading/riskengine/internal/database"
	"github.com/oiltrading/riskengine/internal/version"
)

// handleSystemStats handles GET /api/system/stats: process and host health
// for the operations dashboard.
func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := s.getSystemStats()

	positionCount, err := s.container.PositionRepo.GetCount()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to count positions")
	}
	snapshotCount, err := s.container.SnapshotRepo.Count()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to count snapshots")
	}

	response := map[string]interface{}{
		"status":         "running",
		"version":        version.Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"cpu_percent":    cpuPercent,
		"ram_percent":    ramPercent,
		"goroutines":     runtime.NumGoroutine(),
		"book": map[string]interface{}{
			"positions": positionCount,
			"snapshots": snapshotCount,
		},
		"stream_subscribers": s.container.StreamHub.SubscriberCount(),
		"databases":          s.databaseStats(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a shorter interval (100ms) for faster response while still providing accurate readings
func (s *Server) getSystemStats() (float64, float64) {
	// Get CPU percentage (average across all CPUs, over 100ms for faster response)
	// Using 100ms instead of 1s to avoid blocking the API call for too long
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	// Get memory statistics (instant, no blocking)
	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	// Return average CPU percentage and RAM usage percentage
	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// databaseStats collects file and page statistics per database. The market
// store is on a plain sql.DB, so only its open connection count is reported.
func (s *Server) databaseStats() map[string]interface{} {
	out := make(map[string]interface{})

	for name, db := range map[string]*database.DB{
		"positions": s.container.PositionsDB,
		"snapshots": s.container.SnapshotsDB,
	} {
		stats, err := db.GetStats()
		if err != nil {
			s.log.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			continue
		}
		out[name] = map[string]interface{}{
			"size_bytes":     stats.SizeBytes,
			"wal_size_bytes": stats.WALSizeBytes,
			"page_count":     stats.PageCount,
			"freelist_count": stats.FreelistCount,
		}
	}

	out["market"] = map[string]interface{}{
		"open_connections": s.container.MarketDB.Stats().OpenConnections,
	}

	return out
}
