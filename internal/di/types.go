package di

import (
	"database/sql"

	"github.com/oiltrading/riskengine/internal/database"
	"github.com/oiltrading/riskengine/internal/modules/marketdata"
	"github.com/oiltrading/riskengine/internal/modules/positions"
	"github.com/oiltrading/riskengine/internal/modules/risk"
	"github.com/oiltrading/riskengine/internal/modules/snapshots"
	"github.com/oiltrading/riskengine/internal/reliability"
	"github.com/oiltrading/riskengine/internal/scheduler"
	"github.com/oiltrading/riskengine/internal/stream"
)

// Container holds all initialized dependencies
type Container struct {
	// Databases
	PositionsDB *database.DB
	SnapshotsDB *database.DB
	MarketDB    *sql.DB

	// Repositories
	PositionRepo *positions.Repository
	HistoryDB    *marketdata.HistoryDB
	SnapshotRepo *snapshots.Repository

	// Services
	RiskService    *risk.Service
	StreamHub      *stream.Hub
	ArchiveService *reliability.ArchiveService // nil unless archive storage is configured

	// Scheduler and jobs
	Scheduler      *scheduler.Scheduler
	SnapshotJob    *scheduler.SnapshotJob
	CleanupJob     *scheduler.CleanupJob
	BacktestJob    *scheduler.BacktestJob
	ArchiveJob     *scheduler.ArchiveJob // nil unless archive storage is configured
	MaintenanceJob *reliability.MaintenanceJob
}

// Close releases every database connection the container owns
func (c *Container) Close() {
	if c.PositionsDB != nil {
		c.PositionsDB.Close()
	}
	if c.SnapshotsDB != nil {
		c.SnapshotsDB.Close()
	}
	if c.MarketDB != nil {
		c.MarketDB.Close()
	}
}
