package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/config"
	"github.com/oiltrading/riskengine/internal/database"
	"github.com/oiltrading/riskengine/internal/reliability"
	"github.com/oiltrading/riskengine/internal/scheduler"
)

// RegisterJobs creates the background jobs and registers them with the
// cron scheduler. The scheduler is created here but not started; the
// server command starts it once wiring is complete.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.Scheduler = scheduler.New(log)

	// Job 1: Periodic risk snapshot. Also triggered manually through the API
	// and once at startup by the server command.
	container.SnapshotJob = scheduler.NewSnapshotJob(
		container.RiskService,
		container.PositionRepo,
		container.HistoryDB,
		container.SnapshotRepo,
		container.StreamHub,
		cfg.Risk,
		log,
	)
	snapshotSchedule := fmt.Sprintf("@every %dm", cfg.Risk.SnapshotIntervalMin)
	if err := container.Scheduler.AddJob(snapshotSchedule, container.SnapshotJob); err != nil {
		return fmt.Errorf("failed to register snapshot job: %w", err)
	}

	// Job 2: Hourly sweep of expired snapshot rows
	container.CleanupJob = scheduler.NewCleanupJob(container.SnapshotRepo, log)
	if err := container.Scheduler.AddJob("@hourly", container.CleanupJob); err != nil {
		return fmt.Errorf("failed to register cleanup job: %w", err)
	}

	// Job 3: Nightly VaR backtest at 02:30, after the previous trading day
	// has fully settled into the history database
	container.BacktestJob = scheduler.NewBacktestJob(
		container.RiskService,
		container.PositionRepo,
		container.HistoryDB,
		container.SnapshotRepo,
		cfg.Risk,
		log,
	)
	if err := container.Scheduler.AddJob("0 30 2 * * *", container.BacktestJob); err != nil {
		return fmt.Errorf("failed to register backtest job: %w", err)
	}

	// Job 4: Database maintenance every six hours. Market data is excluded,
	// it lives on a separate driver and is regenerable from the seed command.
	container.MaintenanceJob = reliability.NewMaintenanceJob(
		map[string]*database.DB{
			"positions": container.PositionsDB,
			"snapshots": container.SnapshotsDB,
		},
		cfg.DataDir,
		log,
	)
	if err := container.Scheduler.AddJob("0 15 */6 * * *", container.MaintenanceJob); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}

	// Job 5: Nightly archive upload at 04:00 (optional, only when object
	// storage is configured)
	if container.ArchiveService != nil {
		container.ArchiveJob = scheduler.NewArchiveJob(container.ArchiveService, log)
		if err := container.Scheduler.AddJob("0 0 4 * * *", container.ArchiveJob); err != nil {
			return fmt.Errorf("failed to register archive job: %w", err)
		}
		log.Info().Msg("Archive job registered")
	}

	log.Info().Msg("Jobs registered with scheduler")

	return nil
}
