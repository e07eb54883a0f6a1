// Package di provides dependency injection wiring and initialization.
package di

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/config"
	"github.com/oiltrading/riskengine/internal/database"
	"github.com/oiltrading/riskengine/internal/modules/marketdata"
	"github.com/oiltrading/riskengine/internal/modules/positions"
	"github.com/oiltrading/riskengine/internal/modules/snapshots"
)

// InitializeDatabases opens the three databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. positions.db - The open paper-trading book (the record that matters)
	positionsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "positions.db"),
		Profile: database.ProfileLedger,
		Name:    "positions",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize positions database: %w", err)
	}
	container.PositionsDB = positionsDB

	// 2. snapshots.db - Cached risk reports and backtest runs (reproducible)
	snapshotsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "snapshots.db"),
		Profile: database.ProfileCache,
		Name:    "snapshots",
	})
	if err != nil {
		positionsDB.Close()
		return nil, fmt.Errorf("failed to initialize snapshots database: %w", err)
	}
	container.SnapshotsDB = snapshotsDB

	// 3. market.db - Daily price history, on the mattn driver
	marketDB, err := sql.Open("sqlite3",
		filepath.Join(cfg.DataDir, "market.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		positionsDB.Close()
		snapshotsDB.Close()
		return nil, fmt.Errorf("failed to open market database: %w", err)
	}
	container.MarketDB = marketDB

	// Apply schemas
	if err := positions.InitSchema(positionsDB.Conn()); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to apply positions schema: %w", err)
	}
	if err := snapshots.InitSchema(snapshotsDB.Conn()); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to apply snapshots schema: %w", err)
	}
	if err := marketdata.InitSchema(marketDB); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to apply market schema: %w", err)
	}

	log.Info().Msg("All databases initialized and schemas applied")

	return container, nil
}
