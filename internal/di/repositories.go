package di

import (
	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/modules/marketdata"
	"github.com/oiltrading/riskengine/internal/modules/positions"
	"github.com/oiltrading/riskengine/internal/modules/snapshots"
)

// InitializeRepositories creates the data access layer on top of the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	container.PositionRepo = positions.NewRepository(container.PositionsDB.Conn(), log)
	container.HistoryDB = marketdata.NewHistoryDB(container.MarketDB, log)
	container.SnapshotRepo = snapshots.NewRepository(container.SnapshotsDB.Conn(), log)

	log.Info().Msg("All repositories initialized")

	return nil
}
