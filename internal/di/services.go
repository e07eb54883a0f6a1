package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/config"
	"github.com/oiltrading/riskengine/internal/database"
	"github.com/oiltrading/riskengine/internal/modules/risk"
	"github.com/oiltrading/riskengine/internal/reliability"
	"github.com/oiltrading/riskengine/internal/stream"
)

// InitializeServices creates the calculation and infrastructure services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.RiskService = risk.NewService(cfg.Risk, log)
	container.StreamHub = stream.NewHub(log)

	// Archive service only when object storage credentials are present.
	if cfg.Archive.Enabled() {
		client, err := reliability.NewS3Client(cfg.Archive, log)
		if err != nil {
			return fmt.Errorf("failed to create archive storage client: %w", err)
		}
		container.ArchiveService = reliability.NewArchiveService(
			client,
			map[string]*database.DB{
				"positions": container.PositionsDB,
				"snapshots": container.SnapshotsDB,
			},
			cfg.DataDir,
			cfg.Archive.RetentionDays,
			log,
		)
	} else {
		log.Info().Msg("Archive storage not configured, nightly archives disabled")
	}

	log.Info().Msg("All services initialized")

	return nil
}
