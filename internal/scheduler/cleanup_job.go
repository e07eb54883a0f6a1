package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/modules/snapshots"
)

// CleanupJob sweeps expired snapshots from the cache.
type CleanupJob struct {
	snapshotRepo *snapshots.Repository
	log          zerolog.Logger
}

// NewCleanupJob creates the hourly snapshot cleanup job
func NewCleanupJob(snapshotRepo *snapshots.Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		snapshotRepo: snapshotRepo,
		log:          log.With().Str("job", "snapshot_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *CleanupJob) Name() string {
	return "snapshot_cleanup"
}

// Run deletes expired snapshots
func (j *CleanupJob) Run() error {
	deleted, err := j.snapshotRepo.DeleteExpired()
	if err != nil {
		return fmt.Errorf("failed to sweep snapshots: %w", err)
	}

	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Expired snapshots removed")
	}

	return nil
}
