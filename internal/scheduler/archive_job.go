package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/reliability"
)

// ArchiveJob uploads the nightly database archive and rotates old archives
// out of remote storage.
type ArchiveJob struct {
	archive *reliability.ArchiveService
	log     zerolog.Logger
}

// NewArchiveJob creates the nightly archive job
func NewArchiveJob(archive *reliability.ArchiveService, log zerolog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archive: archive,
		log:     log.With().Str("job", "database_archive").Logger(),
	}
}

// Name returns the job name
func (j *ArchiveJob) Name() string {
	return "database_archive"
}

// Run creates, uploads and rotates archives. Uploads of multi-GB history
// files over slow links are the slow path, hence the generous timeout.
func (j *ArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	if err := j.archive.CreateAndUploadArchive(ctx); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	if err := j.archive.RotateArchives(ctx); err != nil {
		return fmt.Errorf("failed to rotate archives: %w", err)
	}

	return nil
}
