// Package reliability provides database archiving to S3-compatible storage
// and scheduled database maintenance.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/database"
	"github.com/oiltrading/riskengine/internal/version"
)

const archivePrefix = "risk-archive-"

// ArchiveService snapshots the databases into a tar.gz and uploads it to the
// archive bucket.
type ArchiveService struct {
	client        *S3Client
	databases     map[string]*database.DB
	dataDir       string
	retentionDays int
	log           zerolog.Logger
}

// ArchiveMetadata describes one uploaded archive.
type ArchiveMetadata struct {
	CreatedAt     time.Time      `json:"created_at"`
	EngineVersion string         `json:"engine_version"`
	Databases     []DatabaseFile `json:"databases"`
}

// DatabaseFile describes a single database copy inside an archive.
type DatabaseFile struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// ArchiveInfo summarizes an archive stored in the bucket.
type ArchiveInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewArchiveService creates an archive service over the given databases.
func NewArchiveService(
	client *S3Client,
	databases map[string]*database.DB,
	dataDir string,
	retentionDays int,
	log zerolog.Logger,
) *ArchiveService {
	return &ArchiveService{
		client:        client,
		databases:     databases,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		log:           log.With().Str("service", "archive").Logger(),
	}
}

// CreateAndUploadArchive copies every database with VACUUM INTO, verifies the
// copies, bundles them with a metadata file into a tar.gz and uploads it.
func (s *ArchiveService) CreateAndUploadArchive(ctx context.Context) error {
	s.log.Info().Msg("Starting archive upload")
	startTime := time.Now()

	stagingDir := filepath.Join(s.dataDir, "archive-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	// Deterministic archive layout regardless of map order
	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	metadata := ArchiveMetadata{
		CreatedAt:     time.Now().UTC(),
		EngineVersion: version.Version,
		Databases:     make([]DatabaseFile, 0, len(names)),
	}

	files := make([]string, 0, len(names)+1)
	for _, name := range names {
		filename := name + ".db"
		dbPath := filepath.Join(stagingDir, filename)

		s.log.Debug().Str("database", name).Msg("Copying database")

		// VACUUM INTO writes a consistent copy without the WAL sidecar
		if _, err := s.databases[name].Conn().Exec(fmt.Sprintf("VACUUM INTO '%s'", dbPath)); err != nil {
			return fmt.Errorf("failed to copy %s: %w", name, err)
		}

		if err := verifyDatabaseCopy(dbPath); err != nil {
			return fmt.Errorf("copy of %s failed verification: %w", name, err)
		}

		info, err := os.Stat(dbPath)
		if err != nil {
			return fmt.Errorf("failed to stat copy of %s: %w", name, err)
		}

		checksum, err := fileChecksum(dbPath)
		if err != nil {
			return fmt.Errorf("failed to checksum copy of %s: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseFile{
			Name:      name,
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	metadataName := "archive-metadata.json"
	if err := writeMetadata(filepath.Join(stagingDir, metadataName), metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataName)

	timestamp := time.Now().Format("2006-01-02-150405")
	archiveName := archivePrefix + timestamp + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)

	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.client.Upload(ctx, archiveName, archiveFile, archiveInfo.Size()); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Int("databases", len(metadata.Databases)).
		Msg("Archive upload completed")

	return nil
}

// ListArchives lists the archives in the bucket, newest first.
func (s *ArchiveService) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	objects, err := s.client.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	archives := make([]ArchiveInfo, 0, len(objects))
	now := time.Now()

	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}

		key := *obj.Key
		timestamp, ok := parseArchiveTimestamp(key)
		if !ok {
			s.log.Warn().Str("key", key).Msg("Skipping object with unparseable name")
			continue
		}

		var sizeBytes int64
		if obj.Size != nil {
			sizeBytes = *obj.Size
		}

		archives = append(archives, ArchiveInfo{
			Key:       key,
			Timestamp: timestamp,
			SizeBytes: sizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})

	return archives, nil
}

// minArchivesToKeep is the floor the rotation never deletes below, whatever
// the retention period says.
const minArchivesToKeep = 3

// RotateArchives deletes archives older than the retention period. A
// retention of zero keeps everything.
func (s *ArchiveService) RotateArchives(ctx context.Context) error {
	archives, err := s.ListArchives(ctx)
	if err != nil {
		return err
	}

	if len(archives) <= minArchivesToKeep {
		s.log.Debug().Int("count", len(archives)).Msg("Too few archives to rotate")
		return nil
	}
	if s.retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted := 0

	for i, archive := range archives {
		if i < minArchivesToKeep {
			continue
		}
		if !archive.Timestamp.Before(cutoff) {
			continue
		}

		if err := s.client.Delete(ctx, archive.Key); err != nil {
			s.log.Error().Err(err).Str("key", archive.Key).Msg("Failed to delete old archive")
			continue
		}

		s.log.Info().
			Str("key", archive.Key).
			Time("timestamp", archive.Timestamp).
			Msg("Deleted old archive")
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(archives)-deleted).
		Msg("Archive rotation completed")

	return nil
}

// parseArchiveTimestamp extracts the creation time encoded in an archive key.
func parseArchiveTimestamp(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, archivePrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}

	raw := strings.TrimSuffix(strings.TrimPrefix(key, archivePrefix), ".tar.gz")
	timestamp, err := time.Parse("2006-01-02-150405", raw)
	if err != nil {
		return time.Time{}, false
	}
	return timestamp, true
}

// verifyDatabaseCopy runs an integrity check against a staged copy.
func verifyDatabaseCopy(path string) error {
	copyDB, err := database.New(database.Config{Path: path, Profile: database.ProfileCache, Name: "archive-copy"})
	if err != nil {
		return fmt.Errorf("failed to open copy: %w", err)
	}
	defer copyDB.Close()

	var result string
	if err := copyDB.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// fileChecksum computes the SHA256 of a file.
func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

// writeMetadata writes the archive metadata JSON.
func writeMetadata(path string, metadata ArchiveMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive bundles the named files from sourceDir into a tar.gz.
func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}

	return nil
}

// addFileToArchive appends one file to a tar stream.
func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}

	return nil
}
