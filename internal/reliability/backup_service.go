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

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/database"
)

const archivePrefix = "rudder-backup-"
const timestampLayout = "2006-01-02-150405"

// BackupService creates point-in-time archives of the state and analytics
// databases and rotates old ones in the bucket.
type BackupService struct {
	state     *database.DB
	analytics *database.DB
	store     ObjectStore
	cfg       config.BackupConfig
	dataDir   string
	log       zerolog.Logger
}

// Manifest describes one backup archive.
type Manifest struct {
	Timestamp time.Time      `json:"timestamp"`
	Databases []DatabaseCopy `json:"databases"`
}

// DatabaseCopy records one database file inside a backup archive.
type DatabaseCopy struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes one archive stored in the bucket.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// NewBackupService wires the backup pipeline.
func NewBackupService(state, analytics *database.DB, store ObjectStore, cfg config.BackupConfig, dataDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		state:     state,
		analytics: analytics,
		store:     store,
		cfg:       cfg,
		dataDir:   dataDir,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// Run creates one backup archive, uploads it and rotates old backups.
func (s *BackupService) Run(ctx context.Context) error {
	start := time.Now()

	key, err := s.CreateAndUpload(ctx)
	if err != nil {
		return err
	}
	if err := s.Rotate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("backup rotation failed")
	}

	s.log.Info().
		Str("key", key).
		Dur("duration_ms", time.Since(start)).
		Msg("backup completed")
	return nil
}

// CreateAndUpload builds the archive in a staging directory and uploads it.
// Returns the bucket key of the new archive.
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	manifest := Manifest{Timestamp: time.Now().UTC()}

	for _, db := range []*database.DB{s.state, s.analytics} {
		filename := db.Name() + ".db"
		copyPath := filepath.Join(stagingDir, filename)

		// Checkpoint so the vacuum copy carries every committed write
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed before backup")
		}
		if err := db.VacuumInto(copyPath); err != nil {
			return "", fmt.Errorf("failed to copy %s: %w", db.Name(), err)
		}

		info, err := os.Stat(copyPath)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s copy: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(copyPath)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s copy: %w", db.Name(), err)
		}

		manifest.Databases = append(manifest.Databases, DatabaseCopy{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	manifestPath := filepath.Join(stagingDir, "manifest.json")
	if err := writeManifest(manifestPath, manifest); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	archiveName := archivePrefix + manifest.Timestamp.Format(timestampLayout) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)

	files := []string{"manifest.json"}
	for _, db := range manifest.Databases {
		files = append(files, db.Filename)
	}
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	key := s.objectKey(archiveName)
	if err := s.store.Upload(ctx, key, archivePath); err != nil {
		return "", err
	}
	return key, nil
}

// List returns the archives in the bucket, newest first.
func (s *BackupService) List(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, s.objectKey(archivePrefix))
	if err != nil {
		return nil, err
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		ts, ok := parseArchiveKey(*obj.Key)
		if !ok {
			continue
		}
		info := BackupInfo{Key: *obj.Key, Timestamp: ts}
		if obj.Size != nil {
			info.SizeBytes = *obj.Size
		}
		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Rotate deletes archives beyond the configured keep count.
func (s *BackupService) Rotate(ctx context.Context) error {
	keep := s.cfg.Keep
	if keep <= 0 {
		return nil
	}

	backups, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= keep {
		return nil
	}

	deleted := 0
	for _, backup := range backups[keep:] {
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("kept", len(backups)-deleted).
		Msg("backup rotation completed")
	return nil
}

func (s *BackupService) objectKey(name string) string {
	if s.cfg.S3.Prefix == "" {
		return name
	}
	return strings.TrimSuffix(s.cfg.S3.Prefix, "/") + "/" + name
}

// parseArchiveKey extracts the timestamp from a bucket key like
// "<prefix>/rudder-backup-2026-08-26-030000.tar.gz".
func parseArchiveKey(key string) (time.Time, bool) {
	base := key
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if !strings.HasPrefix(base, archivePrefix) || !strings.HasSuffix(base, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(base, archivePrefix), ".tar.gz")
	ts, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

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

func writeManifest(path string, manifest Manifest) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(manifest)
}

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

func addFileToArchive(tarWriter *tar.Writer, path, nameInArchive string) error {
	file, err := os.Open(path)
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
	_, err = io.Copy(tarWriter, file)
	return err
}
