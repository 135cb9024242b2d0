package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/database"
)

const (
	archivePrefix = "vnquant-backup-"
	archiveStamp  = "2006-01-02-150405"

	// minBackupsToKeep backups survive rotation regardless of age.
	minBackupsToKeep = 3
)

// BackupMetadata describes one backup archive.
type BackupMetadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Files     []FileMetadata `json:"files"`
}

// FileMetadata describes one file inside the archive.
type FileMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes a stored backup for listing and rotation.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots the sqlite databases and the parquet
// history into one tar.gz archive and ships it off-site.
type BackupService struct {
	store         ObjectClient
	databases     []*database.DB
	parquetRoot   string // "" when exports are disabled
	stagingRoot   string
	retentionDays int
	log           zerolog.Logger
}

// NewBackupService creates a backup service. retentionDays 0 keeps
// everything beyond the minimum.
func NewBackupService(store ObjectClient, databases []*database.DB, parquetRoot, stagingRoot string, retentionDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:         store,
		databases:     databases,
		parquetRoot:   parquetRoot,
		stagingRoot:   stagingRoot,
		retentionDays: retentionDays,
		log:           log.With().Str("component", "backup").Logger(),
	}
}

// RunBackup creates, uploads and rotates one backup. Implements the
// scheduler's Backuper.
func (s *BackupService) RunBackup(ctx context.Context) error {
	started := time.Now()

	staging, err := os.MkdirTemp(s.stagingRoot, "backup-staging-")
	if err != nil {
		return fmt.Errorf("backup: create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	metadata := BackupMetadata{Timestamp: started.UTC()}

	// Database snapshots go through VACUUM INTO so the copy is a
	// consistent image even while WAL writers are active.
	for _, db := range s.databases {
		name := db.Name() + ".db"
		dest := filepath.Join(staging, name)
		if err := s.snapshotDatabase(ctx, db, dest); err != nil {
			return fmt.Errorf("backup: snapshot %s: %w", db.Name(), err)
		}
		fm, err := fileMetadata(dest, name)
		if err != nil {
			return fmt.Errorf("backup: checksum %s: %w", name, err)
		}
		metadata.Files = append(metadata.Files, fm)
	}

	parquetFiles, err := s.collectParquet()
	if err != nil {
		return err
	}
	for _, pf := range parquetFiles {
		fm, err := fileMetadata(pf.path, pf.name)
		if err != nil {
			return fmt.Errorf("backup: checksum %s: %w", pf.name, err)
		}
		metadata.Files = append(metadata.Files, fm)
	}

	metadataPath := filepath.Join(staging, "backup-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("backup: write metadata: %w", err)
	}

	archiveName := archivePrefix + started.Format(archiveStamp) + ".tar.gz"
	archivePath := filepath.Join(staging, archiveName)
	if err := s.createArchive(archivePath, staging, metadata, parquetFiles, metadataPath); err != nil {
		return fmt.Errorf("backup: create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("backup: open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, archiveName, archive); err != nil {
		return fmt.Errorf("backup: upload: %w", err)
	}

	info, _ := os.Stat(archivePath)
	s.log.Info().
		Str("archive", archiveName).
		Int("files", len(metadata.Files)).
		Int64("size_bytes", info.Size()).
		Dur("duration_ms", time.Since(started)).
		Msg("Backup uploaded")

	if err := s.RotateOldBackups(ctx); err != nil {
		// A failed rotation never fails the backup itself.
		s.log.Error().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// snapshotDatabase copies one database into dest via VACUUM INTO.
func (s *BackupService) snapshotDatabase(ctx context.Context, db *database.DB, dest string) error {
	// sqlite takes the destination as a string literal; single quotes
	// in the path must be doubled.
	quoted := strings.ReplaceAll(dest, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return err
	}
	return nil
}

type parquetFile struct {
	path string // absolute
	name string // path inside the archive, e.g. parquet/year=2026/.../ticks.parquet
}

// collectParquet walks the export root. A missing root is not an
// error: exports may be disabled or simply not have run yet.
func (s *BackupService) collectParquet() ([]parquetFile, error) {
	if s.parquetRoot == "" {
		return nil, nil
	}
	var files []parquetFile
	err := filepath.WalkDir(s.parquetRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".parquet") {
			return nil
		}
		rel, err := filepath.Rel(s.parquetRoot, path)
		if err != nil {
			return err
		}
		files = append(files, parquetFile{path: path, name: filepath.ToSlash(filepath.Join("parquet", rel))})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: walk parquet root: %w", err)
	}
	return files, nil
}

// ListBackups lists stored backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("backup: list: %w", err)
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, archivePrefix) || !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, archivePrefix), ".tar.gz")
		ts, err := time.Parse(archiveStamp, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Unparseable backup timestamp, skipping")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups past the retention window, always
// keeping the newest minBackupsToKeep.
func (s *BackupService) RotateOldBackups(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep || !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", b.Key).Time("timestamp", b.Timestamp).Msg("Deleted old backup")
		deleted++
	}
	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("Backup rotation completed")
	}
	return nil
}

func fileMetadata(path, name string) (FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMetadata{}, err
	}
	sum, err := checksumFile(path)
	if err != nil {
		return FileMetadata{}, err
	}
	return FileMetadata{Name: name, SizeBytes: info.Size(), Checksum: sum}, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(metadata)
}

// createArchive writes the tar.gz containing the database snapshots,
// the parquet files under their partition paths, and the metadata.
func (s *BackupService) createArchive(archivePath, staging string, metadata BackupMetadata, parquet []parquetFile, metadataPath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	parquetByName := make(map[string]string, len(parquet))
	for _, pf := range parquet {
		parquetByName[pf.name] = pf.path
	}

	for _, fm := range metadata.Files {
		src := parquetByName[fm.Name]
		if src == "" {
			src = filepath.Join(staging, fm.Name)
		}
		if err := addFileToArchive(tw, src, fm.Name); err != nil {
			return fmt.Errorf("add %s: %w", fm.Name, err)
		}
	}
	if err := addFileToArchive(tw, metadataPath, "backup-metadata.json"); err != nil {
		return fmt.Errorf("add metadata: %w", err)
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
