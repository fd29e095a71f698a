// Package backup snapshots the production environment (file tree plus
// database dump) into timestamped, restorable tar.gz archives and applies
// the retention policy.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/fsx"
)

const (
	archivePrefix = "prod_backup_"
	archiveSuffix = ".tar.gz"
	timestampFmt  = "20060102150405"

	filesDir     = "files"
	databaseFile = "database.sql"
	infoFile     = "backup_info.txt"
)

var archiveNameRe = regexp.MustCompile(`^prod_backup_(\d{14})\.tar\.gz$`)

// Archive describes one backup on disk.
type Archive struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// Name returns the archive's file name.
func (a Archive) Name() string { return archivePrefix + a.ID + archiveSuffix }

// Database is the slice of the data-layer client the backup manager needs.
type Database interface {
	ExportAll(ctx context.Context, outFile string) error
	Import(ctx context.Context, file string) error
}

// Manager creates, lists, prunes and restores archives. It is the only
// writer of archive files in the backup directory.
type Manager struct {
	cfg *config.Config
	db  Database
	log *zap.Logger

	now func() time.Time
}

// New builds a Manager for the production environment.
func New(cfg *config.Config, db Database, log *zap.Logger) *Manager {
	return &Manager{cfg: cfg, db: db, log: log, now: time.Now}
}

// Create snapshots production files and database into a fresh archive.
// Deployment must not proceed past a failed Create: any error here is fatal
// to the pipeline.
func (m *Manager) Create(ctx context.Context) (*Archive, error) {
	if err := os.MkdirAll(m.cfg.BackupDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}

	createdAt := m.now()
	id := createdAt.Format(timestampFmt)

	staging, err := os.MkdirTemp(m.cfg.BackupDir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	// The secrets file never leaves the production host, not even inside
	// an archive.
	skip := map[string]bool{config.SecretsFileName: true}
	if err := fsx.CopyTree(m.cfg.ProdPath, filepath.Join(staging, filesDir), skip); err != nil {
		return nil, fmt.Errorf("copying production files: %w", err)
	}

	if err := m.db.ExportAll(ctx, filepath.Join(staging, databaseFile)); err != nil {
		return nil, fmt.Errorf("dumping production database: %w", err)
	}

	if err := m.writeInfo(filepath.Join(staging, infoFile), createdAt); err != nil {
		return nil, fmt.Errorf("writing backup metadata: %w", err)
	}

	archive := Archive{ID: id, CreatedAt: createdAt}
	archive.Path = filepath.Join(m.cfg.BackupDir, archive.Name())

	if err := tarGz(staging, archive.Path); err != nil {
		os.Remove(archive.Path)
		return nil, fmt.Errorf("compressing backup: %w", err)
	}

	if info, err := os.Stat(archive.Path); err == nil {
		archive.Size = info.Size()
	}

	m.log.Info("backup created",
		zap.String("archive", archive.Path), zap.Int64("bytes", archive.Size))
	return &archive, nil
}

func (m *Manager) writeInfo(path string, createdAt time.Time) error {
	content := fmt.Sprintf(
		"created_at: %s\nprod_path: %s\nstage_path: %s\nprod_url: %s\nstage_url: %s\n",
		createdAt.Format(time.RFC3339),
		m.cfg.ProdPath, m.cfg.StagePath, m.cfg.ProdURL, m.cfg.StageURL,
	)
	return fsx.WriteFileAtomic(path, []byte(content), 0o640)
}

// List returns the archives in the backup directory, newest first. Files
// not matching the archive naming scheme are ignored.
func (m *Manager) List() ([]Archive, error) {
	entries, err := os.ReadDir(m.cfg.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup dir: %w", err)
	}

	var archives []Archive
	for _, e := range entries {
		match := archiveNameRe.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		createdAt, err := time.ParseInLocation(timestampFmt, match[1], time.Local)
		if err != nil {
			continue
		}
		a := Archive{
			ID:        match[1],
			Path:      filepath.Join(m.cfg.BackupDir, e.Name()),
			CreatedAt: createdAt,
		}
		if info, err := e.Info(); err == nil {
			a.Size = info.Size()
		}
		archives = append(archives, a)
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].ID > archives[j].ID })
	return archives, nil
}

// Prune deletes all but the newest MaxBackups archives and returns how many
// were removed. Retention failures are never fatal; the caller logs them.
func (m *Manager) Prune() (int, error) {
	archives, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(archives) <= m.cfg.MaxBackups {
		return 0, nil
	}

	removed := 0
	for _, a := range archives[m.cfg.MaxBackups:] {
		if err := os.Remove(a.Path); err != nil {
			m.log.Warn("could not prune archive", zap.String("archive", a.Path), zap.Error(err))
			continue
		}
		removed++
		m.log.Info("pruned archive", zap.String("archive", a.Path))
	}
	return removed, nil
}

// Find returns the archive with the given ID, or the newest one when id is
// empty.
func (m *Manager) Find(id string) (*Archive, error) {
	archives, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(archives) == 0 {
		return nil, fmt.Errorf("no archives found in %s", m.cfg.BackupDir)
	}
	if id == "" {
		return &archives[0], nil
	}
	for _, a := range archives {
		if a.ID == id || a.Name() == id {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("archive %q not found in %s", id, m.cfg.BackupDir)
}
