package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/fsx"
)

// Restore replaces production files and database from an archive: the file
// mirror deletes anything not present in the archive (keeping the current
// secrets file), then the database dump is imported wholesale. Extraction
// and import failures are fatal; production may already be partially
// rewritten when the import fails, which is why the archive itself is never
// mutated.
func (m *Manager) Restore(ctx context.Context, archive *Archive) error {
	extracted, err := os.MkdirTemp(m.cfg.BackupDir, ".restore-*")
	if err != nil {
		return fmt.Errorf("creating extraction dir: %w", err)
	}
	defer os.RemoveAll(extracted)

	if err := untarGz(archive.Path, extracted); err != nil {
		return fmt.Errorf("extracting %s: %w", archive.Name(), err)
	}

	files := filepath.Join(extracted, filesDir)
	if _, err := os.Stat(files); err != nil {
		return fmt.Errorf("archive %s has no file tree: %w", archive.Name(), err)
	}
	dump := filepath.Join(extracted, databaseFile)
	if _, err := os.Stat(dump); err != nil {
		return fmt.Errorf("archive %s has no database dump: %w", archive.Name(), err)
	}

	// The current wp-config.php survives the mirror untouched; archives
	// never contain one.
	keep := map[string]bool{config.SecretsFileName: true}
	if err := fsx.MirrorTree(files, m.cfg.ProdPath, keep); err != nil {
		return fmt.Errorf("restoring production files: %w", err)
	}
	m.log.Info("production files restored", zap.String("archive", archive.Name()))

	if err := m.db.Import(ctx, dump); err != nil {
		return fmt.Errorf("restoring production database: %w", err)
	}
	m.log.Info("production database restored", zap.String("archive", archive.Name()))

	return nil
}

// Verify checks that an archive is extractable and self-describing: it must
// contain the file tree, the database dump, and the metadata record. Used
// before any destructive pipeline step to prove the fallback path works.
func (m *Manager) Verify(archive *Archive) error {
	probe, err := os.MkdirTemp("", "stagehand-verify-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(probe)

	if err := untarGz(archive.Path, probe); err != nil {
		return fmt.Errorf("archive %s is not extractable: %w", archive.Name(), err)
	}
	for _, want := range []string{filesDir, databaseFile, infoFile} {
		if _, err := os.Stat(filepath.Join(probe, want)); err != nil {
			return fmt.Errorf("archive %s is missing %s", archive.Name(), want)
		}
	}
	return nil
}
