package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/stagehand-sh/stagehand/internal/preserve"
)

// migrate replaces the production schema with staging's. When preserved
// snapshots exist, only the non-preserved production tables are dropped so
// the preserved ones survive in place unless the staging dump redefines
// them; otherwise the whole schema is reset. A drop that fails leaves its
// table in place for the import to overwrite and degrades the run to
// warnings instead of aborting it. The staging dump lands in the backup
// directory and is deleted only after a clean import.
func (p *Pipeline) migrate(ctx context.Context, res *Result, snaps []preserve.Snapshot) error {
	if err := os.MkdirAll(p.cfg.BackupDir, 0o750); err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}
	dump := filepath.Join(p.cfg.BackupDir,
		fmt.Sprintf("stage_import_%s.sql", time.Now().Format("20060102150405")))

	if err := p.stage.ExportAll(ctx, dump); err != nil {
		return fmt.Errorf("exporting staging database: %w", err)
	}

	if len(snaps) == 0 {
		if err := p.prod.Reset(ctx); err != nil {
			return fmt.Errorf("resetting production schema: %w", err)
		}
	} else {
		drop, err := p.dropSet(ctx, snaps)
		if err != nil {
			return err
		}
		for _, dropErr := range p.prod.DropTables(ctx, drop) {
			p.warn(res, "%v; table left in place for the import to overwrite", dropErr)
		}
	}

	if err := p.prod.Import(ctx, dump); err != nil {
		return fmt.Errorf("importing staging database: %w", err)
	}

	if err := os.Remove(dump); err != nil {
		p.log.Warn("could not remove staging dump", zap.String("dump", dump), zap.Error(err))
	}
	return nil
}

// dropSet is every production table except the snapshotted preserved ones.
// Only snapshotted tables are spared: a configured preserved table with no
// snapshot did not exist at snapshot time, so there is nothing to protect.
func (p *Pipeline) dropSet(ctx context.Context, snaps []preserve.Snapshot) ([]string, error) {
	names, err := p.prod.TableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing production tables: %w", err)
	}

	preserved := make(map[string]bool, len(snaps))
	for _, s := range snaps {
		preserved[s.Table] = true
	}

	var drop []string
	for _, name := range names {
		if !preserved[name] {
			drop = append(drop, name)
		}
	}
	return drop, nil
}
