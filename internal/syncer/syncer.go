// Package syncer mirrors the staging file tree onto production and owns
// the file-level policy around it: the exclusion denylist, preservation of
// the production secrets file, permission normalization, and cache-layer
// cleanup.
package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/execx"
	"github.com/stagehand-sh/stagehand/internal/fsx"
)

// Excludes is the fixed denylist for the mirror: the secrets file, VCS
// metadata, OS droppings, and the cache layers of the known caching
// plugins. Everything here is either production-local or rebuildable.
var Excludes = []string{
	config.SecretsFileName,
	".git",
	".svn",
	".DS_Store",
	"Thumbs.db",
	"wp-content/cache",
	"wp-content/advanced-cache.php",
	"wp-content/object-cache.php",
	"wp-content/w3tc-config",
	"wp-content/uploads/cache",
}

// cacheDirs are cleared (contents only) on deploy and restore, relative to
// the production root.
var cacheDirs = []string{
	"wp-content/cache",
	"wp-content/uploads/cache",
	"wp-content/et-cache",
	"wp-content/wp-rocket-cache",
}

// Syncer mirrors staging onto production.
type Syncer struct {
	cfg    *config.Config
	runner execx.Runner
	log    *zap.Logger
}

// New builds a Syncer.
func New(cfg *config.Config, runner execx.Runner, log *zap.Logger) *Syncer {
	return &Syncer{cfg: cfg, runner: runner, log: log}
}

// rsyncArgs builds the mirror invocation: archive mode (permissions and
// times), delete semantics, checksum-based change detection, and the
// denylist.
func rsyncArgs(cfg *config.Config) []string {
	args := []string{"-az", "--delete", "--checksum"}
	for _, e := range Excludes {
		args = append(args, "--exclude="+e)
	}
	// Trailing slash: sync the *contents* of staging into the prod root.
	args = append(args, cfg.StagePath+string(os.PathSeparator), cfg.ProdPath)
	return args
}

// Sync mirrors the staging tree onto production. The production secrets
// file is captured before the mirror and written back afterwards, so even
// an rsync exclusion mishap cannot lose it. A mirror failure is fatal to
// the pipeline.
func (s *Syncer) Sync(ctx context.Context) error {
	secrets, err := os.ReadFile(s.cfg.SecretsFile())
	if err != nil {
		return fmt.Errorf("capturing production %s: %w", config.SecretsFileName, err)
	}

	if _, err := s.runner.Run(ctx, "rsync", rsyncArgs(s.cfg)...); err != nil {
		return fmt.Errorf("mirroring staging files: %w", err)
	}

	if err := fsx.WriteFileAtomic(s.cfg.SecretsFile(), secrets, 0o600); err != nil {
		return fmt.Errorf("restoring production %s: %w", config.SecretsFileName, err)
	}

	s.log.Info("staging files mirrored onto production",
		zap.String("from", s.cfg.StagePath), zap.String("to", s.cfg.ProdPath))
	return nil
}

// ClearCaches empties the known cache directories under the production
// root. Missing directories are fine; removal failures are logged and
// skipped. Returns the directories actually cleared.
func (s *Syncer) ClearCaches() []string {
	var cleared []string
	for _, rel := range cacheDirs {
		dir := filepath.Join(s.cfg.ProdPath, filepath.FromSlash(rel))
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		failed := false
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				s.log.Warn("could not clear cache entry",
					zap.String("dir", dir), zap.String("entry", e.Name()), zap.Error(err))
				failed = true
			}
		}
		if !failed {
			cleared = append(cleared, rel)
		}
	}
	return cleared
}
