package syncer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	dirMode     = 0o755
	fileMode    = 0o644
	secretsMode = 0o600

	// The uploads tree stays writable for the web server user's group.
	uploadDirMode  = 0o775
	uploadFileMode = 0o664
)

const permWorkers = 8

// uploadsDir is the asset tree, relative to the production root.
const uploadsDir = "wp-content/uploads"

// NormalizePermissions walks the production tree and applies the standard
// modes: 0755/0644 generally, 0600 for the secrets file, and group-writable
// modes under the uploads tree. The chmod fan-out runs on a bounded worker
// pool; the files are disjoint so there is no ordering dependency. Chmod
// failures are counted and logged, never fatal.
func (s *Syncer) NormalizePermissions(ctx context.Context) error {
	type chmodJob struct {
		path string
		mode os.FileMode
	}

	uploads := filepath.Join(s.cfg.ProdPath, filepath.FromSlash(uploadsDir))
	secrets := s.cfg.SecretsFile()

	var jobs []chmodJob
	err := filepath.WalkDir(s.cfg.ProdPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		inUploads := path == uploads || strings.HasPrefix(path, uploads+string(os.PathSeparator))
		var mode os.FileMode
		switch {
		case path == secrets:
			mode = secretsMode
		case d.IsDir() && inUploads:
			mode = uploadDirMode
		case d.IsDir():
			mode = dirMode
		case inUploads:
			mode = uploadFileMode
		default:
			mode = fileMode
		}
		jobs = append(jobs, chmodJob{path: path, mode: mode})
		return nil
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(permWorkers)

	for _, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := os.Chmod(job.path, job.mode); err != nil {
				s.log.Warn("chmod failed", zap.String("path", job.path), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.log.Info("permissions normalized",
		zap.String("root", s.cfg.ProdPath), zap.Int("entries", len(jobs)))
	return nil
}
