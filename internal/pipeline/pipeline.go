// Package pipeline orchestrates the staging → production promotion: backup,
// preserved-table snapshot, file mirror, database replace, URL rewrite,
// validation, settings normalization and cache invalidation, in that fixed
// order. Failures before the first mutation abort cleanly; failures after it
// abort loudly and point the operator at the fresh backup.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stagehand-sh/stagehand/internal/backup"
	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/execx"
	"github.com/stagehand-sh/stagehand/internal/output"
	"github.com/stagehand-sh/stagehand/internal/preserve"
	"github.com/stagehand-sh/stagehand/internal/rewrite"
	"github.com/stagehand-sh/stagehand/internal/syncer"
	"github.com/stagehand-sh/stagehand/internal/wpdb"
)

// Result collects what a deploy run produced, for the summary and the
// ledger.
type Result struct {
	Backup        *backup.Archive     `json:"backup"`
	Pruned        int                 `json:"pruned_backups"`
	Snapshots     []preserve.Snapshot `json:"preserved_snapshots,omitempty"`
	LostTables    []string            `json:"lost_tables,omitempty"`
	Validation    *rewrite.Report     `json:"validation"`
	Repaired      bool                `json:"repaired"`
	ClearedCaches []string            `json:"cleared_caches,omitempty"`
	Warnings      []string            `json:"warnings,omitempty"`
}

// Degraded reports whether the run finished but left warnings behind.
func (r *Result) Degraded() bool { return len(r.Warnings) > 0 }

// Pipeline wires the stage components against one config.
type Pipeline struct {
	cfg    *config.Config
	runner execx.Runner
	out    *output.Writer
	log    *zap.Logger

	stage *wpdb.Client
	prod  *wpdb.Client

	backups   *backup.Manager
	preserver *preserve.Manager
	files     *syncer.Syncer
	engine    *rewrite.Engine
}

// New builds a pipeline, parsing both environments' credentials up front.
// confirm gates the bulk search-replace; nil auto-confirms.
func New(cfg *config.Config, runner execx.Runner, out *output.Writer, log *zap.Logger, confirm rewrite.ConfirmFunc) (*Pipeline, error) {
	stage, err := wpdb.New(runner, log, cfg.StagePath)
	if err != nil {
		return nil, &PreconditionError{Check: "staging credentials", Err: err}
	}
	prod, err := wpdb.New(runner, log, cfg.ProdPath)
	if err != nil {
		return nil, &PreconditionError{Check: "production credentials", Err: err}
	}

	p := &Pipeline{
		cfg:       cfg,
		runner:    runner,
		out:       out,
		log:       log,
		stage:     stage,
		prod:      prod,
		backups:   backup.New(cfg, prod, log),
		preserver: preserve.New(cfg, prod, log),
		files:     syncer.New(cfg, runner, log),
	}
	p.engine = rewrite.New(prod, prod, prod.Creds.Prefix, cfg.StageURL, cfg.ProdURL, confirm, log)
	return p, nil
}

// Backups exposes the archive manager for find and verify operations.
func (p *Pipeline) Backups() *backup.Manager { return p.backups }

// Close releases both database connections.
func (p *Pipeline) Close() {
	p.stage.Close()
	p.prod.Close()
}

// Deploy runs the full promotion. The returned Result is non-nil whenever
// the run got past preflight, even on error, so the caller can report
// partial progress. A cancelled context means possible partial state.
func (p *Pipeline) Deploy(ctx context.Context) (*Result, error) {
	if err := p.preflight(ctx); err != nil {
		return nil, err
	}

	res := &Result{}
	err := p.deploy(ctx, res)
	if err != nil && ctx.Err() != nil {
		p.log.Warn("deploy interrupted, production may be in a partial state",
			zap.String("backup", backupName(res.Backup)))
	}
	return res, err
}

func (p *Pipeline) deploy(ctx context.Context, res *Result) error {
	p.out.Status("creating production backup")
	arch, err := p.backups.Create(ctx)
	if err != nil {
		return &StageError{Stage: "backup", Err: err}
	}
	res.Backup = arch

	if n, err := p.backups.Prune(); err != nil {
		p.warn(res, "backup pruning failed: %v", err)
	} else {
		res.Pruned = n
	}

	p.out.Status("snapshotting preserved tables")
	snaps, err := p.preserver.SnapshotAll(ctx)
	if err != nil {
		return &StageError{Stage: "preserve snapshot", Err: err}
	}
	res.Snapshots = snaps

	p.out.Status("mirroring staging files onto production")
	if err := p.files.Sync(ctx); err != nil {
		return &StageError{Stage: "file sync", Err: err}
	}
	if err := p.files.NormalizePermissions(ctx); err != nil {
		p.warn(res, "permission normalization failed: %v", err)
	}

	p.out.Status("replacing production database from staging")
	if err := p.migrate(ctx, res, snaps); err != nil {
		return &StageError{Stage: "database migrate", Err: err}
	}

	if len(snaps) > 0 {
		p.out.Status("restoring preserved tables")
		res.LostTables = p.preserver.RestoreAll(ctx, snaps)
		for _, table := range res.LostTables {
			p.warn(res, "preserved table %s could not be restored; its dump is retained in %s", table, p.cfg.BackupDir)
		}
	}

	p.out.Status("rewriting %s -> %s", p.cfg.StageURL, p.cfg.ProdURL)
	if err := p.engine.Rewrite(ctx); err != nil {
		if errors.Is(err, rewrite.ErrDeclined) {
			p.warn(res, "bulk search-replace declined; residual staging URLs will be reported by validation")
		} else {
			return &StageError{Stage: "url rewrite", Err: err}
		}
	}

	p.out.Status("validating rewrite")
	if err := p.validate(ctx, res); err != nil {
		return &StageError{Stage: "validation", Err: err}
	}

	p.out.Status("normalizing production settings")
	for _, w := range p.normalizeSettings(ctx) {
		p.warn(res, "%s", w)
	}

	p.postMutation(ctx, res)
	return nil
}

// validate counts residual staging references and, if any remain, runs one
// unconditional repair pass before the final count. Residuals after repair
// are findings for the operator, not a failure.
func (p *Pipeline) validate(ctx context.Context, res *Result) error {
	report, err := p.engine.Validate(ctx)
	if err != nil {
		return err
	}

	if report.TotalResidual > 0 {
		p.out.Status("%d residual staging references, running repair pass", report.TotalResidual)
		if err := p.engine.RepairPass(ctx); err != nil {
			p.warn(res, "repair pass failed: %v", err)
		}
		res.Repaired = true
		if report, err = p.engine.Validate(ctx); err != nil {
			return err
		}
	}

	res.Validation = report
	if report.TotalResidual > 0 {
		p.warn(res, "%d staging references remain after repair; manual review needed", report.TotalResidual)
	}
	if !report.ProdURLPresent {
		p.warn(res, "production URL not found in options table")
	}
	return nil
}

// postMutation is the shared tail of deploy and restore: live-service
// invalidation and file-cache cleanup. Everything here is warning-only.
func (p *Pipeline) postMutation(ctx context.Context, res *Result) {
	p.out.Status("flushing caches and rewrite rules")

	if _, err := p.prod.FlushCache(ctx); err != nil {
		p.warn(res, "object cache not flushed: %v", err)
	}
	if out, err := p.prod.FlushRewriteRules(ctx); err != nil {
		p.warn(res, "rewrite rules not flushed: %v", err)
	} else if out == wpdb.Degraded {
		p.warn(res, "rewrite rules cleared via direct delete; rebuilt on next request")
	}
	if _, err := p.prod.DeleteTransients(ctx); err != nil {
		p.warn(res, "transients not cleared: %v", err)
	}

	res.ClearedCaches = p.files.ClearCaches()
}

// Restore rolls production back to the named archive and re-runs the
// live-service invalidation tail.
func (p *Pipeline) Restore(ctx context.Context, arch *backup.Archive) (*Result, error) {
	res := &Result{Backup: arch}

	p.out.Status("verifying archive %s", arch.Name())
	if err := p.backups.Verify(arch); err != nil {
		return res, &PreconditionError{Check: "archive integrity", Err: err}
	}

	p.out.Status("restoring files and database from %s", arch.Name())
	if err := p.backups.Restore(ctx, arch); err != nil {
		return res, &StageError{Stage: "restore", Err: err}
	}
	if err := p.files.NormalizePermissions(ctx); err != nil {
		p.warn(res, "permission normalization failed: %v", err)
	}

	p.postMutation(ctx, res)
	return res, nil
}

func (p *Pipeline) warn(res *Result, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	res.Warnings = append(res.Warnings, msg)
	p.log.Warn(msg)
	p.out.Warn("%s", msg)
}

func backupName(a *backup.Archive) string {
	if a == nil {
		return "none"
	}
	return a.Name()
}
