package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// CheckResult is one diagnostic probe's outcome.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Fatal  bool   `json:"fatal"`
	Detail string `json:"detail,omitempty"`
}

// Diagnose runs every environment probe read-only and reports all of them,
// pass or fail. Fatal marks the checks a deploy would refuse to start on.
func (p *Pipeline) Diagnose(ctx context.Context) []CheckResult {
	var results []CheckResult
	add := func(name string, fatal bool, err error, okDetail string) {
		r := CheckResult{Name: name, OK: err == nil, Fatal: fatal, Detail: okDetail}
		if err != nil {
			r.Detail = err.Error()
		}
		results = append(results, r)
	}

	_, rsyncErr := p.runner.LookPath("rsync")
	add("rsync on PATH", true, rsyncErr, "")

	var wpErr error
	if !p.prod.HasWPCLI() {
		wpErr = fmt.Errorf("not found; database operations fall back to mysql/mysqldump")
	}
	add("wp-cli on PATH", false, wpErr, "")

	add("staging database", true, p.stage.Ping(ctx), p.stage.Creds.Name)
	add("production database", true, p.prod.Ping(ctx), p.prod.Creds.Name)

	add("backup directory writable", true, writableDir(p.cfg.BackupDir), p.cfg.BackupDir)

	var installErr error
	if !p.stage.IsInstalled(ctx) {
		installErr = fmt.Errorf("wp core is-installed failed for %s", p.cfg.StagePath)
	}
	add("staging WordPress installed", false, installErr, "")

	return results
}

// preflight runs the fatal subset of the diagnostics before any mutation.
func (p *Pipeline) preflight(ctx context.Context) error {
	for _, r := range p.Diagnose(ctx) {
		if r.Fatal && !r.OK {
			return &PreconditionError{Check: r.Name, Err: fmt.Errorf("%s", r.Detail)}
		}
	}
	return nil
}

// writableDir verifies the directory exists (creating it if needed) and
// accepts a write.
func writableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".write_probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}
