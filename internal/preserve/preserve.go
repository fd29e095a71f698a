// Package preserve backs up a configured set of production-local tables
// before the destructive database replace and restores them afterwards.
// Preservation is best-effort by contract: a lost preserved table is loud,
// never fatal.
package preserve

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stagehand-sh/stagehand/internal/config"
)

// Snapshot is one preserved table's dump on disk.
type Snapshot struct {
	Table      string    `json:"table"`
	DumpPath   string    `json:"dump_path"`
	CapturedAt time.Time `json:"captured_at"`
}

// Database is the slice of the data-layer client the manager needs.
type Database interface {
	TableExists(ctx context.Context, table string) (bool, error)
	ExportTable(ctx context.Context, table, outFile string) error
	Import(ctx context.Context, file string) error
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Manager owns the PreservedTableSnapshot lifecycle.
type Manager struct {
	cfg *config.Config
	db  Database
	log *zap.Logger

	now func() time.Time
}

// New builds a Manager over the production database.
func New(cfg *config.Config, db Database, log *zap.Logger) *Manager {
	return &Manager{cfg: cfg, db: db, log: log, now: time.Now}
}

// SnapshotAll dumps each configured preserved table that exists in
// production, tagging the whole batch with one timestamp. Tables that do
// not exist are skipped; an empty result is not an error.
func (m *Manager) SnapshotAll(ctx context.Context) ([]Snapshot, error) {
	if len(m.cfg.PreservedTables) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(m.cfg.BackupDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}

	batch := m.now()
	stamp := batch.Format("20060102150405")

	var snapshots []Snapshot
	for _, table := range m.cfg.PreservedTables {
		exists, err := m.db.TableExists(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", table, err)
		}
		if !exists {
			m.log.Info("preserved table absent in production, skipping", zap.String("table", table))
			continue
		}

		dump := filepath.Join(m.cfg.BackupDir, fmt.Sprintf("preserved_%s_%s.sql", table, stamp))
		if err := m.db.ExportTable(ctx, table, dump); err != nil {
			return nil, fmt.Errorf("dumping %s: %w", table, err)
		}

		snapshots = append(snapshots, Snapshot{Table: table, DumpPath: dump, CapturedAt: batch})
		m.log.Info("preserved table snapshot taken",
			zap.String("table", table), zap.String("dump", dump))
	}
	return snapshots, nil
}

// RestoreAll re-imports each snapshot after the staging import. When the
// full dump fails (the staging schema may now define the table with a
// different structure), it degrades to replaying only the dump's INSERT
// statements as raw data. Every failure is a warning; the returned slice
// names the tables whose data could not be brought back.
func (m *Manager) RestoreAll(ctx context.Context, snapshots []Snapshot) []string {
	var lost []string
	for _, s := range snapshots {
		if err := m.db.Import(ctx, s.DumpPath); err == nil {
			m.log.Info("preserved table restored", zap.String("table", s.Table))
			continue
		} else {
			m.log.Warn("full dump import failed, retrying with data-only inserts",
				zap.String("table", s.Table), zap.Error(err))
		}

		if err := m.restoreInsertsOnly(ctx, s); err != nil {
			m.log.Warn("preserved table data could not be restored; dump retained",
				zap.String("table", s.Table), zap.String("dump", s.DumpPath), zap.Error(err))
			lost = append(lost, s.Table)
		} else {
			m.log.Info("preserved table restored from raw inserts", zap.String("table", s.Table))
		}
	}
	return lost
}

func (m *Manager) restoreInsertsOnly(ctx context.Context, s Snapshot) error {
	f, err := os.Open(s.DumpPath)
	if err != nil {
		return err
	}
	defer f.Close()

	stmts, err := extractInserts(f)
	if err != nil {
		return fmt.Errorf("parsing dump: %w", err)
	}
	if len(stmts) == 0 {
		return fmt.Errorf("no insert statements in %s", s.DumpPath)
	}

	var failed int
	for _, stmt := range stmts {
		if _, err := m.db.Exec(ctx, stmt); err != nil {
			failed++
			m.log.Warn("insert replay failed", zap.String("table", s.Table), zap.Error(err))
		}
	}
	if failed == len(stmts) {
		return fmt.Errorf("all %d insert statements failed", failed)
	}
	return nil
}

// extractInserts pulls complete INSERT statements out of a SQL dump,
// skipping structural statements (CREATE, DROP, LOCK and the like). A
// statement may span lines; it ends at a line terminating in ';'.
func extractInserts(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	// mysqldump emits one extended INSERT per table chunk; rows can make
	// the line very long.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var stmts []string
	var current strings.Builder
	inInsert := false

	for scanner.Scan() {
		line := scanner.Text()
		if !inInsert {
			if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "INSERT INTO") {
				continue
			}
			inInsert = true
		} else {
			current.WriteString("\n")
		}
		current.WriteString(line)

		if strings.HasSuffix(strings.TrimRight(line, " \t"), ";") {
			stmts = append(stmts, current.String())
			current.Reset()
			inInsert = false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return stmts, nil
}
