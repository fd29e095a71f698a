package history

import (
	"database/sql"
	"testing"
)

func mustOpen(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	db := mustOpen(t)

	for _, table := range []string{"meta", "runs", "run_events"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	v, err := SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", v, currentSchemaVersion)
	}
}

func TestOpenSetsBusyTimeout(t *testing.T) {
	db := mustOpen(t)

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("querying busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := mustOpen(t)

	id, err := RecordStart(db, "deploy")
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	if err := AddEvent(db, id, "backup", "info", "backup created"); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if err := AddEvent(db, id, "validate", "warning", "3 residual references"); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}

	if err := RecordFinish(db, id, OutcomeDegraded, "prod_backup_20260828120000.tar.gz", "completed with warnings"); err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}

	runs, err := ListRuns(db, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	r := runs[0]
	if r.Command != "deploy" || r.Outcome != OutcomeDegraded {
		t.Errorf("run = %+v", r)
	}
	if r.BackupName != "prod_backup_20260828120000.tar.gz" {
		t.Errorf("backup = %q", r.BackupName)
	}
	if r.FinishedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		t.Errorf("finished_at = %v, started_at = %v", r.FinishedAt, r.StartedAt)
	}

	events, err := GetEvents(db, id)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Stage != "backup" || events[1].Level != "warning" {
		t.Errorf("events = %+v", events)
	}
}

func TestRecordFinishUnknownRun(t *testing.T) {
	db := mustOpen(t)
	if err := RecordFinish(db, 99, OutcomeFailed, "", ""); err == nil {
		t.Fatal("RecordFinish succeeded for missing run")
	}
}

func TestListRunsOrderAndLimit(t *testing.T) {
	db := mustOpen(t)

	for _, cmd := range []string{"deploy", "restore", "deploy"} {
		id, err := RecordStart(db, cmd)
		if err != nil {
			t.Fatal(err)
		}
		if err := RecordFinish(db, id, OutcomeSucceeded, "", ""); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := ListRuns(db, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	// Same-second timestamps fall back to ID order, newest first.
	if runs[0].ID <= runs[1].ID {
		t.Errorf("order = [%d, %d], want newest first", runs[0].ID, runs[1].ID)
	}
	if runs[0].Command != "deploy" || runs[1].Command != "restore" {
		t.Errorf("commands = [%s, %s]", runs[0].Command, runs[1].Command)
	}
}

func TestEventsCascadeWithRun(t *testing.T) {
	db := mustOpen(t)

	id, err := RecordStart(db, "deploy")
	if err != nil {
		t.Fatal(err)
	}
	if err := AddEvent(db, id, "sync", "info", "files mirrored"); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		t.Fatal(err)
	}
	events, err := GetEvents(db, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("got %d orphan events, want 0", len(events))
	}
}
