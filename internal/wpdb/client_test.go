package wpdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stagehand-sh/stagehand/internal/execx"
)

// rowsErrDriver serves write statements whose results cannot report an
// affected row count, the way some drivers behave for batched statements.
type rowsErrDriver struct{}

func (rowsErrDriver) Open(string) (driver.Conn, error) { return rowsErrConn{}, nil }

type rowsErrConn struct{}

func (rowsErrConn) Prepare(string) (driver.Stmt, error) { return rowsErrStmt{}, nil }
func (rowsErrConn) Close() error                        { return nil }
func (rowsErrConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

type rowsErrStmt struct{}

func (rowsErrStmt) Close() error  { return nil }
func (rowsErrStmt) NumInput() int { return -1 }

func (rowsErrStmt) Exec([]driver.Value) (driver.Result, error) { return rowsErrResult{}, nil }
func (rowsErrStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("not supported")
}

type rowsErrResult struct{}

func (rowsErrResult) LastInsertId() (int64, error) { return 0, nil }
func (rowsErrResult) RowsAffected() (int64, error) {
	return 0, errors.New("row count unavailable")
}

func TestExecSurfacesRowsAffectedError(t *testing.T) {
	sql.Register("rowserr", rowsErrDriver{})
	db, err := sql.Open("rowserr", "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	c := testClient(t, &execx.Fake{}, db)
	if _, err := c.Exec(context.Background(), "UPDATE wp_options SET option_value = 'x'"); err == nil {
		t.Fatal("Exec = nil error, want the row-count failure surfaced")
	}
}

func TestMysqlArgsSplitHostPort(t *testing.T) {
	runner := &execx.Fake{Available: map[string]bool{}}
	c := testClient(t, runner, nil)
	c.Creds.Host = "db.internal:3307"

	out := filepath.Join(t.TempDir(), "dump.sql")
	if err := c.ExportAll(context.Background(), out); err != nil {
		t.Fatalf("ExportAll: %v", err)
	}

	calls := runner.CallsTo("mysqldump")
	if len(calls) != 1 {
		t.Fatalf("mysqldump called %d times, want 1", len(calls))
	}
	args := strings.Join(calls[0].Args, " ")
	if !strings.Contains(args, "--host=db.internal") || !strings.Contains(args, "--port=3307") {
		t.Errorf("mysqldump args = %q, want --host and --port split", args)
	}
	if strings.Contains(args, "db.internal:3307") {
		t.Errorf("mysqldump args = %q, host still carries the port", args)
	}
}

func TestMysqlArgsPlainHost(t *testing.T) {
	runner := &execx.Fake{Available: map[string]bool{}}
	c := testClient(t, runner, nil)
	c.Creds.Host = "localhost"

	file := filepath.Join(t.TempDir(), "dump.sql")
	writeFileT(t, file, "SELECT 1;")
	if err := c.Import(context.Background(), file); err != nil {
		t.Fatalf("Import: %v", err)
	}

	calls := runner.CallsTo("mysql")
	if len(calls) != 1 {
		t.Fatalf("mysql called %d times, want 1", len(calls))
	}
	for _, a := range calls[0].Args {
		if strings.HasPrefix(a, "--port=") {
			t.Errorf("unexpected %s for a portless host", a)
		}
	}
}
