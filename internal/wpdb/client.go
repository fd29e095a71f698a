// Package wpdb is the data-layer client for one WordPress environment. The
// primary interface is the wp-cli binary; schema export/import fall back to
// mysqldump/mysql, and row-level work (URL rewriting, validation counts,
// transient clearing) runs over a direct MySQL connection parsed out of
// wp-config.php.
package wpdb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/stagehand-sh/stagehand/internal/execx"
)

// Client executes database operations against a single environment.
type Client struct {
	Root  string
	Creds Credentials

	runner execx.Runner
	log    *zap.Logger
	db     *sql.DB
}

// New builds a client for the WordPress installation at root, parsing its
// wp-config.php for credentials. The MySQL connection is opened lazily.
func New(runner execx.Runner, log *zap.Logger, root string) (*Client, error) {
	creds, err := ParseWPConfig(root)
	if err != nil {
		return nil, err
	}
	return &Client{Root: root, Creds: creds, runner: runner, log: log}, nil
}

// NewWithDB builds a client bound to an already-open database handle.
// Tests use this to substitute an in-memory database for MySQL.
func NewWithDB(runner execx.Runner, log *zap.Logger, root string, creds Credentials, db *sql.DB) *Client {
	return &Client{Root: root, Creds: creds, runner: runner, log: log, db: db}
}

// DB returns the direct database handle, opening it on first use.
func (c *Client) DB() (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := sql.Open("mysql", c.Creds.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.Creds.Name, err)
	}
	db.SetMaxOpenConns(2)
	c.db = db
	return db, nil
}

// Close releases the direct database connection if one was opened.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Ping verifies database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	db, err := c.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// HasWPCLI reports whether the wp binary is available on PATH.
func (c *Client) HasWPCLI() bool {
	_, err := c.runner.LookPath("wp")
	return err == nil
}

// IsInstalled reports whether WordPress is installed for this environment.
func (c *Client) IsInstalled(ctx context.Context) bool {
	_, err := c.runner.Run(ctx, "wp", c.wpArgs("core", "is-installed")...)
	return err == nil
}

// wpArgs prefixes wp-cli subcommand args with the environment path.
func (c *Client) wpArgs(args ...string) []string {
	return append([]string{"--path=" + c.Root, "--skip-plugins", "--skip-themes"}, args...)
}

// ExportAll dumps the full schema to outFile, preferring wp-cli and falling
// back to mysqldump.
func (c *Client) ExportAll(ctx context.Context, outFile string) error {
	if c.HasWPCLI() {
		if _, err := c.runner.Run(ctx, "wp", c.wpArgs("db", "export", outFile)...); err == nil {
			return nil
		} else {
			c.log.Warn("wp db export failed, falling back to mysqldump", zap.Error(err))
		}
	}
	return c.mysqldump(ctx, outFile)
}

// ExportTable dumps a single table to outFile.
func (c *Client) ExportTable(ctx context.Context, table, outFile string) error {
	if c.HasWPCLI() {
		if _, err := c.runner.Run(ctx, "wp", c.wpArgs("db", "export", outFile, "--tables="+table)...); err == nil {
			return nil
		} else {
			c.log.Warn("wp db export --tables failed, falling back to mysqldump",
				zap.String("table", table), zap.Error(err))
		}
	}
	return c.mysqldump(ctx, outFile, table)
}

func (c *Client) mysqldump(ctx context.Context, outFile string, tables ...string) error {
	f, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("creating dump file: %w", err)
	}
	defer f.Close()

	args := append(c.mysqlArgs(), "--single-transaction", "--quick", c.Creds.Name)
	args = append(args, tables...)

	if _, err := c.runner.RunOut(ctx, f, "mysqldump", args...); err != nil {
		os.Remove(outFile)
		return fmt.Errorf("mysqldump: %w", err)
	}
	return f.Sync()
}

// Import loads a SQL dump file into the schema, preferring wp-cli.
func (c *Client) Import(ctx context.Context, file string) error {
	if c.HasWPCLI() {
		if _, err := c.runner.Run(ctx, "wp", c.wpArgs("db", "import", file)...); err == nil {
			return nil
		} else {
			c.log.Warn("wp db import failed, falling back to mysql", zap.Error(err))
		}
	}

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("opening dump: %w", err)
	}
	defer f.Close()

	args := append(c.mysqlArgs(), c.Creds.Name)
	if _, err := c.runner.RunIn(ctx, f, "mysql", args...); err != nil {
		return fmt.Errorf("mysql import: %w", err)
	}
	return nil
}

// Reset drops and recreates the schema. Used when nothing needs preserving;
// equivalent to dropping every table but cheaper.
func (c *Client) Reset(ctx context.Context) error {
	if c.HasWPCLI() {
		if _, err := c.runner.Run(ctx, "wp", c.wpArgs("db", "reset", "--yes")...); err == nil {
			return nil
		} else {
			c.log.Warn("wp db reset failed, falling back to direct drop", zap.Error(err))
		}
	}

	names, err := c.TableNames(ctx)
	if err != nil {
		return err
	}
	errs := c.DropTables(ctx, names)
	if len(errs) > 0 {
		return fmt.Errorf("reset left %d tables behind: %v", len(errs), errs[0])
	}
	return nil
}

// mysqlArgs builds the shared mysqldump/mysql connection flags. A DB_HOST
// of the host:port form goes into the DSN verbatim, but the CLI tools want
// the port as a separate flag.
func (c *Client) mysqlArgs() []string {
	args := []string{"--user=" + c.Creds.User}
	if host, port, err := net.SplitHostPort(c.Creds.Host); err == nil {
		args = append(args, "--host="+host, "--port="+port)
	} else {
		args = append(args, "--host="+c.Creds.Host)
	}
	if c.Creds.Password != "" {
		args = append(args, "--password="+c.Creds.Password)
	}
	return args
}

// TableNames lists every table in the schema.
func (c *Client) TableNames(ctx context.Context) ([]string, error) {
	db, err := c.DB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = ?", c.Creds.Name)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableExists reports whether the named table is present in the schema.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	db, err := c.DB()
	if err != nil {
		return false, err
	}
	var n int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
		c.Creds.Name, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}

// DropTables drops each named table individually with referential-integrity
// checks disabled for the batch. A failed drop is recorded and the batch
// continues; the caller decides how loudly to surface the failures.
func (c *Client) DropTables(ctx context.Context, names []string) []error {
	db, err := c.DB()
	if err != nil {
		return []error{err}
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return []error{fmt.Errorf("acquiring connection: %w", err)}
	}
	defer conn.Close()

	// FK toggling is session-scoped, hence the pinned connection. A failure
	// here is survivable: drops may still succeed in dependency order.
	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		c.log.Warn("could not disable foreign key checks", zap.Error(err))
	}
	defer func() {
		if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1"); err != nil {
			c.log.Warn("could not re-enable foreign key checks", zap.Error(err))
		}
	}()

	var errs []error
	for _, name := range names {
		if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
			errs = append(errs, fmt.Errorf("dropping %s: %w", name, err))
			c.log.Warn("table drop failed", zap.String("table", name), zap.Error(err))
		}
	}
	return errs
}

// Exec runs a write statement and returns the affected row count.
func (c *Client) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	db, err := c.DB()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Count runs a single-value COUNT query.
func (c *Client) Count(ctx context.Context, query string, args ...any) (int64, error) {
	db, err := c.DB()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ReplaceSummary describes the outcome of a bulk search-replace pass.
type ReplaceSummary struct {
	From         string
	To           string
	Replacements int64
}

// SearchReplaceAvailable reports whether the bulk search-replace facility
// can be used for this environment.
func (c *Client) SearchReplaceAvailable() bool {
	return c.HasWPCLI()
}

// SearchReplaceDryRun counts the replacements a search-replace pass would
// make, without writing anything.
func (c *Client) SearchReplaceDryRun(ctx context.Context, from, to string) (ReplaceSummary, error) {
	return c.searchReplace(ctx, from, to, true)
}

// SearchReplace performs a bulk literal search-replace across all tables.
func (c *Client) SearchReplace(ctx context.Context, from, to string) (ReplaceSummary, error) {
	return c.searchReplace(ctx, from, to, false)
}

func (c *Client) searchReplace(ctx context.Context, from, to string, dryRun bool) (ReplaceSummary, error) {
	args := c.wpArgs("search-replace", from, to, "--all-tables", "--format=count")
	if dryRun {
		args = append(args, "--dry-run")
	}

	res, err := c.runner.Run(ctx, "wp", args...)
	if err != nil {
		return ReplaceSummary{}, err
	}

	sum := ReplaceSummary{From: from, To: to}
	if n, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64); err == nil {
		sum.Replacements = n
	}
	return sum, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}
