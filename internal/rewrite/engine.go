package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stagehand-sh/stagehand/internal/wpdb"
)

// ErrDeclined is returned when the operator rejects the dry-run summary.
var ErrDeclined = errors.New("search-replace declined after dry run")

// DataStore is the row-level slice of the data-layer client the engine
// needs for its SQL fallback and for validation counts.
type DataStore interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Count(ctx context.Context, query string, args ...any) (int64, error)
}

// BulkReplacer is the capability-checked bulk search-replace facility
// (wp-cli). It may be entirely absent.
type BulkReplacer interface {
	SearchReplaceAvailable() bool
	SearchReplaceDryRun(ctx context.Context, from, to string) (wpdb.ReplaceSummary, error)
	SearchReplace(ctx context.Context, from, to string) (wpdb.ReplaceSummary, error)
}

// ConfirmFunc decides whether a destructive bulk rewrite proceeds, given the
// dry-run change summary. Injected by the caller so the engine stays free of
// terminal I/O.
type ConfirmFunc func(dryRunSummary string) bool

// Engine performs the staging → production URL rewrite.
type Engine struct {
	store   DataStore
	bulk    BulkReplacer
	targets []Target
	pairs   []Replacement
	confirm ConfirmFunc
	log     *zap.Logger

	stageURL string
	prodURL  string
}

// New builds an engine for the given schema prefix and URL pair. bulk may
// be nil when no bulk facility exists for the environment.
func New(store DataStore, bulk BulkReplacer, prefix, stageURL, prodURL string, confirm ConfirmFunc, log *zap.Logger) *Engine {
	if confirm == nil {
		confirm = func(string) bool { return true }
	}
	return &Engine{
		store:    store,
		bulk:     bulk,
		targets:  TargetsForPrefix(prefix),
		pairs:    ReplacementPairs(stageURL, prodURL),
		confirm:  confirm,
		log:      log,
		stageURL: stageURL,
		prodURL:  prodURL,
	}
}

// Rewrite replaces every staging URL occurrence with the production URL.
// The primary path is the bulk facility, gated on a dry run and the
// injected confirmation; if the facility is unavailable or fails, direct
// scoped REPLACE statements run against each target instead.
func (e *Engine) Rewrite(ctx context.Context) error {
	if e.bulk != nil && e.bulk.SearchReplaceAvailable() {
		done, err := e.rewriteBulk(ctx)
		if done {
			return err
		}
		// Bulk path failed mid-flight; the SQL fallback is a superset of
		// whatever it left undone.
		e.log.Warn("bulk search-replace unavailable or failed, using direct SQL", zap.Error(err))
	}
	return e.rewriteSQL(ctx, true)
}

// rewriteBulk runs the dry-run → confirm → replace sequence. The first
// return value reports whether the bulk path ran to a decision (including
// an operator decline); false means fall back to SQL.
func (e *Engine) rewriteBulk(ctx context.Context) (bool, error) {
	var summary strings.Builder
	var total int64
	for _, p := range e.pairs {
		sum, err := e.bulk.SearchReplaceDryRun(ctx, p.From, p.To)
		if err != nil {
			return false, fmt.Errorf("dry run %s: %w", p.From, err)
		}
		fmt.Fprintf(&summary, "%s -> %s: %d replacements\n", p.From, p.To, sum.Replacements)
		total += sum.Replacements
	}
	fmt.Fprintf(&summary, "total: %d replacements", total)

	if !e.confirm(summary.String()) {
		return true, ErrDeclined
	}

	for _, p := range e.pairs {
		if _, err := e.bulk.SearchReplace(ctx, p.From, p.To); err != nil {
			return false, fmt.Errorf("search-replace %s: %w", p.From, err)
		}
	}
	return true, nil
}

// rewriteSQL applies literal REPLACE statements per target per pair. With
// scoped true, a LIKE filter restricts each update to rows that actually
// contain the source URL. Per-target failures are collected, not fatal.
func (e *Engine) rewriteSQL(ctx context.Context, scoped bool) error {
	var errs []error
	for _, p := range e.pairs {
		for _, t := range e.targets {
			query := fmt.Sprintf("UPDATE `%s` SET `%s` = REPLACE(`%s`, ?, ?)", t.Table, t.Column, t.Column)
			args := []any{p.From, p.To}
			if scoped {
				query += fmt.Sprintf(" WHERE `%s` LIKE ? ESCAPE '|'", t.Column)
				args = append(args, likePattern(p.From))
			}

			n, err := e.store.Exec(ctx, query, args...)
			if err != nil {
				e.log.Warn("rewrite target failed",
					zap.String("target", t.String()), zap.String("from", p.From), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", t, err))
				continue
			}
			if n > 0 {
				e.log.Info("rewrote rows",
					zap.String("target", t.String()), zap.String("from", p.From), zap.Int64("rows", n))
			}
		}
	}
	return errors.Join(errs...)
}

// RepairPass reruns the replacement unconditionally across all targets,
// with no LIKE scoping and no confirmation gate. The validator requests
// this at most once.
func (e *Engine) RepairPass(ctx context.Context) error {
	return e.rewriteSQL(ctx, false)
}

// likePattern wraps s for a contains-match, escaping LIKE metacharacters
// with '|' (portable across engines, unlike the backslash default).
func likePattern(s string) string {
	r := strings.NewReplacer("|", "||", "%", "|%", "_", "|_")
	return "%" + r.Replace(s) + "%"
}
