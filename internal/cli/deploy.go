package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stagehand-sh/stagehand/internal/execx"
	"github.com/stagehand-sh/stagehand/internal/history"
	"github.com/stagehand-sh/stagehand/internal/output"
	"github.com/stagehand-sh/stagehand/internal/pipeline"
	"github.com/stagehand-sh/stagehand/internal/render"
)

const historyFileName = "deployments.db"

var deployYes bool

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Promote the staging site to production",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		cfg := getCfg(cmd)
		log := getLogger(cmd)
		defer log.Sync()

		if !deployYes {
			if !interactive() {
				return cmdErr(fmt.Errorf("stdin is not a terminal; pass --yes to deploy non-interactively"), output.ErrPrecondition)
			}
			if !confirm(w, "Overwrite production %s with staging %s?", cfg.ProdURL, cfg.StageURL) {
				w.Success(struct {
					Cancelled bool `json:"cancelled"`
				}{true}, "Deploy cancelled")
				return nil
			}
		}

		ledger, runID := openLedger(w, cfg.BackupDir, "deploy")
		if ledger != nil {
			defer ledger.Close()
		}

		bulkConfirm := func(summary string) bool {
			if deployYes || !interactive() {
				return true
			}
			w.Info("Planned URL replacements:\n%s", summary)
			return confirm(w, "Apply these replacements?")
		}

		p, err := pipeline.New(cfg, execx.System{}, w, log, bulkConfirm)
		if err != nil {
			finishLedger(ledger, runID, history.OutcomeFailed, "", err.Error())
			return cmdErr(err, output.ErrPrecondition)
		}
		defer p.Close()

		res, err := p.Deploy(cmd.Context())
		if err != nil {
			backupName := ""
			if res != nil && res.Backup != nil {
				backupName = res.Backup.Name()
				w.Warn("Production may be partially updated; restore from %s if needed", backupName)
			}
			finishLedger(ledger, runID, history.OutcomeFailed, backupName, err.Error())

			var pre *pipeline.PreconditionError
			if errors.As(err, &pre) {
				return cmdErr(err, output.ErrPrecondition)
			}
			return cmdErr(err, output.ErrStageFailed)
		}

		outcome := history.OutcomeSucceeded
		detail := "completed"
		if res.Degraded() {
			outcome = history.OutcomeDegraded
			detail = fmt.Sprintf("completed with %d warning(s)", len(res.Warnings))
		}
		recordWarnings(ledger, runID, res.Warnings)
		finishLedger(ledger, runID, outcome, res.Backup.Name(), detail)

		if !w.JSONMode {
			md := p.SummaryMarkdown(res)
			if rendered, err := render.RenderMarkdown(md); err == nil {
				fmt.Fprint(w.Stdout, rendered)
			} else {
				fmt.Fprint(w.Stdout, md)
			}
		}
		w.Success(res, "Deployment complete")
		return nil
	},
}

// openLedger opens the run ledger and records the start of a run. A broken
// ledger must never block a deploy, so failures are warnings and the
// returned handle may be nil.
func openLedger(w *output.Writer, backupDir, command string) (*sql.DB, int64) {
	ledger, err := history.Open(filepath.Join(backupDir, historyFileName))
	if err != nil {
		w.Warn("run history unavailable: %v", err)
		return nil, 0
	}
	runID, err := history.RecordStart(ledger, command)
	if err != nil {
		w.Warn("could not record run start: %v", err)
		ledger.Close()
		return nil, 0
	}
	return ledger, runID
}

func finishLedger(ledger *sql.DB, runID int64, outcome, backupName, detail string) {
	if ledger == nil {
		return
	}
	// Best-effort: the run already happened.
	_ = history.RecordFinish(ledger, runID, outcome, backupName, detail)
}

func recordWarnings(ledger *sql.DB, runID int64, warnings []string) {
	if ledger == nil {
		return
	}
	for _, w := range warnings {
		_ = history.AddEvent(ledger, runID, "pipeline", "warning", w)
	}
}

func init() {
	deployCmd.Flags().BoolVarP(&deployYes, "yes", "y", false, "skip confirmation prompts")
	rootCmd.AddCommand(deployCmd)
}
