package cli

import (
	"errors"
	"fmt"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/stagehand-sh/stagehand/internal/execx"
	"github.com/stagehand-sh/stagehand/internal/history"
	"github.com/stagehand-sh/stagehand/internal/output"
	"github.com/stagehand-sh/stagehand/internal/pipeline"
)

var restoreYes bool

var restoreCmd = &cobra.Command{
	Use:   "restore [backup-id]",
	Short: "Roll production back to a backup archive",
	Long:  "Restores production files and database from a backup archive.\nWith no argument the newest archive is used; see 'stagehand backups'\nfor the available IDs.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		cfg := getCfg(cmd)
		log := getLogger(cmd)
		defer log.Sync()

		p, err := pipeline.New(cfg, execx.System{}, w, log, nil)
		if err != nil {
			return cmdErr(err, output.ErrPrecondition)
		}
		defer p.Close()

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		arch, err := p.Backups().Find(id)
		if err != nil {
			return cmdErr(err, output.ErrNotFound)
		}

		if !restoreYes {
			if !interactive() {
				return cmdErr(fmt.Errorf("stdin is not a terminal; pass --yes to restore non-interactively"), output.ErrPrecondition)
			}
			if !confirm(w, "Roll production back to %s (created %s)?", arch.Name(), humanize.Time(arch.CreatedAt)) {
				w.Success(struct {
					Cancelled bool `json:"cancelled"`
				}{true}, "Restore cancelled")
				return nil
			}
		}

		ledger, runID := openLedger(w, cfg.BackupDir, "restore")
		if ledger != nil {
			defer ledger.Close()
		}

		res, err := p.Restore(cmd.Context(), arch)
		if err != nil {
			finishLedger(ledger, runID, history.OutcomeFailed, arch.Name(), err.Error())
			var pre *pipeline.PreconditionError
			if errors.As(err, &pre) {
				return cmdErr(err, output.ErrPrecondition)
			}
			return cmdErr(err, output.ErrStageFailed)
		}

		outcome := history.OutcomeSucceeded
		if res.Degraded() {
			outcome = history.OutcomeDegraded
		}
		recordWarnings(ledger, runID, res.Warnings)
		finishLedger(ledger, runID, outcome, arch.Name(), "restored")

		w.Success(res, fmt.Sprintf("Production restored from %s", arch.Name()))
		return nil
	},
}

func init() {
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "skip confirmation prompts")
	rootCmd.AddCommand(restoreCmd)
}
