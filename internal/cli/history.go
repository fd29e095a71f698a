package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/stagehand-sh/stagehand/internal/history"
	"github.com/stagehand-sh/stagehand/internal/output"
	"github.com/stagehand-sh/stagehand/internal/render"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past deploy and restore runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		cfg := getCfg(cmd)

		ledger, err := history.Open(filepath.Join(cfg.BackupDir, historyFileName))
		if err != nil {
			return cmdErr(fmt.Errorf("opening run history: %w", err), output.ErrGeneral)
		}
		defer ledger.Close()

		if len(args) == 1 {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cmdErr(fmt.Errorf("invalid run id %q", args[0]), output.ErrValidation)
			}
			events, err := history.GetEvents(ledger, runID)
			if err != nil {
				return cmdErr(err, output.ErrGeneral)
			}
			if len(events) == 0 {
				w.Success(events, render.EmptyState(
					fmt.Sprintf("No events for run %d.", runID),
					"Run 'stagehand history' to list runs."))
				return nil
			}
			rows := make([][]string, 0, len(events))
			for _, e := range events {
				rows = append(rows, []string{e.Stage, e.Level, e.Message, humanize.Time(e.CreatedAt)})
			}
			w.Success(events, render.Table([]string{"STAGE", "LEVEL", "MESSAGE", "WHEN"}, rows))
			return nil
		}

		runs, err := history.ListRuns(ledger, historyLimit)
		if err != nil {
			return cmdErr(err, output.ErrGeneral)
		}
		if len(runs) == 0 {
			w.Success(runs, render.EmptyState(
				"No runs recorded.",
				"Run 'stagehand deploy' to create one."))
			return nil
		}

		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			duration := "-"
			if !r.FinishedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			rows = append(rows, []string{
				strconv.FormatInt(r.ID, 10),
				r.Command,
				r.Outcome,
				humanize.Time(r.StartedAt),
				duration,
				r.BackupName,
			})
		}
		w.Success(runs, render.Table([]string{"ID", "COMMAND", "OUTCOME", "STARTED", "DURATION", "BACKUP"}, rows))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}
