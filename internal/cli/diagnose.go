package cli

import (
	"github.com/spf13/cobra"

	"github.com/stagehand-sh/stagehand/internal/execx"
	"github.com/stagehand-sh/stagehand/internal/output"
	"github.com/stagehand-sh/stagehand/internal/pipeline"
	"github.com/stagehand-sh/stagehand/internal/render"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Probe both environments without changing anything",
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

		results := p.Diagnose(cmd.Context())

		fatalFailures := 0
		rows := make([][]string, 0, len(results))
		for _, r := range results {
			status := "ok"
			if !r.OK {
				status = "FAIL"
				if !r.Fatal {
					status = "warn"
				} else {
					fatalFailures++
				}
			}
			rows = append(rows, []string{status, r.Name, r.Detail})
		}

		// Diagnose is informational: it always exits 0, even when checks
		// fail, so it can run freely from cron and CI.
		w.Success(results, render.Table([]string{"STATUS", "CHECK", "DETAIL"}, rows))
		if fatalFailures > 0 {
			w.Warn("%d check(s) would block a deploy", fatalFailures)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
}
