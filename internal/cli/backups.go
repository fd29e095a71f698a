package cli

import (
	"fmt"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/stagehand-sh/stagehand/internal/backup"
	"github.com/stagehand-sh/stagehand/internal/output"
	"github.com/stagehand-sh/stagehand/internal/render"
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List production backup archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		cfg := getCfg(cmd)

		m := backup.New(cfg, nil, getLogger(cmd))
		archives, err := m.List()
		if err != nil {
			return cmdErr(err, output.ErrGeneral)
		}

		if len(archives) == 0 {
			w.Success(archives, render.EmptyState(
				"No backups found.",
				"Run 'stagehand deploy' to create one."))
			return nil
		}

		rows := make([][]string, 0, len(archives))
		for _, a := range archives {
			rows = append(rows, []string{
				a.ID,
				humanize.Time(a.CreatedAt),
				humanize.Bytes(uint64(a.Size)),
			})
		}
		w.Success(archives, render.Table([]string{"ID", "CREATED", "SIZE"}, rows))
		return nil
	},
}

var backupsVerifyCmd = &cobra.Command{
	Use:   "verify [backup-id]",
	Short: "Check that a backup archive is complete and extractable",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		cfg := getCfg(cmd)

		m := backup.New(cfg, nil, getLogger(cmd))
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		arch, err := m.Find(id)
		if err != nil {
			return cmdErr(err, output.ErrNotFound)
		}

		if err := m.Verify(arch); err != nil {
			return cmdErr(fmt.Errorf("%s: %w", arch.Name(), err), output.ErrValidation)
		}

		w.Success(arch, fmt.Sprintf("%s is complete and extractable", arch.Name()))
		return nil
	},
}

func init() {
	backupsCmd.AddCommand(backupsVerifyCmd)
	rootCmd.AddCommand(backupsCmd)
}
