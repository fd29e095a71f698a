// Package cli wires the stagehand command tree. Configuration is loaded
// once in the root command's PersistentPreRunE and handed to subcommands
// through the command context, so every RunE works against the same
// resolved state.
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/output"
)

// Build metadata, injected via -ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

type ctxKey int

const (
	writerKey ctxKey = iota
	configKey
	loggerKey
)

var (
	flagConfig  string
	flagJSON    bool
	flagQuiet   bool
	flagVerbose bool
)

// CmdError carries the output error code a failed command maps to.
type CmdError struct {
	Err  error
	Code output.ErrorCode
}

func (e *CmdError) Error() string { return e.Err.Error() }
func (e *CmdError) Unwrap() error { return e.Err }

func cmdErr(err error, code output.ErrorCode) error {
	return &CmdError{Err: err, Code: code}
}

var rootCmd = &cobra.Command{
	Use:           "stagehand",
	Short:         "Promote a WordPress staging environment to production",
	Long:          "stagehand promotes a staging WordPress site to production:\nbackup, file sync, database replace with table preservation, URL\nrewrite, validation and cache invalidation, in one guarded run.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		w := output.New(flagJSON, flagQuiet)
		ctx := context.WithValue(cmd.Context(), writerKey, w)

		if cmd.Annotations["skipConfig"] != "true" {
			path, err := config.ResolvePath(flagConfig)
			if err != nil {
				return cmdErr(err, output.ErrPrecondition)
			}
			cfg, err := config.Load(path)
			if err != nil {
				return cmdErr(err, output.ErrPrecondition)
			}
			ctx = context.WithValue(ctx, configKey, cfg)

			log, err := newLogger(cfg, flagVerbose)
			if err != nil {
				return cmdErr(err, output.ErrGeneral)
			}
			ctx = context.WithValue(ctx, loggerKey, log)
		}

		cmd.SetContext(ctx)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "config file (default ./stagehand.yaml or $STAGEHAND_CONFIG)")
	pf.BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log debug detail to the console")
}

func getWriter(cmd *cobra.Command) *output.Writer {
	if w, ok := cmd.Context().Value(writerKey).(*output.Writer); ok {
		return w
	}
	return output.New(flagJSON, flagQuiet)
}

func getCfg(cmd *cobra.Command) *config.Config {
	cfg, _ := cmd.Context().Value(configKey).(*config.Config)
	return cfg
}

func getLogger(cmd *cobra.Command) *zap.Logger {
	if log, ok := cmd.Context().Value(loggerKey).(*zap.Logger); ok {
		return log
	}
	return zap.NewNop()
}

// Execute runs the command tree and returns the process exit code. SIGINT
// and SIGTERM cancel the command context; a mid-deploy cancellation is
// surfaced by the pipeline as a stage failure.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		w := output.New(flagJSON, flagQuiet)
		code := output.ErrGeneral
		var ce *CmdError
		if errors.As(err, &ce) {
			code = ce.Code
		}
		return w.Error(err, code)
	}
	return output.ExitSuccess
}
