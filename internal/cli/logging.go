package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stagehand-sh/stagehand/internal/config"
)

const logFileName = "deployment.log"

// newLogger builds the run logger: structured JSON appended to
// deployment.log next to the backups, plus a console echo at debug level
// when --verbose is set. The log file sits in the backup directory so it
// survives everything a deploy or restore does to the site roots.
func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	if err := os.MkdirAll(cfg.BackupDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.BackupDir, logFileName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", logFileName, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zap.InfoLevel),
	}

	if verbose {
		devCfg := zap.NewDevelopmentEncoderConfig()
		cores = append(cores,
			zapcore.NewCore(zapcore.NewConsoleEncoder(devCfg), zapcore.AddSync(os.Stderr), zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
