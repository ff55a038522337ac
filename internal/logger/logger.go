// Package logger builds the process-wide zap logger: a console core for
// interactive runs, teed with a timestamped logfile under logs/.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs the logger. When logDir is non-empty a JSON file core is
// added alongside the console core; file-creation failure degrades to
// console-only rather than aborting the run.
func New(logDir string) (*zap.Logger, error) {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stdout),
		zap.NewAtomicLevelAt(zap.InfoLevel),
	)

	if logDir == "" {
		return zap.New(consoleCore), nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return zap.New(consoleCore), nil
	}
	name := fmt.Sprintf("scraper_%s.log", time.Now().Format("20060102_150405"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zap.New(consoleCore), nil
	}

	fileEncCfg := zap.NewProductionEncoderConfig()
	fileEncCfg.TimeKey = "timestamp"
	fileEncCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncCfg),
		zapcore.AddSync(f),
		zap.NewAtomicLevelAt(zap.InfoLevel),
	)

	return zap.New(zapcore.NewTee(consoleCore, fileCore)), nil
}
