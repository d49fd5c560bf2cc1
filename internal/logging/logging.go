// Package logging builds the zap loggers used by the command line.
package logging

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the log destination and level.
type Options struct {
	Verbose bool
	// File, when set, receives the log instead of stderr. The terminal UI
	// uses this so log lines do not tear the screen.
	File string
}

// New returns a console-encoded logger and a function that flushes it.
func New(opts Options) (*zap.Logger, func(), error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.Development = false
	if !opts.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, errors.Wrap(err, "create log directory")
		}
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, errors.Wrap(err, "build logger")
	}
	return logger, func() { _ = logger.Sync() }, nil
}
