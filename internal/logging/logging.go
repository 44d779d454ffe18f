// Package logging builds foreman's zap loggers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/msageha/foreman/internal/model"
)

type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console; applies to the stderr sink
	File   string // append-only JSON log; empty disables it
	Stderr bool
}

// FromConfig maps the logging section onto Options for one component.
func FromConfig(cfg model.LoggingConfig, logDir, component string, stderr bool) Options {
	opts := Options{Level: cfg.Level, Format: cfg.Format, Stderr: stderr}
	if logDir != "" && component != "" {
		opts.File = filepath.Join(logDir, component+".log")
	}
	return opts
}

// New returns a logger and a cleanup function that syncs and closes the log file.
// With no sinks enabled it returns a no-op logger.
func New(opts Options) (*zap.Logger, func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		cores   []zapcore.Core
		closers []func()
	)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(newEncoder("json"), zapcore.AddSync(f), level))
		closers = append(closers, func() {
			_ = f.Sync()
			_ = f.Close()
		})
	}
	if opts.Stderr {
		cores = append(cores, zapcore.NewCore(newEncoder(opts.Format), zapcore.Lock(os.Stderr), level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), func() {}, nil
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, func() {
		_ = logger.Sync()
		for _, c := range closers {
			c()
		}
	}, nil
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return lvl, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}
