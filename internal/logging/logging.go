// Package logging builds the log sink handed to every pipeline stage: a zap
// logger writing progress lines to stdout and appending them to a log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds log sink settings
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console, json
	File   string // append-only log file; empty disables it
}

// DefaultConfig returns the CLI defaults
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		File:   "procesamiento.log",
	}
}

const timeLayout = "2006-01-02 15:04:05"

// New creates a logger teeing to stdout and, if configured, to cfg.File.
// The returned close function flushes and closes the file.
func New(cfg Config) (*zap.Logger, func() error, error) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit console writer
func NewWithWriter(cfg Config, console io.Writer) (*zap.Logger, func() error, error) {
	level := parseLevel(cfg.Level)

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(cfg.Format), zapcore.AddSync(console), level),
	}

	closeFn := func() error { return nil }
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		cores = append(cores, zapcore.NewCore(fileEncoder(), zapcore.AddSync(file), level))
		closeFn = func() error {
			_ = file.Sync()
			return file.Close()
		}
	}

	logger := zap.New(zapcore.NewTee(cores...))
	done := func() error {
		_ = logger.Sync()
		return closeFn()
	}
	return logger, done, nil
}

// Nop returns a logger that discards everything
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Timing logs the start of operation and returns a function logging its
// completion with the elapsed time.
func Timing(log *zap.Logger, operation string) func() {
	start := time.Now()
	log.Debug("Starting", zap.String("operation", operation))
	return func() {
		log.Info("Completed", zap.String("operation", operation), zap.Duration("took", time.Since(start)))
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func baseEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func consoleEncoder(format string) zapcore.Encoder {
	ec := baseEncoderConfig()
	if strings.EqualFold(format, "json") {
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	return zapcore.NewConsoleEncoder(ec)
}

// The log file always gets plain console lines so it can be read with a pager.
func fileEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(baseEncoderConfig())
}
