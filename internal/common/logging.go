// Package common provides shared utilities for stocksync
package common

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/phuslu/log"
)

// Logger wraps phuslu/log.Logger to provide a consistent interface
type Logger struct {
	log.Logger
}

// parseLevel maps a config level string onto a phuslu level, defaulting to info.
func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLogger creates a console logger with the specified level
func NewLogger(level string) *Logger {
	return &Logger{Logger: log.Logger{
		Level:      parseLevel(level),
		TimeFormat: time.RFC3339,
		Writer: &log.ConsoleWriter{
			Writer:      os.Stderr,
			ColorOutput: true,
		},
	}}
}

// NewLoggerFromConfig builds a logger honouring the configured outputs.
// "console" writes to stderr, "file" writes to a rotating file. When no
// output is recognised the logger falls back to the console.
func NewLoggerFromConfig(cfg LoggingConfig) *Logger {
	var writers log.MultiEntryWriter

	for _, out := range cfg.Outputs {
		switch strings.ToLower(out) {
		case "console":
			if strings.EqualFold(cfg.Format, "json") {
				writers = append(writers, &log.IOWriter{Writer: os.Stderr})
			} else {
				writers = append(writers, &log.ConsoleWriter{Writer: os.Stderr, ColorOutput: true})
			}
		case "file":
			if cfg.FilePath == "" {
				continue
			}
			maxSize := cfg.MaxSizeMB
			if maxSize <= 0 {
				maxSize = 100
			}
			writers = append(writers, &log.FileWriter{
				Filename:     cfg.FilePath,
				MaxSize:      int64(maxSize) * 1024 * 1024,
				MaxBackups:   cfg.MaxBackups,
				EnsureFolder: true,
			})
		}
	}

	if len(writers) == 0 {
		return NewLogger(cfg.Level)
	}

	return &Logger{Logger: log.Logger{
		Level:      parseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Writer:     &writers,
	}}
}

// NewLoggerWithOutput creates a logger writing JSON lines to a specific output
func NewLoggerWithOutput(level string, w io.Writer) *Logger {
	return &Logger{Logger: log.Logger{
		Level:      parseLevel(level),
		TimeFormat: time.RFC3339,
		Writer:     &log.IOWriter{Writer: w},
	}}
}

// NewSilentLogger creates a logger that discards all output
func NewSilentLogger() *Logger {
	return NewLoggerWithOutput("error", io.Discard)
}
