// Package logger holds the process-wide structured logger used by families
// that are not given one explicitly, and by cxmallocctl.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// L is the global logger instance. It discards all output until Init is called.
var L = slog.New(slog.NewTextHandler(io.Discard, nil))

// AllocTrace enables per-allocation debug records. Set from CXMALLOC_LOG_ALLOC.
var AllocTrace = os.Getenv("CXMALLOC_LOG_ALLOC") != ""

const (
	logPrefix     = "cxmalloc-"
	logSuffix     = ".log"
	retentionDays = 30
)

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	LogDir  string     // Directory for daily log files. Empty logs to Writer
	Writer  io.Writer  // Destination when LogDir is empty. Default: os.Stderr
	Level   slog.Level // Minimum log level
	JSON    bool       // JSON records instead of text
}

// Init configures logging. Call from main() before any log calls.
func Init(opts Options) error {
	if !opts.Enabled {
		L = slog.New(slog.NewTextHandler(io.Discard, nil))
		return nil
	}

	var out io.Writer = os.Stderr
	if opts.Writer != nil {
		out = opts.Writer
	}
	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			return err
		}
		cleanOldLogs(opts.LogDir, time.Now())

		filename := filepath.Join(opts.LogDir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		out = f
	}

	hopts := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		L = slog.New(slog.NewJSONHandler(out, hopts))
	} else {
		L = slog.New(slog.NewTextHandler(out, hopts))
	}
	return nil
}

// cleanOldLogs removes log files older than retentionDays.
func cleanOldLogs(logDir string, now time.Time) {
	cutoff := now.AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, logSuffix) {
			continue
		}
		// cxmalloc-2024-01-05.log
		dateStr := strings.TrimPrefix(strings.TrimSuffix(name, logSuffix), logPrefix)
		logDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if logDate.Before(cutoff) {
			os.Remove(filepath.Join(logDir, name))
		}
	}
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { L.Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { L.Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { L.Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { L.Error(msg, args...) }
