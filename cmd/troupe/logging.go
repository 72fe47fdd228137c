package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/MrWong99/troupe/internal/config"
)

// newLogger returns a charm logger writing to w at the given level. An empty
// level means info.
func newLogger(w io.Writer, level config.LogLevel) (*log.Logger, error) {
	if level == "" {
		level = config.LogInfo
	}
	lvl, err := log.ParseLevel(string(level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           lvl,
	}), nil
}

// setupLogging installs the process-wide slog logger. With path set, logs are
// appended to that file so they stay out of the terminal UI; the returned
// close function releases it.
func setupLogging(path string, level config.LogLevel) (func() error, error) {
	var (
		w      io.Writer = os.Stderr
		closer           = func() error { return nil }
	)
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		w, closer = f, f.Close
	}

	logger, err := newLogger(w, level)
	if err != nil {
		_ = closer()
		return nil, err
	}
	slog.SetDefault(slog.New(logger))
	return closer, nil
}
