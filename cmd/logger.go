package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
)

func logLevel(debug, quiet bool) zerolog.Level {
	switch {
	case debug:
		return zerolog.DebugLevel
	case quiet:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// setupLogger builds the process logger. In daemon mode it appends JSON
// lines to logPath (or the XDG state file); otherwise it writes console
// output to stderr. The returned func closes the log file.
func setupLogger(daemonMode bool, level zerolog.Level, logPath string) (zerolog.Logger, func(), error) {
	var (
		output  io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		closeFn           = func() {}
	)

	if daemonMode {
		path, err := resolveLogPath(logPath)
		if err != nil {
			return zerolog.Nop(), closeFn, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		closeFn = func() { _ = f.Close() }
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, closeFn, nil
}

func resolveLogPath(logPath string) (string, error) {
	if logPath == "" {
		path, err := xdg.StateFile(filepath.Join("scrobbler", "scrobbler.log"))
		if err != nil {
			return "", fmt.Errorf("failed to resolve log path: %w", err)
		}
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return logPath, nil
}
