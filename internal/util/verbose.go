package util

import (
	"io"
	"log/slog"
	"os"
)

var logger *slog.Logger

// InitLogger initializes the global slog logger. Logs go to stderr so that
// command output on stdout stays clean.
func InitLogger(verbose bool) {
	initLogger(os.Stderr, verbose)
}

// InitLoggerTo is InitLogger with an explicit destination, used by the
// background daemon to log into its log file.
func InitLoggerTo(w io.Writer, verbose bool) {
	initLogger(w, verbose)
}

func initLogger(w io.Writer, verbose bool) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	logger = slog.New(slog.NewTextHandler(w, opts))
	slog.SetDefault(logger)
}

// GetLogger returns the configured logger instance
func GetLogger() *slog.Logger {
	if logger == nil {
		// Fallback initialization with INFO level
		InitLogger(IsVerbose())
	}
	return logger
}

// Component returns the global logger tagged with a component name
func Component(name string) *slog.Logger {
	return GetLogger().With("component", name)
}

// IsVerbose checks if verbose mode is enabled by looking at command line arguments
func IsVerbose() bool {
	for _, arg := range os.Args {
		if arg == "--verbose" || arg == "-v" {
			return true
		}
	}
	return false
}
