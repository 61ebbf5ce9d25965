// Package log builds the slog loggers osprey components receive.
//
// Loggers are injected, never global: every constructor takes a
// *slog.Logger (via the Logger alias) and derives its own context with
// With. The single slog.SetDefault call lives in the CLI startup path, so
// anything that logs through slog.Default before wiring still lands on
// stderr.
//
//	logger := log.NewWithWriter(os.Stderr, log.Config{Level: slog.LevelDebug})
//	registry, err := permission.NewRegistry(path, logger.With("component", "permissions"))
//
// Tests pass log.NewNop() to keep output quiet.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger so component signatures read log.Logger
// without inventing a wrapper interface. With, groups, and handler
// swapping keep working exactly as slog defines them.
type Logger = *slog.Logger

// Config selects the handler and threshold for a new logger. The zero
// value is a text handler at Info level, matching the CLI defaults.
type Config struct {
	// Level is the minimum level that gets written.
	Level slog.Level

	// JSON switches from the human-oriented text handler to JSON lines.
	JSON bool
}

// New builds a logger writing to stderr, where the CLI keeps diagnostics
// so stdout stays clean for command output.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter builds a logger writing to w. Tests pass a bytes.Buffer
// to assert on records.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewNop returns a logger that drops everything. Test-only; production
// construction goes through New or NewWithWriter.
func NewNop() Logger {
	return slog.New(slog.DiscardHandler)
}
