// Package logging builds the process-wide slog loggers.
package logging

import (
	"io"
	"log/slog"
)

// New returns a text logger writing to w at the given level. Unknown level
// strings fall back to info.
func New(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Nop returns a logger that discards all output.
// Use this when you want silent operation with no logging overhead.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
