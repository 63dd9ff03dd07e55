// Package logging holds the slog constructors shared by every package
// in the module.
package logging

import (
	"log/slog"
	"os"
)

var quiet = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))

// Quiet returns the logger used when the caller supplies none. It drops
// every record, errors included.
func Quiet() *slog.Logger {
	return quiet
}

// New returns a text logger on stdout at the given level.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// OrQuiet returns l, or the quiet logger when l is nil.
func OrQuiet(l *slog.Logger) *slog.Logger {
	if l == nil {
		return quiet
	}
	return l
}
