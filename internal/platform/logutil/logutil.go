// Package logutil provides nil-safe logger helpers.
package logutil

import (
	"io"
	"log/slog"
)

// noop is a package-level discard logger, created once.
var noop = slog.New(slog.NewTextHandler(io.Discard, nil))

// Noop returns a logger that discards all output.
func Noop() *slog.Logger { return noop }

// NoopIfNil returns l when non-nil, otherwise a discard logger.
// Intended as the first line in constructors that accept *slog.Logger.
func NoopIfNil(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return noop
}

// Component returns l tagged with a component attribute, falling back to a
// discard logger when l is nil.
func Component(l *slog.Logger, name string) *slog.Logger {
	return NoopIfNil(l).With("component", name)
}
