// Package xlog is a thin wrapper over zerolog used for the WAYLAND_DEBUG
// tracing line and general connection diagnostics. It mirrors the global,
// package-level logger shape the reference pack uses for its own logging
// wrapper, but scoped per-connection since the runtime keeps no global
// state (SPEC_FULL §9).
package xlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// New builds a logger writing to w (normally os.Stderr, matching
// WAYLAND_DEBUG's "emit to stderr" contract) with a timestamp field
// attached to every line.
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
}

// NewDisabled builds a logger that discards everything, used when
// WAYLAND_DEBUG is unset so call sites never need a nil check.
func NewDisabled() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// FromEnv returns an enabled logger writing to os.Stderr when enabled is
// true, else a disabled one. It does not read WAYLAND_DEBUG itself: the
// caller (wlconfig.Resolve, which knows which side it is) decides enabled.
func FromEnv(enabled bool) zerolog.Logger {
	if !enabled {
		return NewDisabled()
	}
	return New(os.Stderr)
}
