// Package wlconfig holds the functional-options configuration shared by
// client.Connect and server.NewDisplay, and the environment-variable discovery
// rules from SPEC_FULL §6.
package wlconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultSocketName is used when WAYLAND_DISPLAY is unset.
const DefaultSocketName = "wayland-0"

// Options configures a client or server connection's setup behavior.
type Options struct {
	// SocketName overrides WAYLAND_DISPLAY for the client. The server's
	// AddSocket takes its name as an argument and does not read it.
	SocketName string
	// SocketFD, when non-negative, is a pre-connected descriptor to adopt
	// instead of dialing a path (WAYLAND_SOCKET / create_client).
	SocketFD int
	// DebugEnabled mirrors WAYLAND_DEBUG without re-reading the
	// environment on every connection, so tests can force it on/off.
	DebugEnabled bool
	// DebugSide labels trace lines "c" or "s" for client/server.
	DebugSide string
	// QueueName is kept in the resolved Options; no trace line or queue
	// reads it.
	QueueName string
}

var defaultOptions = Options{
	SocketFD: -1,
	DebugSide: "c",
}

// Option mutates an Options value, following the functional-options shape
// used throughout the reference pack's own configuration layers.
type Option func(*Options)

// WithSocketName overrides the display socket name the client connects to,
// instead of resolving it from WAYLAND_DISPLAY. server.NewDisplay ignores it.
func WithSocketName(name string) Option {
	return func(o *Options) { o.SocketName = name }
}

// WithSocketFD adopts an already-connected file descriptor instead of
// dialing a named socket, matching the WAYLAND_SOCKET / create_client
// mechanisms.
func WithSocketFD(fd int) Option {
	return func(o *Options) { o.SocketFD = fd }
}

// WithDebug forces WAYLAND_DEBUG-style tracing on or off regardless of the
// environment.
func WithDebug(enabled bool) Option {
	return func(o *Options) { o.DebugEnabled = enabled }
}

// WithQueueName sets Options.QueueName; nothing in the runtime reads it, so
// it does not change any trace line.
func WithQueueName(name string) Option {
	return func(o *Options) { o.QueueName = name }
}

// Resolve applies opts over the environment-derived defaults for side
// ("c" or "s"), matching spec.md §6's socket discovery order.
func Resolve(side string, opts ...Option) Options {
	o := defaultOptions
	o.DebugSide = side
	o.DebugEnabled = debugEnabledFromEnv(side)
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// debugEnabledFromEnv reports whether WAYLAND_DEBUG selects this side:
// "1" enables both, "client"/"server" enables just that side.
func debugEnabledFromEnv(side string) bool {
	v := strings.ToLower(os.Getenv("WAYLAND_DEBUG"))
	switch v {
	case "1":
		return true
	case "client":
		return side == "c"
	case "server":
		return side == "s"
	default:
		return false
	}
}

// ResolveClientSocketPath implements the client discovery order from
// spec.md §6: WAYLAND_SOCKET (a pre-connected fd) takes priority; absent
// that, XDG_RUNTIME_DIR + WAYLAND_DISPLAY (default "wayland-0"), or the
// display name verbatim if it is already absolute.
//
// It returns (path, fd, fdSet, err): exactly one of path/fd is meaningful,
// selected by fdSet.
func ResolveClientSocketPath(opts Options) (path string, fd int, fdSet bool, err error) {
	if opts.SocketFD >= 0 {
		return "", opts.SocketFD, true, nil
	}
	if raw, ok := os.LookupEnv("WAYLAND_SOCKET"); ok {
		os.Unsetenv("WAYLAND_SOCKET")
		n, perr := strconv.Atoi(raw)
		if perr != nil {
			return "", 0, false, perr
		}
		return "", n, true, nil
	}

	name := opts.SocketName
	if name == "" {
		name = os.Getenv("WAYLAND_DISPLAY")
	}
	if name == "" {
		name = DefaultSocketName
	}
	if filepath.IsAbs(name) {
		return name, 0, false, nil
	}

	runDir := os.Getenv("XDG_RUNTIME_DIR")
	if runDir == "" {
		return "", 0, false, errNoRuntimeDir{}
	}
	return filepath.Join(runDir, name), 0, false, nil
}

// ResolveServerSocketDir returns the directory add_socket/add_socket_auto
// bind into, per spec.md §6.
func ResolveServerSocketDir() (string, error) {
	runDir := os.Getenv("XDG_RUNTIME_DIR")
	if runDir == "" {
		return "", errNoRuntimeDir{}
	}
	return runDir, nil
}

type errNoRuntimeDir struct{}

func (errNoRuntimeDir) Error() string { return "wlconfig: XDG_RUNTIME_DIR not set" }
