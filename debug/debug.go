// Package debug implements the WAYLAND_DEBUG wire-tracing line described in
// SPEC_FULL §6 and §9: one formatted line per sent or dispatched message,
// logged through xlog rather than printed directly to stderr so it
// composes with the rest of the runtime's structured logging.
package debug

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wl-go/gowl/wire"
)

// Direction distinguishes an outbound request from an inbound event for
// the trace line's arrow.
type Direction uint8

const (
	Sent Direction = iota
	Dispatched
)

func (d Direction) arrow() string {
	if d == Sent {
		return "->"
	}
	return "<-"
}

// Printer renders decoded messages to a zerolog.Logger. A disabled logger
// (xlog.NewDisabled) makes Print a no-op at negligible cost, so call sites
// never need to branch on whether tracing is on.
type Printer struct {
	Log zerolog.Logger
}

// Print emits one trace line for a message addressed to/from id on iface,
// in the style `[sss.mmm][side] -> iface@id.msg(args)`, where side is the
// caller's label ("c" or "s").
func (p Printer) Print(dir Direction, side string, iface string, id uint32, msgName string, args []wire.Argument) {
	if p.Log.GetLevel() == zerolog.Disabled {
		return
	}
	now := time.Now()
	ts := fmt.Sprintf("[%d.%03d][%s]", now.Unix(), now.Nanosecond()/1000000, side)
	p.Log.Debug().
		Str("ts", ts).
		Str("dir", dir.arrow()).
		Str("iface", iface).
		Uint32("id", id).
		Str("msg", msgName).
		Str("args", formatArgs(args)).
		Msgf("%s %s %s@%d.%s(%s)", ts, dir.arrow(), iface, id, msgName, formatArgs(args))
}

// formatArgs renders an argument list the way upstream's debug.rs does:
// comma-separated, strings quoted, objects as their numeric id or "nil".
// The referenced object's interface is not looked up, so object arguments
// are not rendered as iface@id.
func formatArgs(args []wire.Argument) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = formatArg(a)
	}
	return strings.Join(parts, ", ")
}

func formatArg(a wire.Argument) string {
	switch a.Type {
	case wire.ArgInt:
		return strconv.FormatInt(int64(a.Int), 10)
	case wire.ArgUint:
		return strconv.FormatUint(uint64(a.Uint), 10)
	case wire.ArgFixed:
		return strconv.FormatFloat(a.Fixed.Float64(), 'f', -1, 64)
	case wire.ArgString:
		if a.Str == nil {
			return "nil"
		}
		return strconv.Quote(*a.Str)
	case wire.ArgObject, wire.ArgNewID:
		if a.Obj == 0 {
			return "nil"
		}
		if a.DynIface != "" {
			return fmt.Sprintf("new id %s@%d v%d", a.DynIface, a.Obj, a.DynVersion)
		}
		return fmt.Sprintf("%d", a.Obj)
	case wire.ArgArray:
		if a.Arr == nil {
			return "nil"
		}
		return fmt.Sprintf("array[%d]", len(a.Arr))
	case wire.ArgFd:
		return fmt.Sprintf("fd %d", a.Fd)
	default:
		return "?"
	}
}
