package scanner

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/wl-go/gowl/wire"
)

// Generate renders p as a Go source file declaring one *wire.Interface
// package-level variable per interface, in the given package name. The
// output is not run through gofmt (field alignment differs once Requests or
// Events are present); callers that want gofmt formatting run it through
// format.Source themselves.
func Generate(w io.Writer, pkg string, p *Protocol) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "// Code generated by wlscan from %s. DO NOT EDIT.\n\n", p.Name)
	fmt.Fprintf(bw, "package %s\n\n", pkg)
	fmt.Fprintf(bw, "import \"github.com/wl-go/gowl/wire\"\n\n")

	for _, iface := range p.Interfaces {
		varName := goName(iface.Name)
		fmt.Fprintf(bw, "var %s = &wire.Interface{\n", varName)
		fmt.Fprintf(bw, "\tName:    %q,\n", iface.Name)
		fmt.Fprintf(bw, "\tVersion: %d,\n", iface.Version)
		if len(iface.Requests) > 0 {
			fmt.Fprintf(bw, "\tRequests: []wire.MessageDesc{\n")
			for _, m := range iface.Requests {
				writeMessageDesc(bw, m)
			}
			fmt.Fprintf(bw, "\t},\n")
		}
		if len(iface.Events) > 0 {
			fmt.Fprintf(bw, "\tEvents: []wire.MessageDesc{\n")
			for _, m := range iface.Events {
				writeMessageDesc(bw, m)
			}
			fmt.Fprintf(bw, "\t},\n")
		}
		fmt.Fprintf(bw, "}\n\n")
	}

	return bw.Flush()
}

func writeMessageDesc(bw *bufio.Writer, m wire.MessageDesc) {
	fmt.Fprintf(bw, "\t\t{Name: %q, Since: %d", m.Name, m.Since)
	if m.Destructor {
		fmt.Fprintf(bw, ", Destructor: true")
	}
	if len(m.Signature) > 0 {
		fmt.Fprintf(bw, ", Signature: []wire.ArgDesc{")
		for i, a := range m.Signature {
			if i > 0 {
				fmt.Fprintf(bw, ", ")
			}
			fmt.Fprintf(bw, "{Type: wire.%s", argTypeConst(a.Type))
			if a.Nullable {
				fmt.Fprintf(bw, ", Nullable: true")
			}
			if a.Iface != nil {
				fmt.Fprintf(bw, ", Iface: %s", goName(a.Iface.Name))
			}
			fmt.Fprintf(bw, "}")
		}
		fmt.Fprintf(bw, "}")
	}
	fmt.Fprintf(bw, "},\n")
}

func argTypeConst(t wire.ArgType) string {
	switch t {
	case wire.ArgInt:
		return "ArgInt"
	case wire.ArgUint:
		return "ArgUint"
	case wire.ArgFixed:
		return "ArgFixed"
	case wire.ArgString:
		return "ArgString"
	case wire.ArgObject:
		return "ArgObject"
	case wire.ArgNewID:
		return "ArgNewID"
	case wire.ArgArray:
		return "ArgArray"
	case wire.ArgFd:
		return "ArgFd"
	default:
		return "ArgInt"
	}
}

// goName turns a wire interface name like "wl_compositor" into an exported
// Go identifier: it strips a leading wl_, zwp_, zwlr_ or xdg_ prefix and
// camel-cases the remaining snake_case parts (wl_data_device -> DataDevice),
// matching how protocol/core names its own hand-written descriptors
// (wl_display -> Display, wl_registry -> Registry).
func goName(ifaceName string) string {
	name := strings.TrimPrefix(ifaceName, "wl_")
	name = strings.TrimPrefix(name, "zwp_")
	name = strings.TrimPrefix(name, "zwlr_")
	name = strings.TrimPrefix(name, "xdg_")
	parts := strings.Split(name, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
