// Package scanner decodes Wayland protocol XML descriptions into
// wire.Interface values, the same catalog format protocol/core hand-writes
// for the bootstrap interfaces. It is the input half of cmd/wlscan's code
// generator.
package scanner

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/wl-go/gowl/wire"
)

// protocolXML mirrors the wayland.dtd element tree closely enough to decode
// every field this module's wire.Interface needs; comments, descriptions
// and other documentation-only elements are left unmapped and silently
// dropped by encoding/xml.
type protocolXML struct {
	XMLName    xml.Name       `xml:"protocol"`
	Name       string         `xml:"name,attr"`
	Interfaces []interfaceXML `xml:"interface"`
}

type interfaceXML struct {
	Name     string       `xml:"name,attr"`
	Version  uint32       `xml:"version,attr"`
	Requests []messageXML `xml:"request"`
	Events   []messageXML `xml:"event"`
}

type messageXML struct {
	Name  string  `xml:"name,attr"`
	Type  string  `xml:"type,attr"`
	Since uint32  `xml:"since,attr"`
	Args  []argXML `xml:"arg"`
}

type argXML struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	Interface string `xml:"interface,attr"`
	AllowNull string `xml:"allow-null,attr"`
}

// Protocol is a decoded XML protocol file: its declared name and the
// wire.Interface descriptors for every interface it defines.
type Protocol struct {
	Name       string
	Interfaces []*wire.Interface
}

// Parse decodes a Wayland protocol XML document from r.
//
// Object/new_id arguments reference sibling interfaces by name; since an
// XML protocol can declare interfaces in any order, Parse first collects
// every interface of the document and then resolves references against
// them. A reference to an interface not declared in this document is an
// error.
func Parse(r io.Reader) (*Protocol, error) {
	var doc protocolXML
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("scanner: decode: %w", err)
	}

	byName := make(map[string]*wire.Interface, len(doc.Interfaces))
	out := make([]*wire.Interface, 0, len(doc.Interfaces))
	for _, ix := range doc.Interfaces {
		iface := &wire.Interface{Name: ix.Name, Version: ix.Version}
		byName[ix.Name] = iface
		out = append(out, iface)
	}

	for i, ix := range doc.Interfaces {
		iface := out[i]
		reqs, err := convertMessages(ix.Requests, byName)
		if err != nil {
			return nil, fmt.Errorf("scanner: interface %s: %w", ix.Name, err)
		}
		iface.Requests = reqs

		evs, err := convertMessages(ix.Events, byName)
		if err != nil {
			return nil, fmt.Errorf("scanner: interface %s: %w", ix.Name, err)
		}
		iface.Events = evs
	}

	return &Protocol{Name: doc.Name, Interfaces: out}, nil
}

func convertMessages(msgs []messageXML, byName map[string]*wire.Interface) ([]wire.MessageDesc, error) {
	out := make([]wire.MessageDesc, len(msgs))
	for i, m := range msgs {
		sig := make([]wire.ArgDesc, len(m.Args))
		var newIDIface *wire.Interface
		for j, a := range m.Args {
			argType, err := convertArgType(a.Type)
			if err != nil {
				return nil, fmt.Errorf("message %s: arg %s: %w", m.Name, a.Name, err)
			}
			nullable, err := parseAllowNull(a.AllowNull)
			if err != nil {
				return nil, fmt.Errorf("message %s: arg %s: %w", m.Name, a.Name, err)
			}

			var iface *wire.Interface
			if a.Interface != "" {
				iface = byName[a.Interface]
				if iface == nil {
					return nil, fmt.Errorf("message %s: arg %s references unknown interface %q", m.Name, a.Name, a.Interface)
				}
			}
			sig[j] = wire.ArgDesc{Type: argType, Nullable: nullable, Iface: iface}
			if argType == wire.ArgNewID && iface != nil {
				newIDIface = iface
			}
		}
		out[i] = wire.MessageDesc{
			Name:           m.Name,
			Since:          m.Since,
			Destructor:     m.Type == "destructor",
			Signature:      sig,
			NewIDInterface: newIDIface,
		}
	}
	return out, nil
}

func convertArgType(t string) (wire.ArgType, error) {
	switch t {
	case "int":
		return wire.ArgInt, nil
	case "uint":
		return wire.ArgUint, nil
	case "fixed":
		return wire.ArgFixed, nil
	case "string":
		return wire.ArgString, nil
	case "object":
		return wire.ArgObject, nil
	case "new_id":
		return wire.ArgNewID, nil
	case "array":
		return wire.ArgArray, nil
	case "fd":
		return wire.ArgFd, nil
	default:
		return 0, fmt.Errorf("unknown wire type %q", t)
	}
}

func parseAllowNull(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid allow-null value %q", v)
	}
	return b, nil
}
