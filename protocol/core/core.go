// Package core holds the hand-written interface descriptors for the three
// interfaces the runtime itself depends on: wl_display, wl_registry and
// wl_callback. Every other interface is expected to come from cmd/wlscan's
// generated output, but these three are load-bearing for client/server
// bootstrap so they are defined here directly rather than generated.
package core

import "github.com/wl-go/gowl/wire"

// Opcodes, kept as named constants so client/server code never hardcodes a
// bare integer for these three bootstrap interfaces.
const (
	DisplayOpSync        = 0
	DisplayOpGetRegistry = 1

	DisplayEventError    = 0
	DisplayEventDeleteID = 1

	RegistryOpBind = 0

	RegistryEventGlobal       = 0
	RegistryEventGlobalRemove = 1

	CallbackEventDone = 0
)

// Callback is defined first since Display's sync request constructs one.
var Callback = &wire.Interface{
	Name:    "wl_callback",
	Version: 1,
	Events: []wire.MessageDesc{
		{Name: "done", Signature: []wire.ArgDesc{{Type: wire.ArgUint}}},
	},
}

// Registry's bind request has a dynamically typed new_id: its Iface is left
// nil so the decoder reads the interface name/version off the wire instead
// of assuming a fixed child interface.
var Registry = &wire.Interface{
	Name:    "wl_registry",
	Version: 1,
	Requests: []wire.MessageDesc{
		{
			Name: "bind",
			Signature: []wire.ArgDesc{
				{Type: wire.ArgUint},  // name
				{Type: wire.ArgNewID}, // interface, version, id (dynamic)
			},
		},
	},
	Events: []wire.MessageDesc{
		{
			Name: "global",
			Signature: []wire.ArgDesc{
				{Type: wire.ArgUint},
				{Type: wire.ArgString},
				{Type: wire.ArgUint},
			},
		},
		{
			Name:      "global_remove",
			Signature: []wire.ArgDesc{{Type: wire.ArgUint}},
		},
	},
}

// Display is the well-known id-1 root object both sides bootstrap from.
var Display = &wire.Interface{
	Name:    "wl_display",
	Version: 1,
	Requests: []wire.MessageDesc{
		{
			Name:           "sync",
			Signature:      []wire.ArgDesc{{Type: wire.ArgNewID, Iface: Callback}},
			NewIDInterface: Callback,
		},
		{
			Name:           "get_registry",
			Signature:      []wire.ArgDesc{{Type: wire.ArgNewID, Iface: Registry}},
			NewIDInterface: Registry,
		},
	},
	Events: []wire.MessageDesc{
		{
			Name: "error",
			Signature: []wire.ArgDesc{
				{Type: wire.ArgObject},
				{Type: wire.ArgUint},
				{Type: wire.ArgString},
			},
		},
		{
			Name:      "delete_id",
			Signature: []wire.ArgDesc{{Type: wire.ArgUint}},
		},
	},
}
