package client

import (
	"fmt"
	"sync"

	"github.com/wl-go/gowl/objects"
	"github.com/wl-go/gowl/protocol/core"
	"github.com/wl-go/gowl/wire"
)

// Global is one advertised name from the compositor's wl_registry.global
// event: an opaque numeric name together with the interface and maximum
// version the compositor offers it at.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Registry mirrors the compositor's wl_registry: every currently-advertised
// global, kept up to date by global/global_remove events, plus Bind to
// construct an object against one of them.
type Registry struct {
	d  *Display
	id uint32

	mu      sync.Mutex
	globals map[uint32]Global
}

// GetRegistry sends wl_display.get_registry and returns the Registry handle.
// Globals are not necessarily populated yet when this call returns — the
// compositor advertises them asynchronously, so callers follow it with
// SyncRoundtrip before reading Globals(), per spec.md §4.6's bootstrap idiom.
func (d *Display) GetRegistry() (*Registry, error) {
	r := &Registry{d: d, globals: make(map[uint32]Global)}

	id, err := d.sendConstructor(objects.DisplayID, core.DisplayOpGetRegistry, func(newID uint32) []wire.Argument {
		return []wire.Argument{wire.NewIDArg(newID)}
	}, core.Registry, core.Registry.Version, DefaultQueueID)
	if err != nil {
		return nil, err
	}
	r.id = id

	d.addListener(id, core.RegistryEventGlobal, r.handleGlobal)
	d.addListener(id, core.RegistryEventGlobalRemove, r.handleGlobalRemove)

	return r, nil
}

func (r *Registry) handleGlobal(ev wire.Message) {
	name := ev.Args[0].Uint
	iface := ""
	if ev.Args[1].Str != nil {
		iface = *ev.Args[1].Str
	}
	version := ev.Args[2].Uint

	r.mu.Lock()
	r.globals[name] = Global{Name: name, Interface: iface, Version: version}
	r.mu.Unlock()
}

func (r *Registry) handleGlobalRemove(ev wire.Message) {
	name := ev.Args[0].Uint

	r.mu.Lock()
	delete(r.globals, name)
	r.mu.Unlock()
}

// Globals returns a snapshot of every currently-advertised global.
func (r *Registry) Globals() []Global {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Global, 0, len(r.globals))
	for _, g := range r.globals {
		out = append(out, g)
	}
	return out
}

// Lookup returns the advertised Global for name, if still present.
func (r *Registry) Lookup(name uint32) (Global, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.globals[name]
	return g, ok
}

// Bind constructs a new local object against an advertised global, sending
// wl_registry.bind with the dynamic new_id triple (interface, version, id)
// spec.md §4.6 requires. The effective version is min(requestedVersion, the
// global's advertised version, iface.Version), computed here directly
// rather than through objects.ClampVersion; a requestedVersion of 0 means
// the global's advertised version.
func (r *Registry) Bind(name uint32, iface *wire.Interface, requestedVersion uint32) (uint32, error) {
	g, ok := r.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("client: global name %d is not currently advertised", name)
	}
	if iface != nil && g.Interface != iface.Name {
		return 0, fmt.Errorf("client: global name %d is %s, not %s", name, g.Interface, iface.Name)
	}

	version := requestedVersion
	if g.Version != 0 && (version == 0 || g.Version < version) {
		version = g.Version
	}
	if iface != nil && iface.Version < version {
		version = iface.Version
	}

	// bind's effective version is clamped against the global's own
	// advertised version, not the registry object's version — unlike
	// ordinary constructors it does not inherit from its creator, so this
	// bypasses sendConstructor's creator-version clamp and builds the slot
	// directly.
	return r.d.bindConstructor(r.id, name, g.Interface, version, iface)
}
