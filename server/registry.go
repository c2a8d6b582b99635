package server

import (
	"fmt"
	"sync"

	"github.com/wl-go/gowl/protocol/core"
	"github.com/wl-go/gowl/wire"
)

// BindFunc is invoked once a client's wl_registry.bind request has installed
// the new object in that client's map, letting application code attach
// request handlers and user data for it.
type BindFunc func(c *Client, id uint32, version uint32) error

// Global is one name the server advertises through every connected client's
// registry.
type Global struct {
	Name      uint32
	Interface *wire.Interface
	Version   uint32
	UserData  interface{}
	Bind      BindFunc
}

type zombieGlobal struct {
	global    Global
	removedAt uint64
}

// Registry is the server-wide table of advertised globals, shared by every
// connected Client. Grounded on wayland-backend-rs/src/server/registry.rs's
// retention window (SPEC_FULL §4.6a): a removed global's bookkeeping entry
// survives one additional Tick, so a Bind racing the removal's broadcast
// gets a clear "already removed" error instead of "unknown name".
type Registry struct {
	mu         sync.Mutex
	nextName   uint32
	globals    map[uint32]*Global
	zombies    map[uint32]*zombieGlobal
	generation uint64

	clientsMu sync.Mutex
	clients   map[*Client]uint32 // client -> its wl_registry object id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nextName: 1,
		globals:  make(map[uint32]*Global),
		zombies:  make(map[uint32]*zombieGlobal),
		clients:  make(map[*Client]uint32),
	}
}

// Add registers a new global, assigns it a name, and broadcasts it to every
// client that already holds a registry object.
func (r *Registry) Add(iface *wire.Interface, version uint32, userData interface{}, bind BindFunc) uint32 {
	r.mu.Lock()
	name := r.nextName
	r.nextName++
	g := &Global{Name: name, Interface: iface, Version: version, UserData: userData, Bind: bind}
	r.globals[name] = g
	r.mu.Unlock()

	r.broadcastGlobal(*g)
	return name
}

// Remove retires a global: global_remove is broadcast immediately, but the
// bookkeeping entry survives until the Tick after next.
func (r *Registry) Remove(name uint32) {
	r.mu.Lock()
	g, ok := r.globals[name]
	if ok {
		delete(r.globals, name)
		r.zombies[name] = &zombieGlobal{global: *g, removedAt: r.generation}
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.broadcastGlobalRemove(name)
}

// Tick advances the retention generation, purging zombies older than the
// previous tick. The server calls this once per completed client roundtrip
// (a wl_callback.done firing), matching the "retained for one full
// roundtrip" rule from SPEC_FULL §4.6a.
func (r *Registry) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	for name, z := range r.zombies {
		if r.generation > z.removedAt+1 {
			delete(r.zombies, name)
		}
	}
}

func (r *Registry) lookup(name uint32) (g Global, live bool, zombie bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lg, ok := r.globals[name]; ok {
		return *lg, true, false
	}
	if z, ok := r.zombies[name]; ok {
		return z.global, false, true
	}
	return Global{}, false, false
}

// Snapshot returns every currently live global, used to populate a newly
// requested registry object.
func (r *Registry) Snapshot() []Global {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Global, 0, len(r.globals))
	for _, g := range r.globals {
		out = append(out, *g)
	}
	return out
}

func (r *Registry) registerClient(c *Client, registryID uint32) {
	r.clientsMu.Lock()
	r.clients[c] = registryID
	r.clientsMu.Unlock()
}

func (r *Registry) unregisterClient(c *Client) {
	r.clientsMu.Lock()
	delete(r.clients, c)
	r.clientsMu.Unlock()
}

func (r *Registry) broadcastGlobal(g Global) {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	for c, registryID := range r.clients {
		c.SendEvent(registryID, core.RegistryEventGlobal, []wire.Argument{
			wire.UintArg(g.Name),
			wire.StringArg(g.Interface.Name),
			wire.UintArg(g.Version),
		})
	}
}

func (r *Registry) broadcastGlobalRemove(name uint32) {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	for c, registryID := range r.clients {
		c.SendEvent(registryID, core.RegistryEventGlobalRemove, []wire.Argument{wire.UintArg(name)})
	}
}

// Bind resolves a client's wl_registry.bind request: looks up the global,
// clamps the version against both the global's advertised version and the
// interface's own maximum, installs the new object in the client's map, and
// runs the registered BindFunc so application code can attach behavior.
func (r *Registry) Bind(c *Client, name uint32, newID uint32, ifaceName string, requestedVersion uint32) error {
	g, live, zombie := r.lookup(name)
	if !live {
		if zombie {
			return fmt.Errorf("server: global name %d (%s) was already removed", name, g.Interface.Name)
		}
		return fmt.Errorf("server: no such global name %d", name)
	}
	if g.Interface.Name != ifaceName {
		return fmt.Errorf("server: global name %d is %s, not %s", name, g.Interface.Name, ifaceName)
	}

	version := requestedVersion
	if g.Version != 0 && (version == 0 || g.Version < version) {
		version = g.Version
	}
	if g.Interface.Version < version {
		version = g.Interface.Version
	}

	if err := c.objects.InsertNew(newID, g.Interface, version, 0, g.UserData); err != nil {
		return err
	}
	if g.Bind != nil {
		return g.Bind(c, newID, version)
	}
	return nil
}
