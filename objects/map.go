// Package objects implements the Wayland object map: allocation, lookup,
// versioning and destruction of numbered protocol objects, for either side
// of a connection.
package objects

import (
	"sync"

	"github.com/wl-go/gowl/wire"
)

// Side selects which half of the id space a Map allocates from.
type Side uint8

const (
	// ClientSide allocates from [1, ServerIDStart) and reuses ids freed by
	// delete_id via a free list.
	ClientSide Side = iota
	// ServerSide allocates from [ServerIDStart, 0xFFFFFFFF] via a
	// monotonic counter; ids are never reused within one connection.
	ServerSide
)

// ServerIDStart is the first id in the server-allocated range.
const ServerIDStart = 0xFF000000

// DisplayID is the reserved id of the root wl_display / client registry
// entry point.
const DisplayID = 1

// Slot is one entry of the object map.
type Slot struct {
	ID        uint32
	Interface *wire.Interface
	Version   uint32
	UserData  interface{}
	Queue     uint32 // queue identifier, meaning is owned by the caller
	Alive     bool
}

// ErrIDTaken is returned by InsertNew when id already names a live slot.
type ErrIDTaken struct{ ID uint32 }

func (e ErrIDTaken) Error() string { return "objects: id already in use" }

// Map is an id -> Slot table for one Side, kept in a Go map keyed by id
// (not in dense per-range arrays).
type Map struct {
	mu   sync.Mutex
	side Side

	slots  map[uint32]*Slot
	free   []uint32 // client-side only: ids freed by delete_id
	nextID uint32   // next id to hand out if free is empty
}

// New creates an object map for the given side. The display's own id (1) is
// not auto-inserted; callers insert it explicitly so they can attach their
// own user data type.
func New(side Side) *Map {
	m := &Map{side: side, slots: make(map[uint32]*Slot)}
	if side == ClientSide {
		m.nextID = 2 // id 1 is reserved for wl_display
	} else {
		m.nextID = ServerIDStart
	}
	return m
}

// Reserve allocates the next id for this side without installing a slot —
// used as a constructor's placeholder new_id before the request carrying it
// has actually been sent.
func (m *Map) Reserve() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocateLocked()
}

func (m *Map) allocateLocked() uint32 {
	if m.side == ClientSide && len(m.free) > 0 {
		id := m.free[len(m.free)-1]
		m.free = m.free[:len(m.free)-1]
		return id
	}
	id := m.nextID
	m.nextID++
	return id
}

// InsertNew installs a slot for id, which must not already be live. It is
// used both for ids this side allocated itself (client requests) and ids
// the peer allocated on our behalf (server events carrying a new_id).
func (m *Map) InsertNew(id uint32, iface *wire.Interface, version uint32, queue uint32, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.slots[id]; ok && s.Alive {
		return ErrIDTaken{ID: id}
	}
	m.slots[id] = &Slot{
		ID:        id,
		Interface: iface,
		Version:   version,
		UserData:  data,
		Queue:     queue,
		Alive:     true,
	}
	return nil
}

// InsertAt installs id with an explicit slot, used for the display's own
// bootstrap entry (id 1) which this package does not allocate itself.
func (m *Map) InsertAt(id uint32, iface *wire.Interface, version uint32, queue uint32, data interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[id] = &Slot{ID: id, Interface: iface, Version: version, UserData: data, Queue: queue, Alive: true}
}

// Lookup returns a copy of the slot for id, or ok=false if no such id has
// ever been inserted. Dead entries are still returned (Alive=false) until
// Free removes them, so callers can distinguish "never existed" from
// "destroyed, pending delete_id".
func (m *Map) Lookup(id uint32) (Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return Slot{}, false
	}
	return *s, true
}

// SetUserData overwrites the user data attached to a live slot.
func (m *Map) SetUserData(id uint32, data interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return false
	}
	s.UserData = data
	return true
}

// SetQueue reassigns which queue future events for id are delivered to.
// Takes effect only for events delivered after the call.
func (m *Map) SetQueue(id uint32, queue uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return false
	}
	s.Queue = queue
	return true
}

// Kill clears the alive flag for id. The slot entry itself is retained
// until Free is called (normally on receipt of delete_id), matching the
// race window the wire protocol allows between destruction and id reuse.
func (m *Map) Kill(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[id]; ok {
		s.Alive = false
	}
}

// Free removes id's slot entirely. On the client side this also returns
// the id to the free list for the allocator to reuse, matching the
// upstream rule that delete_id is sent only for client-allocated ids.
func (m *Map) Free(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, id)
	if m.side == ClientSide && id < ServerIDStart {
		m.free = append(m.free, id)
	}
}

// IsServerAllocated reports whether id falls in the server-owned range,
// independent of which Map instance is asking.
func IsServerAllocated(id uint32) bool { return id >= ServerIDStart }

// ClampVersion returns min(requested, iface max version, creator version),
// the rule governing every constructed object's effective version.
func ClampVersion(iface *wire.Interface, creatorVersion, requested uint32) uint32 {
	v := creatorVersion
	if requested != 0 && requested < v {
		v = requested
	}
	if iface != nil && iface.Version < v {
		v = iface.Version
	}
	return v
}
