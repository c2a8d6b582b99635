package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wl-go/gowl/debug"
	"github.com/wl-go/gowl/objects"
	"github.com/wl-go/gowl/protocol/core"
	"github.com/wl-go/gowl/socket"
	"github.com/wl-go/gowl/wire"
)

// RequestHandler is the application callback for a request against a
// server-bound object, installed via Client.SetRequestHandler — typically
// from a Global's BindFunc, once the object has just been inserted.
type RequestHandler func(c *Client, objID uint32, opcode uint16, args []wire.Argument)

type handlerKey struct {
	id     uint32
	opcode uint16
}

// Client is one accepted connection: its own independent object map and
// event-delivery state, per SPEC_FULL §4.6b. Nothing here is shared with any
// other connected client except the Registry.
type Client struct {
	id       uuid.UUID
	conn     *socket.Conn
	objects  *objects.Map
	registry *Registry

	sendMu sync.Mutex

	dbg debug.Printer

	handlersMu sync.Mutex
	handlers   map[handlerKey]RequestHandler

	registryID uint32

	pendingFreeMu sync.Mutex
	pendingFree   []uint32

	lastErr atomic.Pointer[wire.WaylandError]
}

func newClient(uc *net.UnixConn, registry *Registry, dbg debug.Printer) *Client {
	c := &Client{
		id:       uuid.New(),
		conn:     socket.New(uc),
		objects:  objects.New(objects.ServerSide),
		registry: registry,
		dbg:      dbg,
	}
	c.objects.InsertAt(objects.DisplayID, core.Display, core.Display.Version, 0, nil)
	return c
}

// ID is this connection's trace id, distinct from any Wayland object id —
// used to disambiguate log lines across a multi-client server (SPEC_FULL
// §10's grounding for google/uuid).
func (c *Client) ID() string { return c.id.String() }

// SetRequestHandler installs the application callback invoked when id
// receives opcode.
func (c *Client) SetRequestHandler(id uint32, opcode uint16, h RequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[handlerKey]RequestHandler)
	}
	c.handlers[handlerKey{id, opcode}] = h
}

// SetUserData overwrites the user data attached to one of this client's live
// objects.
func (c *Client) SetUserData(id uint32, data interface{}) bool {
	return c.objects.SetUserData(id, data)
}

// Lookup exposes the object map for application code inspecting an object's
// interface, version or user data.
func (c *Client) Lookup(id uint32) (objects.Slot, bool) {
	return c.objects.Lookup(id)
}

// ConnectionFD exposes the raw socket descriptor for external poll
// integration, mirroring client.Display.ConnectionFD (SPEC_FULL §11).
func (c *Client) ConnectionFD() (int, error) {
	return c.conn.ConnectionFD()
}

// LastError returns the latched terminal error, if this connection has
// entered the broken state described in spec.md §7.
func (c *Client) LastError() error {
	if e := c.lastErr.Load(); e != nil {
		return e
	}
	return nil
}

// SendEvent encodes and transmits an event to obj. It is a silent no-op if
// obj is unknown or already destroyed, matching the destructor race window
// applied on the request side.
func (c *Client) SendEvent(obj uint32, opcode uint16, args []wire.Argument) error {
	slot, ok := c.objects.Lookup(obj)
	if !ok || !slot.Alive {
		return nil
	}
	data, fds, err := wire.Encode(obj, opcode, args)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	c.conn.Write(data, fds)
	ferr := c.conn.Flush()
	c.sendMu.Unlock()
	if ferr != nil {
		return c.fail(ferr)
	}
	if slot.Interface != nil {
		if desc, ok := slot.Interface.Event(opcode); ok {
			c.dbg.Print(debug.Sent, "s", slot.Interface.Name, obj, desc.Name, args)
		}
	}
	return nil
}

// DestroyObject tears down a server-bound object. The slot's alive flag is
// cleared immediately — so a request racing the destruction is resolved and
// silently dropped rather than treated as referencing an unknown id (spec.md
// §4.7, scenario 3) — but the map entry itself is kept until the next sync
// tick flushes it. A client-allocated id additionally gets a delete_id event
// so the client may reuse the number; a server-allocated one is never
// reused and needs no event.
func (c *Client) DestroyObject(id uint32) error {
	c.objects.Kill(id)
	if id < objects.ServerIDStart {
		if err := c.SendEvent(objects.DisplayID, core.DisplayEventDeleteID, []wire.Argument{wire.UintArg(id)}); err != nil {
			return err
		}
	}
	c.pendingFreeMu.Lock()
	c.pendingFree = append(c.pendingFree, id)
	c.pendingFreeMu.Unlock()
	return nil
}

// flushPendingFree removes the map entries of every object destroyed since
// the last flush. Called on each wl_display.sync, so destroyed objects
// remain visible (dead) to the dispatcher for at least one roundtrip before
// disappearing entirely.
func (c *Client) flushPendingFree() {
	c.pendingFreeMu.Lock()
	ids := c.pendingFree
	c.pendingFree = nil
	c.pendingFreeMu.Unlock()
	for _, id := range ids {
		c.objects.Free(id)
	}
}

// Serve reads and dispatches requests until the connection fails or is
// closed. It runs on its own goroutine per client — unlike the client
// package's cooperative read-guard, a server connection has no secondary
// queues to coordinate with.
func (c *Client) Serve() error {
	defer c.registry.unregisterClient(c)
	for {
		if _, err := c.conn.Recv(); err != nil {
			return c.fail(err)
		}

		for {
			buf, fds := c.conn.TakeBuffered()
			if len(buf) < wire.HeaderSize {
				break
			}
			sender, size, opcode := wire.DecodeHeader(buf)
			if size < wire.HeaderSize {
				return c.fail(wire.NewBadMessage("", "", fmt.Errorf("declared size %d smaller than header", size)))
			}
			if int(size) > len(buf) {
				break
			}

			slot, ok := c.objects.Lookup(sender)
			if !ok {
				return c.fail(wire.NewInvalidId(sender))
			}
			if !slot.Alive {
				// Scenario 3: a request against an already-destroyed object
				// is dropped silently, the same destructor race window the
				// client side allows.
				c.conn.Consume(int(size), 0)
				continue
			}

			ifaceName := "?"
			if slot.Interface != nil {
				ifaceName = slot.Interface.Name
			}
			desc, ok := slot.Interface.Request(opcode)
			if !ok {
				return c.fail(wire.NewBadMessage(ifaceName, "", fmt.Errorf("unresolvable opcode %d for %s", opcode, ifaceName)))
			}

			body := buf[wire.HeaderSize:size]
			args, consumedFds, err := wire.Decode(ifaceName, desc.Name, body, fds, desc)
			if err != nil {
				return c.fail(err)
			}
			c.conn.Consume(int(size), consumedFds)

			c.nullDeadObjectArgs(args)

			c.dbg.Print(debug.Dispatched, "s", ifaceName, sender, desc.Name, args)
			c.handleRequest(slot, sender, opcode, desc, args)
		}
	}
}

// nullDeadObjectArgs implements spec.md §4.5 point 3 / §8 testable property
// 3 on the server side: an Object-typed argument referencing an id this
// client's map shows as dead, or no longer holds at all, is delivered as a
// null object, independent of
// whether the request's own sender is still alive.
func (c *Client) nullDeadObjectArgs(args []wire.Argument) {
	for i, a := range args {
		if a.Type != wire.ArgObject || a.Obj == 0 {
			continue
		}
		slot, ok := c.objects.Lookup(a.Obj)
		if !ok || !slot.Alive {
			args[i].Obj = 0
		}
	}
}

func (c *Client) handleRequest(slot objects.Slot, sender uint32, opcode uint16, desc *wire.MessageDesc, args []wire.Argument) {
	switch {
	case sender == objects.DisplayID && opcode == core.DisplayOpSync:
		newID := args[0].Obj
		c.objects.InsertNew(newID, core.Callback, core.Callback.Version, 0, nil)
		c.SendEvent(newID, core.CallbackEventDone, []wire.Argument{wire.UintArg(0)})
		c.objects.Kill(newID)
		c.objects.Free(newID)
		c.flushPendingFree()
		c.registry.Tick()
		return
	case sender == objects.DisplayID && opcode == core.DisplayOpGetRegistry:
		newID := args[0].Obj
		c.objects.InsertNew(newID, core.Registry, core.Registry.Version, 0, nil)
		c.registryID = newID
		c.registry.registerClient(c, newID)
		for _, g := range c.registry.Snapshot() {
			c.SendEvent(newID, core.RegistryEventGlobal, []wire.Argument{
				wire.UintArg(g.Name), wire.StringArg(g.Interface.Name), wire.UintArg(g.Version),
			})
		}
		return
	case slot.Interface == core.Registry && opcode == core.RegistryOpBind:
		name := args[0].Uint
		newID := args[1].Obj
		ifaceName := args[1].DynIface
		version := args[1].DynVersion
		if err := c.registry.Bind(c, name, newID, ifaceName, version); err != nil {
			c.protocolError(sender, 0, err.Error())
		}
		return
	}

	c.handlersMu.Lock()
	h := c.handlers[handlerKey{sender, opcode}]
	c.handlersMu.Unlock()
	if h != nil {
		h(c, sender, opcode, args)
	}

	if desc.Destructor {
		c.DestroyObject(sender)
	}
}

func (c *Client) protocolError(obj uint32, code uint32, msg string) {
	c.SendEvent(objects.DisplayID, core.DisplayEventError, []wire.Argument{
		wire.ObjectArg(obj), wire.UintArg(code), wire.StringArg(msg),
	})
	c.fail(wire.NewProtocolError(obj, code, msg))
}

func (c *Client) fail(err error) error {
	if we, ok := err.(*wire.WaylandError); ok && we.IsTerminal() {
		c.lastErr.Store(we)
	}
	c.conn.Close()
	return err
}
