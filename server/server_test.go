package server

import (
	"net"
	"os"
	"sync/atomic"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/wl-go/gowl/objects"
	"github.com/wl-go/gowl/protocol/core"
	"github.com/wl-go/gowl/socket"
	"github.com/wl-go/gowl/wire"
)

// fakeClient drives the server under test from the wire side, playing the
// role a real libwayland client connection would.
type fakeClient struct {
	conn *socket.Conn
}

func newFakeClientPair(t *testing.T) (serverFD int, peer *fakeClient) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	f := os.NewFile(uintptr(fds[1]), "peer")
	c, err := net.FileConn(f)
	f.Close()
	if err != nil {
		t.Fatalf("FileConn: %v", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		t.Fatalf("not a unix conn")
	}
	return fds[0], &fakeClient{conn: socket.New(uc)}
}

func (p *fakeClient) send(t *testing.T, sender uint32, opcode uint16, args []wire.Argument) {
	t.Helper()
	data, fds, err := wire.Encode(sender, opcode, args)
	if err != nil {
		t.Fatalf("fakeClient: encode: %v", err)
	}
	p.conn.Write(data, fds)
	if err := p.conn.Flush(); err != nil {
		t.Fatalf("fakeClient: flush: %v", err)
	}
}

func (p *fakeClient) recv(t *testing.T, iface *wire.Interface) (sender uint32, opcode uint16, args []wire.Argument) {
	t.Helper()
	for {
		buf, fds := p.conn.TakeBuffered()
		if len(buf) >= wire.HeaderSize {
			s, size, op := wire.DecodeHeader(buf)
			if int(size) <= len(buf) {
				desc, ok := iface.Event(op)
				if !ok {
					t.Fatalf("fakeClient: unknown event opcode %d on %s", op, iface.Name)
				}
				body := buf[wire.HeaderSize:size]
				a, consumedFds, err := wire.Decode(iface.Name, desc.Name, body, fds, desc)
				if err != nil {
					t.Fatalf("fakeClient: decode: %v", err)
				}
				p.conn.Consume(int(size), consumedFds)
				return s, op, a
			}
		}
		if _, err := p.conn.Recv(); err != nil {
			t.Fatalf("fakeClient: recv: %v", err)
		}
	}
}

// testResource is a small interface exercising both a normal request and a
// destructor, standing in for something like wl_region in the scenario
// spec.md §8 describes.
var testResource = &wire.Interface{
	Name:    "wl_test_resource",
	Version: 3,
	Requests: []wire.MessageDesc{
		{Name: "ping", Signature: []wire.ArgDesc{{Type: wire.ArgUint}}},
		{Name: "destroy", Destructor: true},
		{Name: "attach", Signature: []wire.ArgDesc{{Type: wire.ArgObject, Nullable: true}}},
	},
}

const (
	testResourceOpPing    = 0
	testResourceOpDestroy = 1
	testResourceOpAttach  = 2
)

// TestServerRegistryBindAndDestroyedObjectDropsRequest exercises registry
// advertisement and bind end to end, then spec.md §8 scenario 3: a request
// against an object destroyed moments earlier is silently dropped rather
// than raising a protocol error.
func TestServerRegistryBindAndDestroyedObjectDropsRequest(t *testing.T) {
	serverFD, peer := newFakeClientPair(t)

	d := NewDisplay()
	defer d.Close()

	var pingCount int32
	name := d.Registry().Add(testResource, 2, nil, func(c *Client, id uint32, version uint32) error {
		c.SetRequestHandler(id, testResourceOpPing, func(c *Client, objID uint32, opcode uint16, args []wire.Argument) {
			atomic.AddInt32(&pingCount, 1)
		})
		return nil
	})

	cl, err := d.CreateClient(serverFD)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	const registryID = 2
	peer.send(t, objects.DisplayID, core.DisplayOpGetRegistry, []wire.Argument{wire.NewIDArg(registryID)})

	sender, opcode, args := peer.recv(t, core.Registry)
	if sender != registryID || opcode != core.RegistryEventGlobal {
		t.Fatalf("expected global event, got sender=%d opcode=%d", sender, opcode)
	}
	if args[0].Uint != name {
		t.Fatalf("expected global name %d, got %d", name, args[0].Uint)
	}
	if args[1].Str == nil || *args[1].Str != "wl_test_resource" {
		t.Fatalf("unexpected interface %v", args[1].Str)
	}
	if args[2].Uint != 2 {
		t.Fatalf("expected global version 2, got %d", args[2].Uint)
	}

	const resourceID = 3
	peer.send(t, registryID, core.RegistryOpBind, []wire.Argument{
		wire.UintArg(name),
		wire.DynamicNewIDArg(resourceID, "wl_test_resource", 5),
	})

	// Roundtrip so the bind has definitely been processed before we inspect
	// server-side state.
	const syncCallback1 = 4
	peer.send(t, objects.DisplayID, core.DisplayOpSync, []wire.Argument{wire.NewIDArg(syncCallback1)})
	sender, opcode, _ = peer.recv(t, core.Callback)
	if sender != syncCallback1 || opcode != core.CallbackEventDone {
		t.Fatalf("expected callback done, got sender=%d opcode=%d", sender, opcode)
	}

	slot, ok := cl.Lookup(resourceID)
	if !ok || !slot.Alive {
		t.Fatalf("expected bound object to be alive, ok=%v slot=%+v", ok, slot)
	}
	if slot.Version != 2 {
		t.Fatalf("expected version clamped to 2 (the global's version), got %d", slot.Version)
	}

	peer.send(t, resourceID, testResourceOpPing, []wire.Argument{wire.UintArg(42)})

	const syncCallback2 = 5
	peer.send(t, objects.DisplayID, core.DisplayOpSync, []wire.Argument{wire.NewIDArg(syncCallback2)})
	sender, opcode, _ = peer.recv(t, core.Callback)
	if sender != syncCallback2 || opcode != core.CallbackEventDone {
		t.Fatalf("expected callback done, got sender=%d opcode=%d", sender, opcode)
	}
	if got := atomic.LoadInt32(&pingCount); got != 1 {
		t.Fatalf("expected 1 ping delivered, got %d", got)
	}

	peer.send(t, resourceID, testResourceOpDestroy, nil)
	// Racing second request against the now-destroyed object: must be
	// dropped silently, not raise a protocol error.
	peer.send(t, resourceID, testResourceOpPing, []wire.Argument{wire.UintArg(7)})

	sender, opcode, args = peer.recv(t, core.Display)
	if sender != objects.DisplayID || opcode != core.DisplayEventDeleteID {
		t.Fatalf("expected delete_id event, got sender=%d opcode=%d", sender, opcode)
	}
	if args[0].Uint != resourceID {
		t.Fatalf("expected delete_id for %d, got %d", resourceID, args[0].Uint)
	}

	const syncCallback3 = 6
	peer.send(t, objects.DisplayID, core.DisplayOpSync, []wire.Argument{wire.NewIDArg(syncCallback3)})
	sender, opcode, _ = peer.recv(t, core.Callback)
	if sender != syncCallback3 || opcode != core.CallbackEventDone {
		t.Fatalf("expected callback done, got sender=%d opcode=%d", sender, opcode)
	}

	if got := atomic.LoadInt32(&pingCount); got != 1 {
		t.Fatalf("expected the racing ping to be dropped, ping count still %d", got)
	}
	if err := cl.LastError(); err != nil {
		t.Fatalf("expected no protocol error, got %v", err)
	}
}

// TestNullsDeadObjectArgumentFromLiveSender exercises spec.md §8 testable
// property 3 on the server side with the literal scenario the destroyed-
// object test above does not reach: a request from a still-alive sender
// carries an Object argument referencing a different object that has
// already been destroyed (e.g. wl_surface.attach(dead_region)), and that
// argument must arrive nulled rather than as a dangling id.
func TestNullsDeadObjectArgumentFromLiveSender(t *testing.T) {
	serverFD, peer := newFakeClientPair(t)

	d := NewDisplay()
	defer d.Close()

	gotAttach := make(chan uint32, 1)
	name := d.Registry().Add(testResource, 3, nil, func(c *Client, id uint32, version uint32) error {
		c.SetRequestHandler(id, testResourceOpAttach, func(c *Client, objID uint32, opcode uint16, args []wire.Argument) {
			gotAttach <- args[0].Obj
		})
		return nil
	})

	cl, err := d.CreateClient(serverFD)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	const registryID = 2
	peer.send(t, objects.DisplayID, core.DisplayOpGetRegistry, []wire.Argument{wire.NewIDArg(registryID)})

	sender, opcode, args := peer.recv(t, core.Registry)
	if sender != registryID || opcode != core.RegistryEventGlobal || args[0].Uint != name {
		t.Fatalf("expected global event for name %d, got sender=%d opcode=%d args=%+v", name, sender, opcode, args)
	}

	const liveID = 3
	peer.send(t, registryID, core.RegistryOpBind, []wire.Argument{
		wire.UintArg(name),
		wire.DynamicNewIDArg(liveID, "wl_test_resource", 3),
	})

	// A second, independent bound object that we destroy before it is ever
	// referenced: this is the "dead region" the live object's attach request
	// will point at.
	const deadID = 4
	peer.send(t, registryID, core.RegistryOpBind, []wire.Argument{
		wire.UintArg(name),
		wire.DynamicNewIDArg(deadID, "wl_test_resource", 3),
	})
	peer.send(t, deadID, testResourceOpDestroy, nil)

	sender, opcode, args = peer.recv(t, core.Display)
	if sender != objects.DisplayID || opcode != core.DisplayEventDeleteID || args[0].Uint != deadID {
		t.Fatalf("expected delete_id for %d, got sender=%d opcode=%d args=%+v", deadID, sender, opcode, args)
	}

	// Roundtrip so both binds and the destroy have definitely landed before
	// the attach request is sent.
	const syncCallback = 10
	peer.send(t, objects.DisplayID, core.DisplayOpSync, []wire.Argument{wire.NewIDArg(syncCallback)})
	sender, opcode, _ = peer.recv(t, core.Callback)
	if sender != syncCallback || opcode != core.CallbackEventDone {
		t.Fatalf("expected callback done, got sender=%d opcode=%d", sender, opcode)
	}

	// The roundtrip above also flushed the destroyed object's pending free,
	// so by now deadID is gone from the map entirely rather than merely
	// marked dead — nullDeadObjectArgs must still null a reference to it.
	if _, ok := cl.Lookup(deadID); ok {
		t.Fatalf("expected deadID to have been fully freed by now")
	}

	peer.send(t, liveID, testResourceOpAttach, []wire.Argument{wire.ObjectArg(deadID)})

	const syncCallback2 = 11
	peer.send(t, objects.DisplayID, core.DisplayOpSync, []wire.Argument{wire.NewIDArg(syncCallback2)})
	sender, opcode, _ = peer.recv(t, core.Callback)
	if sender != syncCallback2 || opcode != core.CallbackEventDone {
		t.Fatalf("expected callback done, got sender=%d opcode=%d", sender, opcode)
	}

	select {
	case got := <-gotAttach:
		if got != 0 {
			t.Fatalf("expected dead referent nulled, got object id %d", got)
		}
	default:
		t.Fatalf("expected attach handler to have run")
	}
}
