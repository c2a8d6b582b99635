// Package client implements the client-side half of the Wayland wire
// runtime: connection setup, the object map, the dispatcher loop, event
// queues, and the registry/bind constructor semantics.
package client

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/wl-go/gowl/debug"
	"github.com/wl-go/gowl/objects"
	"github.com/wl-go/gowl/protocol/core"
	"github.com/wl-go/gowl/queue"
	"github.com/wl-go/gowl/socket"
	"github.com/wl-go/gowl/wire"
	"github.com/wl-go/gowl/wlconfig"
	"github.com/wl-go/gowl/xlog"
)

// Display is a connection to a Wayland compositor: the root id-1 object,
// the shared object map, and the dispatcher that demultiplexes socket
// bytes into per-object event queues.
type Display struct {
	conn    *socket.Conn
	objects *objects.Map

	sendMu sync.Mutex
	readMu sync.Mutex // the "read guard" of SPEC_FULL §4.5

	queuesMu    sync.Mutex
	queues      map[uint32]*queue.Queue
	queueIDs    map[*queue.Queue]uint32
	nextQueueID uint32

	dbg debug.Printer

	listenersMu sync.Mutex
	listeners   map[handlerKey]Handler

	lastErr atomic.Pointer[wire.WaylandError]

	// protocolErr is the decoded wl_display.error payload, kept separately
	// from lastErr so callers can inspect the structured fields (SPEC_FULL
	// §11's typed protocol-error surface).
	protocolErr atomic.Pointer[wire.WaylandError]
}

// DefaultQueueID names the queue every object starts out bound to.
const DefaultQueueID = 0

// Connect resolves WAYLAND_SOCKET / XDG_RUNTIME_DIR+WAYLAND_DISPLAY (or the
// options override) and opens a connection, inserting the root wl_display
// object at id 1. It performs no requests of its own; call GetRegistry and
// SyncRoundtrip to bootstrap the registry, matching upstream's explicit
// get_registry()+sync_roundtrip() idiom.
func Connect(opts ...wlconfig.Option) (*Display, error) {
	cfg := wlconfig.Resolve("c", opts...)

	path, fd, fdSet, err := wlconfig.ResolveClientSocketPath(cfg)
	if err != nil {
		return nil, wire.NewIoError(err)
	}

	var conn *socket.Conn
	if fdSet {
		conn, err = socket.FromFD(fd)
	} else {
		conn, err = socket.Dial(path)
	}
	if err != nil {
		return nil, err
	}

	defaultQueue := queue.New()
	d := &Display{
		conn:    conn,
		objects: objects.New(objects.ClientSide),
		queues:  map[uint32]*queue.Queue{DefaultQueueID: defaultQueue},
		queueIDs: map[*queue.Queue]uint32{defaultQueue: DefaultQueueID},
		dbg:     debug.Printer{Log: xlog.FromEnv(cfg.DebugEnabled)},
	}
	d.objects.InsertAt(objects.DisplayID, core.Display, core.Display.Version, DefaultQueueID, nil)

	return d, nil
}

// DefaultQueue returns the queue every object is bound to unless explicitly
// reassigned.
func (d *Display) DefaultQueue() *queue.Queue {
	return d.queues[DefaultQueueID]
}

// NewQueue allocates a secondary event queue. Objects are moved onto it via
// SetQueue.
func (d *Display) NewQueue() *queue.Queue {
	d.queuesMu.Lock()
	defer d.queuesMu.Unlock()
	d.nextQueueID++
	id := d.nextQueueID
	q := queue.New()
	d.queues[id] = q
	d.queueIDs[q] = id
	return q
}

// SetQueue reassigns which queue object id's future events are delivered
// to. It returns false if id is unknown or q was not created by this
// Display.
func (d *Display) SetQueue(id uint32, q *queue.Queue) bool {
	d.queuesMu.Lock()
	qid, ok := d.queueIDs[q]
	d.queuesMu.Unlock()
	if !ok {
		return false
	}
	return d.objects.SetQueue(id, qid)
}

// DestroyQueue drops a secondary queue, discarding any events still
// buffered on it and closing the fds they carried — the resolution
// SPEC_FULL adopts for spec.md §9's Open Question (2).
func (d *Display) DestroyQueue(q *queue.Queue) int {
	d.queuesMu.Lock()
	qid, ok := d.queueIDs[q]
	if ok {
		delete(d.queueIDs, q)
		delete(d.queues, qid)
	}
	d.queuesMu.Unlock()
	if !ok {
		return 0
	}
	return q.Drain(func(fd int) { unix.Close(fd) })
}

// ConnectionFD exposes the raw socket descriptor for external poll
// integration, per SPEC_FULL §11.
func (d *Display) ConnectionFD() (int, error) {
	return d.conn.ConnectionFD()
}

// LastError returns the latched terminal error, if the connection has
// entered the broken state described in spec.md §7.
func (d *Display) LastError() error {
	if e := d.lastErr.Load(); e != nil {
		return e
	}
	return nil
}

// LastProtocolError returns the most recent wl_display.error event as a
// typed value, per SPEC_FULL §11.
func (d *Display) LastProtocolError() *wire.WaylandError {
	return d.protocolErr.Load()
}

func (d *Display) latch(err error) error {
	if err == nil {
		return nil
	}
	if we, ok := err.(*wire.WaylandError); ok && we.IsTerminal() {
		d.lastErr.Store(we)
	}
	return err
}

// Close shuts down the connection. All live objects remain marked alive in
// the map (closing does not walk the object table), but every subsequent
// send/dispatch call observes LastError() and fails fast.
func (d *Display) Close() error {
	d.latch(wire.NewIoError(errClosed{}))
	return d.conn.Close()
}

type errClosed struct{}

func (errClosed) Error() string { return "connection closed" }
