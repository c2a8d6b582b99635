package client

import (
	"fmt"

	"github.com/wl-go/gowl/debug"
	"github.com/wl-go/gowl/objects"
	"github.com/wl-go/gowl/protocol/core"
	"github.com/wl-go/gowl/queue"
	"github.com/wl-go/gowl/wire"
)

// Handler is the user callback contract for a bound object: it receives
// the decoded event and runs synchronously during dispatch. Per SPEC_FULL
// §4.5, a Handler must not re-enter Dispatch* on its own queue; Queue
// detects and rejects that itself.
type Handler func(ev wire.Message)

// handlerKey identifies which object+opcode a Handler was registered for,
// used only for the bookkeeping map below.
type handlerKey struct {
	id     uint32
	opcode uint16
}

// listeners is intentionally not part of Display's exported surface:
// generated per-interface wrappers are expected to hold their own typed
// callback structs and translate into wire.Message themselves; this map is
// the minimal plumbing the runtime needs to support that without forcing a
// particular listener shape.
func (d *Display) addListener(id uint32, opcode uint16, h Handler) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	if d.listeners == nil {
		d.listeners = make(map[handlerKey]Handler)
	}
	d.listeners[handlerKey{id, opcode}] = h
}

// sendRequest encodes and transmits a non-constructor request.
func (d *Display) sendRequest(senderID uint32, opcode uint16, args []wire.Argument) error {
	if err := d.LastError(); err != nil {
		return err
	}

	slot, ok := d.objects.Lookup(senderID)
	if !ok {
		return wire.NewInvalidId(senderID)
	}
	if !slot.Alive {
		// Destructor race: silently dropped per spec.md §4.7.
		return nil
	}

	data, fds, err := wire.Encode(senderID, opcode, args)
	if err != nil {
		return err
	}

	d.sendMu.Lock()
	d.conn.Write(data, fds)
	flushErr := d.conn.Flush()
	d.sendMu.Unlock()
	if flushErr != nil {
		return d.latch(flushErr)
	}

	d.traceSend(slot, opcode, args)
	return nil
}

// sendConstructor transmits a request whose new_id argument introduces a
// freshly allocated client-side object. The id is reserved and its object
// map slot installed just before the send; if the flush fails the slot is
// killed and freed again.
func (d *Display) sendConstructor(senderID uint32, opcode uint16, buildArgs func(newID uint32) []wire.Argument, childIface *wire.Interface, requestedVersion uint32, queueID uint32) (uint32, error) {
	if err := d.LastError(); err != nil {
		return 0, err
	}

	creator, ok := d.objects.Lookup(senderID)
	if !ok {
		return 0, wire.NewInvalidId(senderID)
	}
	if !creator.Alive {
		return 0, nil
	}

	newID := d.objects.Reserve()
	version := objects.ClampVersion(childIface, creator.Version, requestedVersion)

	args := buildArgs(newID)
	data, fds, err := wire.Encode(senderID, opcode, args)
	if err != nil {
		return 0, err
	}

	if err := d.objects.InsertNew(newID, childIface, version, queueID, nil); err != nil {
		return 0, err
	}

	d.sendMu.Lock()
	d.conn.Write(data, fds)
	flushErr := d.conn.Flush()
	d.sendMu.Unlock()
	if flushErr != nil {
		d.objects.Kill(newID)
		d.objects.Free(newID)
		return 0, d.latch(flushErr)
	}

	d.traceSend(creator, opcode, args)
	return newID, nil
}

// bindConstructor is sendConstructor's counterpart for wl_registry.bind: the
// new object's version is whatever the caller already clamped against the
// global's advertised version, not the registry object's own version, so it
// does not run the creator-version clamp sendConstructor applies.
func (d *Display) bindConstructor(registryID, name uint32, ifaceName string, version uint32, childIface *wire.Interface) (uint32, error) {
	if err := d.LastError(); err != nil {
		return 0, err
	}

	creator, ok := d.objects.Lookup(registryID)
	if !ok {
		return 0, wire.NewInvalidId(registryID)
	}
	if !creator.Alive {
		return 0, nil
	}

	newID := d.objects.Reserve()
	args := []wire.Argument{
		wire.UintArg(name),
		wire.DynamicNewIDArg(newID, ifaceName, version),
	}

	data, fds, err := wire.Encode(registryID, core.RegistryOpBind, args)
	if err != nil {
		return 0, err
	}

	if err := d.objects.InsertNew(newID, childIface, version, DefaultQueueID, nil); err != nil {
		return 0, err
	}

	d.sendMu.Lock()
	d.conn.Write(data, fds)
	flushErr := d.conn.Flush()
	d.sendMu.Unlock()
	if flushErr != nil {
		d.objects.Kill(newID)
		d.objects.Free(newID)
		return 0, d.latch(flushErr)
	}

	d.traceSend(creator, core.RegistryOpBind, args)
	return newID, nil
}

func (d *Display) traceSend(senderSlot objects.Slot, opcode uint16, args []wire.Argument) {
	if senderSlot.Interface == nil {
		return
	}
	desc, ok := senderSlot.Interface.Request(opcode)
	name := "?"
	if ok {
		name = desc.Name
	}
	d.dbg.Print(debug.Sent, "c", senderSlot.Interface.Name, senderSlot.ID, name, args)
}

// resolve implements the (sender_id, opcode) -> signature callback from
// spec.md §4.1, looking up the sender's current interface in the object
// map and indexing its Events table (client-side always decodes events).
func (d *Display) resolve(sender uint32, opcode uint16) (*wire.MessageDesc, *objects.Slot, bool) {
	slot, ok := d.objects.Lookup(sender)
	if !ok || slot.Interface == nil {
		return nil, nil, false
	}
	desc, ok := slot.Interface.Event(opcode)
	if !ok {
		return nil, nil, false
	}
	return desc, &slot, true
}

// readAndDispatchOnce performs one iteration of the reader side of the
// read-guard protocol: recv from the socket, parse every complete message
// currently buffered, and push each into its owning queue. It does not run
// any user callbacks itself — DispatchPending on each queue does that,
// separately, so multiple queue owners can drain concurrently after one
// reader burst.
func (d *Display) readAndDispatchOnce() error {
	if _, err := d.conn.Recv(); err != nil {
		return d.latch(err)
	}

	for {
		buf, fds := d.conn.TakeBuffered()
		if len(buf) < wire.HeaderSize {
			return nil
		}
		sender, size, opcode := wire.DecodeHeader(buf)
		if size < wire.HeaderSize {
			return d.latch(wire.NewBadMessage("", "", fmt.Errorf("declared size %d smaller than header", size)))
		}
		if int(size) > len(buf) {
			return nil // wait for more bytes
		}

		desc, slot, ok := d.resolve(sender, opcode)
		ifaceName := "?"
		if slot != nil && slot.Interface != nil {
			ifaceName = slot.Interface.Name
		}
		if !ok {
			// Unknown sender or opcode: spec.md §4.1 treats this as a
			// protocol error, UNLESS the sender is simply unknown because
			// it already died (destructor race), which is silent.
			if slot != nil && !slot.Alive {
				d.conn.Consume(int(size), 0)
				continue
			}
			return d.latch(wire.NewBadMessage(ifaceName, "", fmt.Errorf("unresolvable opcode %d for sender %d", opcode, sender)))
		}

		body := buf[wire.HeaderSize:size]
		args, consumedFds, err := wire.Decode(ifaceName, desc.Name, body, fds, desc)
		if err != nil {
			return d.latch(err)
		}
		d.conn.Consume(int(size), consumedFds)

		if !slot.Alive {
			// Destructor race on the event side too: drop silently.
			continue
		}

		d.handleParsed(*slot, desc, sender, opcode, args)
	}
}

// handleParsed performs the per-message bookkeeping spec.md §4.5 describes
// (new_id -> insert_new, dead object args -> null, destructor -> kill) and
// pushes the event onto its target queue.
func (d *Display) handleParsed(senderSlot objects.Slot, desc *wire.MessageDesc, sender uint32, opcode uint16, args []wire.Argument) {
	for i, a := range args {
		if a.Type != wire.ArgNewID {
			continue
		}
		iface := desc.Signature[i].Iface
		d.objects.InsertNew(a.Obj, iface, senderSlot.Version, senderSlot.Queue, nil)
	}

	d.nullDeadObjectArgs(args)

	d.traceDispatch(senderSlot, desc, args)

	if sender == objects.DisplayID {
		d.handleDisplayEvent(opcode, args)
	}

	d.queuesMu.Lock()
	q, ok := d.queues[senderSlot.Queue]
	d.queuesMu.Unlock()
	if !ok {
		q = d.DefaultQueue()
	}

	d.listenersMu.Lock()
	h := d.listeners[handlerKey{sender, opcode}]
	d.listenersMu.Unlock()

	q.Push(queue.Event{
		Msg: wire.Message{Sender: sender, Opcode: opcode, Args: args},
		Deliver: func(m wire.Message) {
			if h != nil {
				h(m)
			}
		},
	})

	if desc.Destructor {
		d.objects.Kill(sender)
	}
}

// nullDeadObjectArgs implements spec.md §4.5 point 3 / §8 testable property
// 3: an Object-typed argument referencing an id this side's map shows as
// dead, or no longer holds at all, is delivered as a null object rather
// than a dangling reference, independent of whether the message's own
// sender is alive.
func (d *Display) nullDeadObjectArgs(args []wire.Argument) {
	for i, a := range args {
		if a.Type != wire.ArgObject || a.Obj == 0 {
			continue
		}
		slot, ok := d.objects.Lookup(a.Obj)
		if !ok || !slot.Alive {
			args[i].Obj = 0
		}
	}
}

func (d *Display) traceDispatch(senderSlot objects.Slot, desc *wire.MessageDesc, args []wire.Argument) {
	if senderSlot.Interface == nil {
		return
	}
	d.dbg.Print(debug.Dispatched, "c", senderSlot.Interface.Name, senderSlot.ID, desc.Name, args)
}

func (d *Display) handleDisplayEvent(opcode uint16, args []wire.Argument) {
	switch opcode {
	case core.DisplayEventError:
		id := args[0].Obj
		code := args[1].Uint
		msg := ""
		if args[2].Str != nil {
			msg = *args[2].Str
		}
		werr := wire.NewProtocolError(id, code, msg)
		d.protocolErr.Store(werr)
		d.lastErr.Store(werr)
	case core.DisplayEventDeleteID:
		d.objects.Free(args[0].Uint)
	}
}

// DispatchPending drains the default queue's already-buffered events
// without touching the socket, per spec.md §4.4.
func (d *Display) DispatchPending() (int, error) {
	return d.DefaultQueue().DispatchPending()
}

// DispatchQueuePending drains an arbitrary queue the same way.
func (d *Display) DispatchQueuePending(q *queue.Queue) (int, error) {
	return q.DispatchPending()
}

// DispatchBlocking reads from the socket if the default queue is empty,
// then dispatches whatever became available. Exactly one goroutine may be
// inside the reader section at a time (the read-guard protocol); other
// callers block on readMu until it completes, then dispatch their own
// queue's share of what the reader demultiplexed.
func (d *Display) DispatchBlocking() (int, error) {
	return d.dispatchBlocking(d.DefaultQueue())
}

// DispatchQueueBlocking is DispatchBlocking for a secondary queue.
func (d *Display) DispatchQueueBlocking(q *queue.Queue) (int, error) {
	return d.dispatchBlocking(q)
}

func (d *Display) dispatchBlocking(q *queue.Queue) (int, error) {
	if q.Len() == 0 {
		if err := d.LastError(); err != nil {
			return 0, err
		}
		d.readMu.Lock()
		// Re-check after acquiring the read guard: another goroutine may
		// have already performed a read burst that delivered events onto
		// this queue while we were waiting for readMu, in which case there
		// is nothing left for us to read ourselves.
		if q.Len() == 0 {
			if err := d.readAndDispatchOnce(); err != nil {
				d.readMu.Unlock()
				return 0, err
			}
		}
		d.readMu.Unlock()
	}
	return q.DispatchPending()
}

// SyncRoundtrip issues wl_display.sync and dispatches the default queue
// until the resulting callback fires, per spec.md §4.4/§4.6.
func (d *Display) SyncRoundtrip() error {
	return d.RoundtripOn(d.DefaultQueue())
}

// RoundtripOn is SyncRoundtrip targeting an explicit queue, so a secondary
// queue's owner can roundtrip without touching the default queue.
func (d *Display) RoundtripOn(q *queue.Queue) error {
	done := make(chan struct{}, 1)

	id, err := d.sendConstructor(objects.DisplayID, core.DisplayOpSync, func(newID uint32) []wire.Argument {
		return []wire.Argument{wire.NewIDArg(newID)}
	}, core.Callback, 0, queueIDFor(d, q))
	if err != nil {
		return err
	}

	d.addListener(id, core.CallbackEventDone, func(wire.Message) {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	for {
		select {
		case <-done:
			return nil
		default:
		}
		if _, err := d.dispatchBlocking(q); err != nil {
			return err
		}
	}
}

func queueIDFor(d *Display, q *queue.Queue) uint32 {
	d.queuesMu.Lock()
	defer d.queuesMu.Unlock()
	return d.queueIDs[q]
}
