// Package queue implements the MPSC event queue a connection's objects are
// bound to: an ordered buffer of fully-decoded messages dispatched to user
// callbacks synchronously, under the "one reader, many queues" protocol
// described in SPEC_FULL §4.5.
package queue

import (
	"sync"

	"github.com/wl-go/gowl/wire"
)

// Event is a decoded wire.Message paired with the callback that should run
// when it is dispatched.
type Event struct {
	Msg     wire.Message
	Deliver func(wire.Message)
}

// ErrReentrantDispatch is returned by DispatchPending/DispatchBlocking when
// called from inside a callback already running on the same queue.
type ErrReentrantDispatch struct{}

func (ErrReentrantDispatch) Error() string {
	return "queue: re-entrant dispatch on the same queue"
}

// Queue is an ordered buffer of pending events. A connection owns a default
// queue plus any number of secondary queues; each object is bound to
// exactly one queue at a time (see objects.Map.SetQueue).
type Queue struct {
	mu      sync.Mutex
	pending []Event
	inside  bool
}

// New creates an empty queue.
func New() *Queue { return &Queue{} }

// Push appends an event to the tail of the queue, preserving arrival order.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
}

// Len reports the number of events currently buffered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DispatchPending runs every event currently buffered, in FIFO order, and
// returns immediately once the queue is empty — it does not read from the
// socket. It returns the number of events dispatched.
//
// Calling DispatchPending re-entrantly from inside a
// callback running on this same queue is an error: the per-queue "inside
// dispatch" flag makes the violation detectable instead of deadlocking or
// silently reordering events.
func (q *Queue) DispatchPending() (int, error) {
	q.mu.Lock()
	if q.inside {
		q.mu.Unlock()
		return 0, ErrReentrantDispatch{}
	}
	q.inside = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.inside = false
		q.mu.Unlock()
	}()

	n := 0
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			break
		}
		ev := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		ev.Deliver(ev.Msg)
		n++
	}
	return n, nil
}

// Drain discards every pending event without dispatching it, closing any
// FD arguments they carry since nothing else owns them. This is the
// resolution SPEC_FULL adopts for destroying a queue that still holds
// undispatched events (see spec.md §9 Open Questions (2)).
func (q *Queue) Drain(closeFd func(int)) int {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	if closeFd == nil {
		return len(pending)
	}
	for _, ev := range pending {
		for _, a := range ev.Msg.Args {
			if a.Type == wire.ArgFd {
				closeFd(a.Fd)
			}
		}
	}
	return len(pending)
}
