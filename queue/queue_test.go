package queue

import (
	"testing"

	"github.com/wl-go/gowl/wire"
)

func TestFIFOOrder(t *testing.T) {
	q := New()
	var order []uint16
	for op := uint16(0); op < 5; op++ {
		op := op
		q.Push(Event{
			Msg:     wire.Message{Opcode: op},
			Deliver: func(m wire.Message) { order = append(order, m.Opcode) },
		})
	}
	n, err := q.DispatchPending()
	if err != nil {
		t.Fatalf("DispatchPending: %v", err)
	}
	if n != 5 {
		t.Fatalf("dispatched %d, want 5", n)
	}
	for i, op := range order {
		if int(op) != i {
			t.Fatalf("order[%d] = %d, want %d", i, op, i)
		}
	}
}

func TestDispatchPendingEmptyIsIdempotent(t *testing.T) {
	q := New()
	n, err := q.DispatchPending()
	if err != nil || n != 0 {
		t.Fatalf("got n=%d err=%v, want 0, nil", n, err)
	}
}

func TestReentrantDispatchDetected(t *testing.T) {
	q := New()
	q.Push(Event{Msg: wire.Message{}, Deliver: func(wire.Message) {
		_, err := q.DispatchPending()
		if _, ok := err.(ErrReentrantDispatch); !ok {
			t.Errorf("expected ErrReentrantDispatch, got %v", err)
		}
	}})
	if _, err := q.DispatchPending(); err != nil {
		t.Fatalf("outer dispatch failed: %v", err)
	}
}

func TestDrainClosesFds(t *testing.T) {
	q := New()
	q.Push(Event{Msg: wire.Message{Args: []wire.Argument{wire.FdArg(7)}}})
	q.Push(Event{Msg: wire.Message{Args: []wire.Argument{wire.FdArg(8)}}})

	var closed []int
	n := q.Drain(func(fd int) { closed = append(closed, fd) })
	if n != 2 {
		t.Fatalf("got %d, want 2", n)
	}
	if len(closed) != 2 || closed[0] != 7 || closed[1] != 8 {
		t.Fatalf("got %v", closed)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue to be empty after Drain")
	}
}
