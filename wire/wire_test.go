package wire

import (
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	desc := &MessageDesc{
		Name: "global",
		Signature: []ArgDesc{
			{Type: ArgUint},
			{Type: ArgString},
			{Type: ArgUint},
		},
	}

	args := []Argument{
		UintArg(1),
		StringArg("wl_compositor"),
		UintArg(4),
	}

	data, fds, err := Encode(2, 0, args)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(fds) != 0 {
		t.Fatalf("expected no fds, got %d", len(fds))
	}

	sender, size, opcode := DecodeHeader(data)
	if sender != 2 || opcode != 0 || int(size) != len(data) {
		t.Fatalf("bad header: sender=%d size=%d opcode=%d len=%d", sender, size, opcode, len(data))
	}

	decoded, consumedFds, err := Decode("wl_registry", "global", data[HeaderSize:], nil, desc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumedFds != 0 {
		t.Fatalf("expected 0 consumed fds, got %d", consumedFds)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 args, got %d", len(decoded))
	}
	if decoded[0].Uint != 1 {
		t.Errorf("arg0 = %d, want 1", decoded[0].Uint)
	}
	if decoded[1].Str == nil || *decoded[1].Str != "wl_compositor" {
		t.Errorf("arg1 = %v, want wl_compositor", decoded[1].Str)
	}
	if decoded[2].Uint != 4 {
		t.Errorf("arg2 = %d, want 4", decoded[2].Uint)
	}
}

func TestEncodeRefusesOversizeMessage(t *testing.T) {
	huge := strings.Repeat("x", 5000)
	_, _, err := Encode(1, 0, []Argument{StringArg(huge)})
	if err == nil {
		t.Fatal("expected error for oversize message")
	}
	werr, ok := err.(*WaylandError)
	if !ok || werr.Kind != BadMessage {
		t.Fatalf("expected BadMessage error, got %v", err)
	}
}

// TestZeroObjectArgumentRoundTrips checks only that a literal, already-null
// ObjectArg(0) survives Encode/Decode as 0 — the wire codec's own zero-value
// handling. It does not exercise the liveness-driven "dead referent becomes
// null" rule; that is an object-map-aware behavior covered by
// client.TestNullsDeadObjectArgument and
// server.TestNullsDeadObjectArgumentFromLiveSender.
func TestZeroObjectArgumentRoundTrips(t *testing.T) {
	desc := &MessageDesc{
		Signature: []ArgDesc{{Type: ArgObject, Nullable: true}},
	}
	data, _, err := Encode(5, 0, []Argument{ObjectArg(0)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, _, err := Decode("wl_surface", "set_input_region", data[HeaderSize:], nil, desc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded[0].Obj != 0 {
		t.Errorf("expected null object (0), got %d", decoded[0].Obj)
	}
}

func TestDecodeShortPayload(t *testing.T) {
	desc := &MessageDesc{Signature: []ArgDesc{{Type: ArgUint}, {Type: ArgUint}}}
	_, _, err := Decode("wl_display", "sync", []byte{1, 2, 3}, nil, desc)
	if err == nil {
		t.Fatal("expected error for short payload")
	}
}

func TestDecodeFdUnderflow(t *testing.T) {
	desc := &MessageDesc{Signature: []ArgDesc{{Type: ArgFd}}}
	_, _, err := Decode("wl_shm", "create_pool", nil, nil, desc)
	if err == nil {
		t.Fatal("expected fd underflow error")
	}
}

func TestFixedConversion(t *testing.T) {
	f := NewFixed(3.5)
	if got := f.Float64(); got != 3.5 {
		t.Errorf("got %v, want 3.5", got)
	}
}

func TestDynamicNewIDArgRoundTrip(t *testing.T) {
	desc := &MessageDesc{
		Signature: []ArgDesc{
			{Type: ArgUint},
			{Type: ArgNewID}, // Iface == nil => dynamic bind
		},
	}
	data, _, err := Encode(2, 0, []Argument{UintArg(7), DynamicNewIDArg(42, "wl_compositor", 4)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, _, err := Decode("wl_registry", "bind", data[HeaderSize:], nil, desc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded[1].DynIface != "wl_compositor" || decoded[1].DynVersion != 4 || decoded[1].Obj != 42 {
		t.Errorf("unexpected decoded new_id: %+v", decoded[1])
	}
}

func TestArgTypeString(t *testing.T) {
	if ArgFd.String() != "fd" {
		t.Errorf("got %q", ArgFd.String())
	}
}
