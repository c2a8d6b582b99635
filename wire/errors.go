package wire

import "fmt"

// WaylandError is the sealed error taxonomy surfaced by every package in
// this module. errors.As extracts the *WaylandError, whose Kind classifies
// it; Unwrap exposes the underlying error where there is one, so errors.Is
// reaches the wrapped cause. There is no Is method matching on Kind.
type WaylandError struct {
	Kind ErrorKind

	// ObjectID is populated for Kind == Protocol or InvalidId; Code and
	// Message for Kind == Protocol only.
	ObjectID uint32
	Code     uint32
	Message  string

	// Interface and Op are populated for Kind == BadMessage / NoHandler.
	Interface string
	Op        string

	cause error
}

// ErrorKind classifies a WaylandError without allocating.
type ErrorKind uint8

const (
	// NoLibrary is a construction-time failure to locate the runtime; it
	// is degenerate in this pure rewrite (there is no libwayland to
	// dlopen) and exists only so the taxonomy matches the upstream
	// contract callers of a real Wayland binding expect.
	NoLibrary ErrorKind = iota
	// Io wraps an underlying socket error. Terminal.
	Io
	// Protocol records a peer-reported wl_display.error event. Terminal.
	Protocol
	// InvalidId is an operation against a stale or foreign id. Non-terminal.
	InvalidId
	// BadMessage is a decode failure. Treated as terminal: the connection
	// cannot resynchronize once framing is suspect.
	BadMessage
	// NoHandler means the dispatcher found no sink for a message. Logged
	// and dropped; non-terminal, permitted by the protocol for
	// forward-compatibility.
	NoHandler
)

func (e *WaylandError) Error() string {
	switch e.Kind {
	case NoLibrary:
		return "wire: no wayland runtime available"
	case Io:
		if e.cause != nil {
			return fmt.Sprintf("wire: io: %v", e.cause)
		}
		return "wire: io error"
	case Protocol:
		return fmt.Sprintf("wire: protocol error: object %d code %d: %s", e.ObjectID, e.Code, e.Message)
	case InvalidId:
		return fmt.Sprintf("wire: invalid id %d", e.ObjectID)
	case BadMessage:
		return fmt.Sprintf("wire: bad message: %s.%s: %v", e.Interface, e.Op, e.cause)
	case NoHandler:
		return fmt.Sprintf("wire: no handler for %s.%s", e.Interface, e.Op)
	default:
		return "wire: unknown error"
	}
}

func (e *WaylandError) Unwrap() error { return e.cause }

func NewIoError(cause error) *WaylandError {
	return &WaylandError{Kind: Io, cause: cause}
}

func NewProtocolError(objectID, code uint32, message string) *WaylandError {
	return &WaylandError{Kind: Protocol, ObjectID: objectID, Code: code, Message: message}
}

func NewInvalidId(id uint32) *WaylandError {
	return &WaylandError{Kind: InvalidId, ObjectID: id}
}

func NewBadMessage(iface, op string, cause error) *WaylandError {
	return &WaylandError{Kind: BadMessage, Interface: iface, Op: op, cause: cause}
}

func NewNoHandler(iface, op string) *WaylandError {
	return &WaylandError{Kind: NoHandler, Interface: iface, Op: op}
}

// IsTerminal reports whether an error of this kind latches the connection
// into a broken state, per the propagation policy in SPEC_FULL §7.
func (e *WaylandError) IsTerminal() bool {
	switch e.Kind {
	case Io, Protocol, BadMessage:
		return true
	default:
		return false
	}
}
