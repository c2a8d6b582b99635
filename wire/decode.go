package wire

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// HeaderSize is the fixed 8-byte sender/size/opcode header every message
// starts with.
const HeaderSize = 8

// DecodeHeader reads the sender id and packed size/opcode word from the
// first 8 bytes of buf. It does not validate length; callers must ensure
// len(buf) >= HeaderSize.
func DecodeHeader(buf []byte) (sender uint32, size uint32, opcode uint16) {
	sender = binary.LittleEndian.Uint32(buf[0:4])
	word := binary.LittleEndian.Uint32(buf[4:8])
	size = word >> 16
	opcode = uint16(word & 0xffff)
	return
}

// fdCursor is a small cursor over a slice of received file descriptors,
// consumed in argument order as Fd arguments are decoded.
type fdCursor struct {
	fds []int
	pos int
}

func (c *fdCursor) next() (int, bool) {
	if c.pos >= len(c.fds) {
		return 0, false
	}
	fd := c.fds[c.pos]
	c.pos++
	return fd, true
}

// Decode parses the argument payload of a single message (body, i.e. the
// bytes following the 8-byte header) according to desc.Signature. iface and
// op name the owning interface/message, used only to annotate BadMessage
// errors.
//
// Decode consumes exactly len(fds) or fewer entries from fds, one per Fd
// argument in signature order; it is an error for the signature to demand
// more Fd arguments than fds supplies.
func Decode(iface, op string, body []byte, fds []int, desc *MessageDesc) ([]Argument, int, error) {
	cur := fdCursor{fds: fds}
	args := make([]Argument, 0, len(desc.Signature))
	off := 0

	for _, a := range desc.Signature {
		switch a.Type {
		case ArgInt:
			v, err := readUint32(body, off, iface, op)
			if err != nil {
				return nil, 0, err
			}
			args = append(args, Argument{Type: ArgInt, Int: int32(v)})
			off += 4
		case ArgUint:
			v, err := readUint32(body, off, iface, op)
			if err != nil {
				return nil, 0, err
			}
			args = append(args, Argument{Type: ArgUint, Uint: v})
			off += 4
		case ArgFixed:
			v, err := readUint32(body, off, iface, op)
			if err != nil {
				return nil, 0, err
			}
			args = append(args, Argument{Type: ArgFixed, Fixed: Fixed(int32(v))})
			off += 4
		case ArgObject:
			v, err := readUint32(body, off, iface, op)
			if err != nil {
				return nil, 0, err
			}
			args = append(args, Argument{Type: ArgObject, Obj: v})
			off += 4
		case ArgNewID:
			if a.Iface == nil {
				name, consumed, err := readString(body, off, iface, op)
				if err != nil {
					return nil, 0, err
				}
				off += consumed
				ver, err := readUint32(body, off, iface, op)
				if err != nil {
					return nil, 0, err
				}
				off += 4
				id, err := readUint32(body, off, iface, op)
				if err != nil {
					return nil, 0, err
				}
				off += 4
				args = append(args, Argument{Type: ArgNewID, Obj: id, DynIface: name, DynVersion: ver})
			} else {
				id, err := readUint32(body, off, iface, op)
				if err != nil {
					return nil, 0, err
				}
				off += 4
				args = append(args, Argument{Type: ArgNewID, Obj: id})
			}
		case ArgString:
			s, consumed, err := readNullableString(body, off, a.Nullable, iface, op)
			if err != nil {
				return nil, 0, err
			}
			off += consumed
			args = append(args, Argument{Type: ArgString, Str: s})
		case ArgArray:
			b, consumed, err := readArray(body, off, a.Nullable, iface, op)
			if err != nil {
				return nil, 0, err
			}
			off += consumed
			args = append(args, Argument{Type: ArgArray, Arr: b})
		case ArgFd:
			fd, ok := cur.next()
			if !ok {
				return nil, 0, NewBadMessage(iface, op, fmt.Errorf("fd underflow"))
			}
			args = append(args, Argument{Type: ArgFd, Fd: fd})
		default:
			return nil, 0, NewBadMessage(iface, op, fmt.Errorf("unknown signature argument type"))
		}
	}

	if off != len(body) {
		return nil, 0, NewBadMessage(iface, op, fmt.Errorf("declared size %d does not match consumed %d", len(body), off))
	}

	return args, cur.pos, nil
}

func readUint32(body []byte, off int, iface, op string) (uint32, error) {
	if off+4 > len(body) {
		return 0, NewBadMessage(iface, op, fmt.Errorf("short payload reading word at offset %d", off))
	}
	return binary.LittleEndian.Uint32(body[off : off+4]), nil
}

func readNullableString(body []byte, off int, nullable bool, iface, op string) (*string, int, error) {
	if off+4 > len(body) {
		return nil, 0, NewBadMessage(iface, op, fmt.Errorf("short payload reading string length at offset %d", off))
	}
	n := binary.LittleEndian.Uint32(body[off : off+4])
	if n == 0 {
		if !nullable {
			return nil, 0, NewBadMessage(iface, op, fmt.Errorf("null string in non-nullable argument"))
		}
		return nil, 4, nil
	}
	start := off + 4
	end := start + int(n)
	if end > len(body) {
		return nil, 0, NewBadMessage(iface, op, fmt.Errorf("declared string length %d overruns payload", n))
	}
	if body[end-1] != 0 {
		return nil, 0, NewBadMessage(iface, op, fmt.Errorf("string argument is not nul-terminated"))
	}
	raw := body[start : end-1]
	if !utf8.Valid(raw) {
		return nil, 0, NewBadMessage(iface, op, fmt.Errorf("string argument is not valid UTF-8"))
	}
	s := string(raw)
	total := 4 + int(n) + pad4(int(n))
	if off+total > len(body) {
		return nil, 0, NewBadMessage(iface, op, fmt.Errorf("string padding overruns payload"))
	}
	return &s, total, nil
}

// readString is used for the inline interface-name string of an anonymous
// new_id argument, which is never null.
func readString(body []byte, off int, iface, op string) (string, int, error) {
	s, consumed, err := readNullableString(body, off, false, iface, op)
	if err != nil {
		return "", 0, err
	}
	return *s, consumed, nil
}

func readArray(body []byte, off int, nullable bool, iface, op string) ([]byte, int, error) {
	if off+4 > len(body) {
		return nil, 0, NewBadMessage(iface, op, fmt.Errorf("short payload reading array length at offset %d", off))
	}
	n := binary.LittleEndian.Uint32(body[off : off+4])
	if n == 0 && nullable {
		return nil, 4, nil
	}
	start := off + 4
	end := start + int(n)
	if end > len(body) {
		return nil, 0, NewBadMessage(iface, op, fmt.Errorf("declared array length %d overruns payload", n))
	}
	out := make([]byte, n)
	copy(out, body[start:end])
	total := 4 + int(n) + pad4(int(n))
	if off+total > len(body) {
		return nil, 0, NewBadMessage(iface, op, fmt.Errorf("array padding overruns payload"))
	}
	return out, total, nil
}
