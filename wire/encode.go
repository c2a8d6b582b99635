package wire

import (
	"encoding/binary"
	"fmt"
)

// pad4 returns the number of zero bytes needed to round n up to a 4-byte
// boundary.
func pad4(n int) int {
	return (4 - n%4) % 4
}

// Encode serializes a message's header and arguments into wire bytes. Fd
// arguments are not written in-band: each one is appended to outFds in
// argument order, for the caller to pass to the socket layer's ancillary
// data alongside the returned bytes.
//
// Encode refuses to produce a message over MaxMessageSize, per the wire
// protocol's fixed limit; on refusal it returns a BadMessage error and
// writes nothing.
func Encode(sender uint32, opcode uint16, args []Argument) (data []byte, outFds []int, err error) {
	buf := make([]byte, 8, 32)

	for i, a := range args {
		switch a.Type {
		case ArgInt:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(a.Int))
		case ArgUint:
			buf = binary.LittleEndian.AppendUint32(buf, a.Uint)
		case ArgObject:
			buf = binary.LittleEndian.AppendUint32(buf, a.Obj)
		case ArgFixed:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(a.Fixed)))
		case ArgNewID:
			if a.DynIface != "" {
				buf = appendString(buf, &a.DynIface)
				buf = binary.LittleEndian.AppendUint32(buf, a.DynVersion)
			}
			buf = binary.LittleEndian.AppendUint32(buf, a.Obj)
		case ArgString:
			buf = appendString(buf, a.Str)
		case ArgArray:
			buf = appendArray(buf, a.Arr)
		case ArgFd:
			outFds = append(outFds, a.Fd)
		default:
			return nil, nil, NewBadMessage("", "", fmt.Errorf("unsupported argument type at index %d", i))
		}
	}

	if len(buf) > MaxMessageSize {
		return nil, nil, NewBadMessage("", "", fmt.Errorf("message of %d bytes exceeds %d byte limit", len(buf), MaxMessageSize))
	}

	size := uint32(len(buf))
	binary.LittleEndian.PutUint32(buf[0:4], sender)
	binary.LittleEndian.PutUint32(buf[4:8], (size<<16)|uint32(opcode))

	return buf, outFds, nil
}

func appendString(buf []byte, s *string) []byte {
	if s == nil {
		return binary.LittleEndian.AppendUint32(buf, 0)
	}
	n := len(*s) + 1
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	buf = append(buf, *s...)
	buf = append(buf, 0)
	for i := 0; i < pad4(n); i++ {
		buf = append(buf, 0)
	}
	return buf
}

func appendArray(buf []byte, a []byte) []byte {
	if a == nil {
		return binary.LittleEndian.AppendUint32(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a)))
	buf = append(buf, a...)
	for i := 0; i < pad4(len(a)); i++ {
		buf = append(buf, 0)
	}
	return buf
}
