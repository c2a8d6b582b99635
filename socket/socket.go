// Package socket wraps a Unix stream socket with the buffering and
// SCM_RIGHTS ancillary-data handling the Wayland wire protocol needs to
// pass file descriptors alongside in-band bytes.
package socket

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/wl-go/gowl/wire"
)

// Conn is a buffered, FD-capable wrapper over a *net.UnixConn. Writes are
// accumulated in memory until Flush; reads pull one recvmsg's worth of
// bytes and ancillary FDs at a time into internal buffers, which callers
// drain message-at-a-time through TakeBuffered and Consume.
type Conn struct {
	uc *net.UnixConn

	sendMu  sync.Mutex
	sendBuf []byte
	sendFds []int

	recvMu  sync.Mutex
	recvBuf []byte
	recvFds []int
	oobBuf  []byte
}

// New wraps an already-connected Unix socket.
func New(uc *net.UnixConn) *Conn {
	return &Conn{uc: uc, oobBuf: make([]byte, unix.CmsgSpace(wire.MaxFds*4))}
}

// Dial connects to a Unix-domain socket at path.
func Dial(path string) (*Conn, error) {
	uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, wire.NewIoError(err)
	}
	return New(uc), nil
}

// FromFD adopts an already-connected socket identified by a raw file
// descriptor number, per the WAYLAND_SOCKET discovery mechanism.
func FromFD(fd int) (*Conn, error) {
	f := os.NewFile(uintptr(fd), "wayland-socket")
	c, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, wire.NewIoError(err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, wire.NewIoError(errors.New("fd is not a unix socket"))
	}
	return New(uc), nil
}

// Write queues bytes and FDs to be sent on the next Flush. It never blocks
// and never touches the socket itself.
func (c *Conn) Write(data []byte, fds []int) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.sendBuf = append(c.sendBuf, data...)
	c.sendFds = append(c.sendFds, fds...)
}

// Flush emits the queued bytes and FDs via one or more sendmsg calls,
// carrying up to wire.MaxFds file descriptors per call. On EAGAIN it
// returns immediately with the unsent remainder still queued; the caller
// is expected to retry after the connection becomes writable.
func (c *Conn) Flush() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	for len(c.sendBuf) > 0 || len(c.sendFds) > 0 {
		fdBatch := c.sendFds
		if len(fdBatch) > wire.MaxFds {
			fdBatch = fdBatch[:wire.MaxFds]
		}

		var oob []byte
		if len(fdBatch) > 0 {
			oob = unix.UnixRights(fdBatch...)
		}

		n, _, err := c.uc.WriteMsgUnix(c.sendBuf, oob, nil)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return nil
			}
			return wire.NewIoError(err)
		}
		c.sendBuf = c.sendBuf[n:]
		c.sendFds = c.sendFds[len(fdBatch):]
	}
	return nil
}

// recvChunk is the size of each ReadMsgUnix call's in-band scratch buffer.
const recvChunk = 4096

// Recv reads one recvmsg's worth of bytes (and any accompanying FDs) into
// the internal buffer, appending to whatever is already buffered from a
// previous short read. It returns the number of new bytes appended.
//
// A zero-length read with no error is treated as an orderly peer
// disconnect and surfaces as an Io(io.EOF) WaylandError, per the socket
// layer's closed-socket semantics.
func (c *Conn) Recv() (int, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	chunk := make([]byte, recvChunk)
	n, oobn, _, _, err := c.uc.ReadMsgUnix(chunk, c.oobBuf[:])
	if err != nil {
		return 0, wire.NewIoError(err)
	}
	if n == 0 && oobn == 0 {
		return 0, wire.NewIoError(io.EOF)
	}

	c.recvBuf = append(c.recvBuf, chunk[:n]...)

	if oobn > 0 {
		fds, err := parseRights(c.oobBuf[:oobn])
		if err != nil {
			return 0, wire.NewIoError(err)
		}
		for _, fd := range fds {
			unix.CloseOnExec(fd)
		}
		c.recvFds = append(c.recvFds, fds...)
	}

	return n, nil
}

func parseRights(oob []byte) ([]int, error) {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, scm := range scms {
		batch, err := unix.ParseUnixRights(&scm)
		if err != nil {
			return nil, err
		}
		fds = append(fds, batch...)
	}
	return fds, nil
}

// Buffered returns the number of bytes currently buffered from Recv calls
// that have not yet been dropped by Consume, and the number of FDs likewise
// buffered.
func (c *Conn) Buffered() (int, int) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return len(c.recvBuf), len(c.recvFds)
}

// TakeBuffered hands the caller (normally the wire decoder) a view of the
// buffered in-band bytes and received FDs without consuming them; Consume
// advances past what was parsed. The returned slices alias internal storage
// and must not be retained past the next Recv/Consume call.
func (c *Conn) TakeBuffered() ([]byte, []int) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return c.recvBuf, c.recvFds
}

// Consume drops the first n bytes and f fds from the buffered receive
// state, called after the wire decoder has successfully parsed a message
// out of the buffer returned by TakeBuffered.
func (c *Conn) Consume(n, f int) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	c.recvBuf = append(c.recvBuf[:0], c.recvBuf[n:]...)
	if f > 0 {
		c.recvFds = append(c.recvFds[:0], c.recvFds[f:]...)
	}
}

// ConnectionFD returns the raw file descriptor backing this connection, for
// external poll/epoll integration.
func (c *Conn) ConnectionFD() (int, error) {
	sc, err := c.uc.SyscallConn()
	if err != nil {
		return -1, wire.NewIoError(err)
	}
	var fd int
	cerr := sc.Control(func(f uintptr) { fd = int(f) })
	if cerr != nil {
		return -1, wire.NewIoError(cerr)
	}
	return fd, nil
}

// Close closes the underlying socket. Any FDs still buffered as unconsumed
// receive state are closed too, since nothing else owns them.
func (c *Conn) Close() error {
	c.recvMu.Lock()
	for _, fd := range c.recvFds {
		unix.Close(fd)
	}
	c.recvFds = nil
	c.recvMu.Unlock()
	return c.uc.Close()
}
