// Package server implements the server-side half of the Wayland wire
// runtime: socket listening, per-client connection state, and the shared
// global registry every client's wl_registry mirrors.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/wl-go/gowl/debug"
	"github.com/wl-go/gowl/wire"
	"github.com/wl-go/gowl/wlconfig"
	"github.com/wl-go/gowl/xlog"
)

// Display is a listening Wayland server: the shared Registry every
// connected Client's wl_registry mirrors, plus the sockets accepting new
// connections.
type Display struct {
	registry *Registry
	dbg      debug.Printer

	listenersMu sync.Mutex
	listeners   []*net.UnixListener

	clientsMu sync.Mutex
	clients   map[*Client]struct{}
}

// NewDisplay creates a server with an empty registry and no listening
// sockets yet; call AddSocket/AddSocketAuto/CreateClient to accept
// connections.
func NewDisplay(opts ...wlconfig.Option) *Display {
	cfg := wlconfig.Resolve("s", opts...)
	return &Display{
		registry: NewRegistry(),
		dbg:      debug.Printer{Log: xlog.FromEnv(cfg.DebugEnabled)},
		clients:  make(map[*Client]struct{}),
	}
}

// Registry returns the shared global registry, for application code to Add
// globals to before or after sockets are opened.
func (d *Display) Registry() *Registry { return d.registry }

// AddSocket binds and listens on XDG_RUNTIME_DIR/name, per spec.md §6's
// server discovery convention. A stale socket file left behind by a crashed
// previous instance is removed before binding.
func (d *Display) AddSocket(name string) (string, error) {
	dir, err := wlconfig.ResolveServerSocketDir()
	if err != nil {
		return "", wire.NewIoError(err)
	}
	path := filepath.Join(dir, name)
	if c, err := net.Dial("unix", path); err == nil {
		c.Close()
		return "", wire.NewIoError(fmt.Errorf("socket %s is in use", path))
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", wire.NewIoError(err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return "", wire.NewIoError(err)
	}

	d.listenersMu.Lock()
	d.listeners = append(d.listeners, ln)
	d.listenersMu.Unlock()

	go d.acceptLoop(ln)
	return path, nil
}

// AddSocketAuto tries wayland-0 through wayland-31 until one is free,
// matching the convention compositors use when no explicit name is
// configured.
func (d *Display) AddSocketAuto() (string, error) {
	var lastErr error
	for i := 0; i < 32; i++ {
		path, err := d.AddSocket(fmt.Sprintf("wayland-%d", i))
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (d *Display) acceptLoop(ln *net.UnixListener) {
	for {
		uc, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		d.adopt(uc)
	}
}

// CreateClient adopts an already-connected descriptor directly, matching
// upstream's create_client mechanism used by privileged launchers (Xwayland
// and similar) that hand the server a pre-made socket pair instead of going
// through accept(2).
func (d *Display) CreateClient(fd int) (*Client, error) {
	f := os.NewFile(uintptr(fd), "wayland-client")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, wire.NewIoError(err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, wire.NewIoError(errors.New("fd is not a unix socket"))
	}
	return d.adopt(uc), nil
}

func (d *Display) adopt(uc *net.UnixConn) *Client {
	c := newClient(uc, d.registry, d.dbg)
	d.clientsMu.Lock()
	d.clients[c] = struct{}{}
	d.clientsMu.Unlock()

	go func() {
		c.Serve()
		d.clientsMu.Lock()
		delete(d.clients, c)
		d.clientsMu.Unlock()
	}()
	return c
}

// Clients returns the currently connected clients.
func (d *Display) Clients() []*Client {
	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()
	out := make([]*Client, 0, len(d.clients))
	for c := range d.clients {
		out = append(out, c)
	}
	return out
}

// Close shuts every listening socket and connected client down.
func (d *Display) Close() error {
	d.listenersMu.Lock()
	for _, ln := range d.listeners {
		ln.Close()
	}
	d.listenersMu.Unlock()

	d.clientsMu.Lock()
	for c := range d.clients {
		c.conn.Close()
	}
	d.clientsMu.Unlock()
	return nil
}
