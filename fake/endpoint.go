//go:build linux
// +build linux

// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake endpoints and reactors for testing.
// Provides predictable, controllable behavior for the registry interfaces.

package fake

import (
	"sync"

	"github.com/momentics/hioload-mux/api"
	"golang.org/x/sys/unix"
)

// Endpoint is a pollable fake backed by a unix socket pair. The endpoint
// owns one end; tests drive the other through Inject and Sent.
type Endpoint struct {
	kind api.Kind

	mu         sync.Mutex
	fd         int
	peer       int
	closed     bool
	closes     int
	readError  error
	writeError error
	closeError error
}

var _ api.Endpoint = (*Endpoint)(nil)

// NewEndpoint creates a fake endpoint reporting kind.
func NewEndpoint(kind api.Kind) (*Endpoint, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, api.FromErrno("fake.NewEndpoint", err, api.ErrCodeResourceExhausted)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, api.FromErrno("fake.NewEndpoint", err, api.ErrCodeResourceExhausted)
	}
	return &Endpoint{kind: kind, fd: fds[0], peer: fds[1]}, nil
}

// Kind implements api.Endpoint.
func (e *Endpoint) Kind() api.Kind { return e.kind }

// State is Connected until Close.
func (e *Endpoint) State() api.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return api.StateClosed
	}
	return api.StateConnected
}

// Descriptor implements api.Endpoint.
func (e *Endpoint) Descriptor() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return -1, false
	}
	return e.fd, true
}

// Read receives one injected message.
func (e *Endpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	fd, closed, rerr := e.fd, e.closed, e.readError
	e.mu.Unlock()
	if closed {
		return 0, api.NewError(api.ErrCodeClosed, "fake.Read", e.kind.String())
	}
	if rerr != nil {
		return 0, rerr
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := unix.Read(fd, p)
	if err != nil {
		return 0, api.FromErrno("fake.Read", err, api.ErrCodeConnection)
	}
	return n, nil
}

// ReadByte reads a one-byte message.
func (e *Endpoint) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := e.Read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Write sends p as one message to the peer end.
func (e *Endpoint) Write(p []byte) (int, error) {
	e.mu.Lock()
	fd, closed, werr := e.fd, e.closed, e.writeError
	e.mu.Unlock()
	if closed {
		return 0, api.NewError(api.ErrCodeClosed, "fake.Write", e.kind.String())
	}
	if werr != nil {
		return 0, werr
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, p)
	if err != nil {
		return 0, api.FromErrno("fake.Write", err, api.ErrCodeConnection)
	}
	return n, nil
}

// Close closes the endpoint end; the peer stays open until Release.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	if e.closeError != nil {
		return e.closeError
	}
	if e.closed {
		return nil
	}
	e.closed = true
	return unix.Close(e.fd)
}

// Release closes the peer end. Tests call it once they are done.
func (e *Endpoint) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peer >= 0 {
		unix.Close(e.peer)
		e.peer = -1
	}
}

// Inject queues data as one message for the endpoint to read, making it
// readable.
func (e *Endpoint) Inject(data []byte) error {
	e.mu.Lock()
	peer := e.peer
	e.mu.Unlock()
	_, err := unix.Write(peer, data)
	return err
}

// Sent drains every message the endpoint wrote to the peer.
func (e *Endpoint) Sent() [][]byte {
	e.mu.Lock()
	peer := e.peer
	e.mu.Unlock()
	var out [][]byte
	buf := make([]byte, 64*1024)
	for {
		n, err := unix.Read(peer, buf)
		if err != nil || n <= 0 {
			return out
		}
		out = append(out, append([]byte(nil), buf[:n]...))
	}
}

// HangUp closes the peer end so the endpoint sees end of stream.
func (e *Endpoint) HangUp() { e.Release() }

// Closes reports how many times Close was called.
func (e *Endpoint) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// SetReadError configures the endpoint to return err on Read.
func (e *Endpoint) SetReadError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readError = err
}

// SetWriteError configures the endpoint to return err on Write.
func (e *Endpoint) SetWriteError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeError = err
}

// SetCloseError configures the endpoint to return err on Close.
func (e *Endpoint) SetCloseError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeError = err
}
