// Package channel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket-backed channels: one tagged type covering the TCP, UDP and raw
// variants behind the api.Channel contract. Serial lines live in serial.go.

package channel

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-mux/address"
	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/internal/socket"
)

// Conn is a socket-backed channel.
type Conn struct {
	kind  api.Kind
	mode  api.Mode
	sock  *socket.Socket
	state atomic.Int32

	mu     sync.Mutex
	local  address.Address
	remote address.Address
	// lastPeer is the most recent datagram sender seen by a UDP server.
	lastPeer address.Address
}

var _ api.Channel = (*Conn)(nil)

func newConn(kind api.Kind, mode api.Mode, sock *socket.Socket, local, remote address.Address, st api.State) *Conn {
	c := &Conn{kind: kind, mode: mode, sock: sock, local: local, remote: remote}
	c.state.Store(int32(st))
	return c
}

// open creates the socket and binds it, closing it again on any failure so a
// failed constructor never leaks a descriptor.
func open(kind socket.Kind, local, remote address.Address, opts socket.Options) (*socket.Socket, address.Address, error) {
	family := local.Family()
	if local.IsZero() {
		family = remote.Family()
		if remote.IsZero() {
			family = address.FamilyIPv4
		}
	}
	sock, err := socket.Create(kind, family, opts)
	if err != nil {
		return nil, address.Address{}, asConnectionError(err)
	}
	if local.IsZero() {
		if kind != socket.Stream {
			// Datagram and raw clients still need a local port to receive
			// replies before they connect.
			var werr error
			local, werr = address.New("", 0, family)
			if werr != nil {
				sock.Close()
				return nil, address.Address{}, werr
			}
		} else {
			return sock, local, nil
		}
	}
	if kind == socket.Stream {
		_ = sock.SetReuseAddr(true)
	}
	if err := sock.Bind(local); err != nil {
		sock.Close()
		return nil, address.Address{}, asConnectionError(err)
	}
	bound, err := sock.LocalAddress()
	if err != nil {
		sock.Close()
		return nil, address.Address{}, asConnectionError(err)
	}
	return sock, bound, nil
}

// asConnectionError keeps resource and family failures distinguishable and
// folds every other construction failure into ConnectionError.
func asConnectionError(err error) error {
	switch api.CodeOf(err) {
	case api.ErrCodeResourceExhausted, api.ErrCodeUnsupportedFamily,
		api.ErrCodePermissionDenied, api.ErrCodeInvalidAddress, api.ErrCodeConnection:
		return err
	}
	return api.Wrap(api.ErrCodeConnection, "channel.open", err)
}

// Kind returns the transport variant.
func (c *Conn) Kind() api.Kind { return c.kind }

// Mode returns client, server or accepted.
func (c *Conn) Mode() api.Mode { return c.mode }

// State returns the lifecycle state.
func (c *Conn) State() api.State { return api.State(c.state.Load()) }

// LocalAddr returns the bound local address.
func (c *Conn) LocalAddr() address.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// RemoteAddr returns the peer, zero when none is known.
func (c *Conn) RemoteAddr() address.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Descriptor exposes the socket descriptor for readiness polling.
func (c *Conn) Descriptor() (int, bool) {
	fd := c.sock.Fd()
	return fd, fd >= 0
}

func (c *Conn) closedErr(op string) error {
	return api.NewError(api.ErrCodeClosed, op, c.kind.String())
}

// Connect connects a client to its remote address. On UDP and raw clients it
// pins the default destination. Connected and server channels return nil.
func (c *Conn) Connect() error {
	st := c.State()
	if st == api.StateClosed {
		return c.closedErr("channel.Connect")
	}
	if c.mode != api.ModeClient || st == api.StateConnected {
		return nil
	}
	remote := c.RemoteAddr()
	if remote.IsZero() {
		return api.NewError(api.ErrCodeConnection, "channel.Connect", "no remote address")
	}
	if err := c.sock.Connect(remote); err != nil {
		return err
	}
	if local, err := c.sock.LocalAddress(); err == nil {
		c.mu.Lock()
		c.local = local
		c.mu.Unlock()
	}
	if c.kind == api.KindTCP {
		_ = c.sock.SetNoDelay(true)
	}
	c.state.CompareAndSwap(int32(api.StateCreated), int32(api.StateConnected))
	return nil
}

// Disconnect releases the descriptor exactly once.
func (c *Conn) Disconnect() error {
	return c.Close()
}

// Close implements api.Endpoint.
func (c *Conn) Close() error {
	c.state.Store(int32(api.StateClosed))
	return c.sock.Close()
}

// Accept takes one pending connection. Only listening TCP channels accept;
// the call blocks unless the registry reported the channel ready.
func (c *Conn) Accept() (api.Channel, error) {
	if c.State() == api.StateClosed {
		return nil, c.closedErr("channel.Accept")
	}
	if c.kind != api.KindTCP || c.mode != api.ModeServer {
		return nil, api.NewError(api.ErrCodeNotSupported, "channel.Accept", c.kind.String()+" "+c.mode.String())
	}
	ns, peer, err := c.sock.Accept()
	if err != nil {
		return nil, err
	}
	conn, err := newAccepted(ns, peer)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Write sends p to the connected peer. A UDP client that has not connected
// sends to its configured remote; a UDP server answers the most recent sender.
func (c *Conn) Write(p []byte) (int, error) {
	if c.State() == api.StateClosed {
		return 0, c.closedErr("channel.Write")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if c.mode == api.ModeServer && c.kind == api.KindTCP {
		return 0, api.NewError(api.ErrCodeNotSupported, "channel.Write", "listening channel")
	}
	if c.kind != api.KindTCP && c.State() != api.StateConnected {
		c.mu.Lock()
		to := c.remote
		if to.IsZero() {
			to = c.lastPeer
		}
		c.mu.Unlock()
		if to.IsZero() {
			return 0, api.NewError(api.ErrCodeConnection, "channel.Write", "no destination")
		}
		return c.sock.SendTo(p, to)
	}
	return c.sock.Send(p)
}

// WriteTo sends one datagram to an explicit destination.
func (c *Conn) WriteTo(p []byte, to address.Address) (int, error) {
	if c.State() == api.StateClosed {
		return 0, c.closedErr("channel.WriteTo")
	}
	if c.kind == api.KindTCP {
		return 0, api.NewError(api.ErrCodeNotSupported, "channel.WriteTo", "stream channel")
	}
	return c.sock.SendTo(p, to)
}

// Read receives into p. A datagram larger than p is truncated and reported
// with api.ErrTruncated alongside the bytes that fit. A closed stream peer
// yields a ConnectionError wrapping io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	n, _, err := c.ReadFrom(p)
	return n, err
}

// ReadFrom is Read that also reports the sender of a datagram.
func (c *Conn) ReadFrom(p []byte) (int, address.Address, error) {
	if c.State() == api.StateClosed {
		return 0, address.Address{}, c.closedErr("channel.Read")
	}
	if len(p) == 0 {
		return 0, address.Address{}, nil
	}
	if c.mode == api.ModeServer && c.kind == api.KindTCP {
		return 0, address.Address{}, api.NewError(api.ErrCodeNotSupported, "channel.Read", "listening channel")
	}
	n, truncated, from, err := c.sock.ReceiveFrom(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, from, api.Wrap(api.ErrCodeConnection, "channel.Read", io.EOF)
		}
		return n, from, err
	}
	if c.kind == api.KindUDP && c.mode == api.ModeServer && !from.IsZero() {
		c.mu.Lock()
		c.lastPeer = from
		c.mu.Unlock()
	}
	if c.kind == api.KindTCP {
		from = c.RemoteAddr()
	}
	if truncated {
		return n, from, api.NewError(api.ErrCodeTruncated, "channel.Read", "datagram exceeds buffer").WithContext("len", len(p))
	}
	return n, from, nil
}

// ReadByte consumes one byte. For datagram and raw channels the rest of the
// datagram is discarded.
func (c *Conn) ReadByte() (byte, error) {
	var b [1]byte
	n, err := c.Read(b[:])
	if n == 1 {
		return b[0], nil
	}
	if err == nil {
		err = api.NewError(api.ErrCodeConnection, "channel.ReadByte", "no data")
	}
	return 0, err
}
