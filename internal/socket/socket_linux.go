//go:build linux
// +build linux

// File: internal/socket/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux socket primitive on raw descriptors via golang.org/x/sys/unix.

package socket

import (
	"io"
	"sync/atomic"

	"github.com/momentics/hioload-mux/address"
	"github.com/momentics/hioload-mux/api"
	"golang.org/x/sys/unix"
)

// Socket owns one OS socket descriptor.
type Socket struct {
	fd     int
	kind   Kind
	family address.Family
	closed atomic.Bool
}

// Create opens a new socket of the given kind and family.
func Create(kind Kind, family address.Family, opts Options) (*Socket, error) {
	if family != address.FamilyIPv4 && family != address.FamilyIPv6 {
		return nil, api.NewError(api.ErrCodeUnsupportedFamily, "socket.Create", family.String())
	}
	var typ, proto int
	switch kind {
	case Stream:
		typ, proto = unix.SOCK_STREAM, unix.IPPROTO_TCP
	case Datagram:
		typ, proto = unix.SOCK_DGRAM, unix.IPPROTO_UDP
	case Raw:
		typ, proto = unix.SOCK_RAW, opts.Protocol
		if proto == 0 {
			proto = DefaultRawProtocol
		}
	default:
		return nil, api.NewError(api.ErrCodeNotSupported, "socket.Create", kind.String())
	}
	fd, err := unix.Socket(family.Native(), typ|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, api.FromErrno("socket.Create", err, api.ErrCodeResourceExhausted)
	}
	return &Socket{fd: fd, kind: kind, family: family}, nil
}

// FromFd adopts an already open descriptor, e.g. one returned by accept.
func FromFd(fd int, kind Kind, family address.Family) *Socket {
	return &Socket{fd: fd, kind: kind, family: family}
}

// Fd returns the descriptor, or -1 once closed.
func (s *Socket) Fd() int {
	if s.closed.Load() {
		return -1
	}
	return s.fd
}

// Kind returns the socket kind.
func (s *Socket) Kind() Kind { return s.kind }

// Family returns the address family the socket was created with.
func (s *Socket) Family() address.Family { return s.family }

// Closed reports whether Close has been called.
func (s *Socket) Closed() bool { return s.closed.Load() }

func (s *Socket) check(op string) error {
	if s.closed.Load() {
		return api.NewError(api.ErrCodeClosed, op, "")
	}
	return nil
}

// Bind assigns the local address.
func (s *Socket) Bind(a address.Address) error {
	if err := s.check("socket.Bind"); err != nil {
		return err
	}
	sa, err := a.Sockaddr()
	if err != nil {
		return err
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return api.FromErrno("socket.Bind", err, api.ErrCodeConnection).WithContext("addr", a.String())
	}
	return nil
}

// Listen marks a stream socket passive.
func (s *Socket) Listen(backlog int) error {
	if err := s.check("socket.Listen"); err != nil {
		return err
	}
	if s.kind != Stream {
		return api.NewError(api.ErrCodeNotSupported, "socket.Listen", s.kind.String())
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return api.FromErrno("socket.Listen", err, api.ErrCodeConnection)
	}
	return nil
}

// Connect connects a stream socket or pins the default peer of a datagram or
// raw socket.
func (s *Socket) Connect(a address.Address) error {
	if err := s.check("socket.Connect"); err != nil {
		return err
	}
	sa, err := a.Sockaddr()
	if err != nil {
		return err
	}
	for {
		err = unix.Connect(s.fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return api.FromErrno("socket.Connect", err, api.ErrCodeConnection).WithContext("addr", a.String())
	}
	return nil
}

// Accept blocks until a connection is pending and returns its socket and the
// peer address.
func (s *Socket) Accept() (*Socket, address.Address, error) {
	if err := s.check("socket.Accept"); err != nil {
		return nil, address.Address{}, err
	}
	if s.kind != Stream {
		return nil, address.Address{}, api.NewError(api.ErrCodeNotSupported, "socket.Accept", s.kind.String())
	}
	var (
		nfd int
		sa  unix.Sockaddr
		err error
	)
	for {
		nfd, sa, err = unix.Accept4(s.fd, unix.SOCK_CLOEXEC)
		if err != unix.EINTR && err != unix.ECONNABORTED {
			break
		}
	}
	if err != nil {
		return nil, address.Address{}, api.FromErrno("socket.Accept", err, api.ErrCodeConnection)
	}
	peer, _ := address.FromSockaddr(sa)
	return FromFd(nfd, s.kind, s.family), peer, nil
}

// Send writes p to the connected peer.
func (s *Socket) Send(p []byte) (int, error) {
	if err := s.check("socket.Send"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.SendmsgN(s.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, api.FromErrno("socket.Send", err, api.ErrCodeConnection)
		}
		return n, nil
	}
}

// SendTo writes one datagram to an explicit destination.
func (s *Socket) SendTo(p []byte, to address.Address) (int, error) {
	if err := s.check("socket.SendTo"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	sa, err := to.Sockaddr()
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.SendmsgN(s.fd, p, nil, sa, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, api.FromErrno("socket.SendTo", err, api.ErrCodeConnection).WithContext("addr", to.String())
		}
		return n, nil
	}
}

// Receive reads into p. For datagram and raw sockets truncated reports that
// the pending datagram was longer than p and the excess was discarded. A
// stream peer that closed its side yields io.EOF.
func (s *Socket) Receive(p []byte) (n int, truncated bool, err error) {
	n, truncated, _, err = s.ReceiveFrom(p)
	return n, truncated, err
}

// ReceiveFrom is Receive that also reports the sender.
func (s *Socket) ReceiveFrom(p []byte) (int, bool, address.Address, error) {
	if err := s.check("socket.Receive"); err != nil {
		return 0, false, address.Address{}, err
	}
	if len(p) == 0 {
		return 0, false, address.Address{}, nil
	}
	if s.kind == Stream {
		for {
			n, err := unix.Read(s.fd, p)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return 0, false, address.Address{}, api.FromErrno("socket.Receive", err, api.ErrCodeConnection)
			}
			if n == 0 {
				return 0, false, address.Address{}, io.EOF
			}
			return n, false, address.Address{}, nil
		}
	}
	for {
		n, _, flags, from, err := unix.Recvmsg(s.fd, p, nil, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, false, address.Address{}, api.FromErrno("socket.Receive", err, api.ErrCodeConnection)
		}
		peer, _ := address.FromSockaddr(from)
		return n, flags&unix.MSG_TRUNC != 0, peer, nil
	}
}

// SetNoDelay toggles TCP_NODELAY on stream sockets.
func (s *Socket) SetNoDelay(on bool) error {
	if err := s.check("socket.SetNoDelay"); err != nil {
		return err
	}
	if s.kind != Stream {
		return api.NewError(api.ErrCodeNotSupported, "socket.SetNoDelay", s.kind.String())
	}
	return s.setInt(unix.IPPROTO_TCP, unix.TCP_NODELAY, on, "socket.SetNoDelay")
}

// SetReuseAddr toggles SO_REUSEADDR.
func (s *Socket) SetReuseAddr(on bool) error {
	if err := s.check("socket.SetReuseAddr"); err != nil {
		return err
	}
	return s.setInt(unix.SOL_SOCKET, unix.SO_REUSEADDR, on, "socket.SetReuseAddr")
}

func (s *Socket) setInt(level, opt int, on bool, op string) error {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(s.fd, level, opt, v); err != nil {
		return api.FromErrno(op, err, api.ErrCodeConnection)
	}
	return nil
}

// SetNonblock switches O_NONBLOCK on the descriptor.
func (s *Socket) SetNonblock(on bool) error {
	if err := s.check("socket.SetNonblock"); err != nil {
		return err
	}
	if err := unix.SetNonblock(s.fd, on); err != nil {
		return api.FromErrno("socket.SetNonblock", err, api.ErrCodeConnection)
	}
	return nil
}

// LocalAddress returns the bound address (resolves ephemeral ports).
func (s *Socket) LocalAddress() (address.Address, error) {
	if err := s.check("socket.LocalAddress"); err != nil {
		return address.Address{}, err
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return address.Address{}, api.FromErrno("socket.LocalAddress", err, api.ErrCodeConnection)
	}
	return address.FromSockaddr(sa)
}

// PeerAddress returns the connected peer.
func (s *Socket) PeerAddress() (address.Address, error) {
	if err := s.check("socket.PeerAddress"); err != nil {
		return address.Address{}, err
	}
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return address.Address{}, api.FromErrno("socket.PeerAddress", err, api.ErrCodeConnection)
	}
	return address.FromSockaddr(sa)
}

// Close releases the descriptor. It is idempotent.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := unix.Close(s.fd); err != nil {
		return api.FromErrno("socket.Close", err, api.ErrCodeConnection)
	}
	return nil
}
