// File: channel/tcp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"github.com/momentics/hioload-mux/address"
	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/internal/socket"
)

// NewTCPClient creates a stream socket bound to local (ephemeral when zero).
// Connect must be called before Read/Write are meaningful.
func NewTCPClient(local, remote address.Address) (*Conn, error) {
	sock, bound, err := open(socket.Stream, local, remote, socket.Options{})
	if err != nil {
		return nil, err
	}
	return newConn(api.KindTCP, api.ModeClient, sock, bound, remote, api.StateCreated), nil
}

// NewTCPServer binds local and listens immediately.
func NewTCPServer(local address.Address, backlog int) (*Conn, error) {
	if local.IsZero() {
		return nil, api.NewError(api.ErrCodeInvalidAddress, "channel.NewTCPServer", "local address required")
	}
	sock, bound, err := open(socket.Stream, local, address.Address{}, socket.Options{})
	if err != nil {
		return nil, err
	}
	if err := sock.Listen(backlog); err != nil {
		sock.Close()
		return nil, asConnectionError(err)
	}
	return newConn(api.KindTCP, api.ModeServer, sock, bound, address.Address{}, api.StateListening), nil
}

// newAccepted wraps a descriptor returned by accept: no bind or listen,
// no-delay on, ready for Read/Write.
func newAccepted(sock *socket.Socket, peer address.Address) (*Conn, error) {
	if err := sock.SetNoDelay(true); err != nil {
		sock.Close()
		return nil, err
	}
	local, err := sock.LocalAddress()
	if err != nil {
		sock.Close()
		return nil, err
	}
	return newConn(api.KindTCP, api.ModeAccepted, sock, local, peer, api.StateAccepted), nil
}
