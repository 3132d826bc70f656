// File: channel/udp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"github.com/momentics/hioload-mux/address"
	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/internal/socket"
)

// NewUDPClient creates a datagram socket. Writes before Connect go to remote;
// Connect pins remote as the default destination.
func NewUDPClient(local, remote address.Address) (*Conn, error) {
	sock, bound, err := open(socket.Datagram, local, remote, socket.Options{})
	if err != nil {
		return nil, err
	}
	return newConn(api.KindUDP, api.ModeClient, sock, bound, remote, api.StateCreated), nil
}

// NewUDPServer binds local only; there is no listen or accept.
func NewUDPServer(local address.Address) (*Conn, error) {
	if local.IsZero() {
		return nil, api.NewError(api.ErrCodeInvalidAddress, "channel.NewUDPServer", "local address required")
	}
	sock, bound, err := open(socket.Datagram, local, address.Address{}, socket.Options{})
	if err != nil {
		return nil, err
	}
	return newConn(api.KindUDP, api.ModeServer, sock, bound, address.Address{}, api.StateListening), nil
}
