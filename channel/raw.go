// File: channel/raw.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw IP channels talk to a single peer; there is no listen/accept. Creating
// one needs CAP_NET_RAW.

package channel

import (
	"github.com/momentics/hioload-mux/address"
	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/internal/socket"
)

// NewRawClient creates a raw socket for protocol (socket.DefaultRawProtocol
// when zero) aimed at remote.
func NewRawClient(local, remote address.Address, protocol int) (*Conn, error) {
	sock, bound, err := open(socket.Raw, local, remote, socket.Options{Protocol: protocol})
	if err != nil {
		return nil, err
	}
	return newConn(api.KindRaw, api.ModeClient, sock, bound, remote, api.StateCreated), nil
}

// NewRawServer creates a raw socket bound to local.
func NewRawServer(local address.Address, protocol int) (*Conn, error) {
	if local.IsZero() {
		return nil, api.NewError(api.ErrCodeInvalidAddress, "channel.NewRawServer", "local address required")
	}
	sock, bound, err := open(socket.Raw, local, address.Address{}, socket.Options{Protocol: protocol})
	if err != nil {
		return nil, err
	}
	return newConn(api.KindRaw, api.ModeServer, sock, bound, address.Address{}, api.StateListening), nil
}
