//go:build linux
// +build linux

// File: channel/channel_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"testing"

	"github.com/momentics/hioload-mux/address"
	"github.com/momentics/hioload-mux/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopback(t *testing.T) address.Address {
	t.Helper()
	a, err := address.New("127.0.0.1", 0, address.FamilyIPv4)
	require.NoError(t, err)
	return a
}

func tcpPair(t *testing.T) (srv, cli *Conn, acc api.Channel) {
	t.Helper()
	srv, err := NewTCPServer(loopback(t), 0)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	assert.Equal(t, api.StateListening, srv.State())
	assert.Equal(t, api.ModeServer, srv.Mode())

	cli, err = NewTCPClient(address.Address{}, srv.LocalAddr())
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	assert.Equal(t, api.StateCreated, cli.State())
	require.NoError(t, cli.Connect())
	assert.Equal(t, api.StateConnected, cli.State())

	acc, err = srv.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { acc.Close() })
	assert.Equal(t, api.StateAccepted, acc.State())
	assert.Equal(t, api.ModeAccepted, acc.Mode())
	return srv, cli, acc
}

func TestTCP_EchoAndDisconnect(t *testing.T) {
	srv, cli, acc := tcpPair(t)

	n, err := cli.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = acc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	_, err = acc.Write([]byte("pong"))
	require.NoError(t, err)
	b, err := cli.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('p'), b)

	_, err = srv.Write([]byte("x"))
	assert.ErrorIs(t, err, api.ErrNotSupported)

	require.NoError(t, cli.Disconnect())
	assert.Equal(t, api.StateClosed, cli.State())
	// Unread bytes on the client side turn the close into a reset; either
	// way the peer sees a connection error.
	_, err = acc.Read(buf)
	assert.ErrorIs(t, err, api.ErrConnection)

	_, err = cli.Write([]byte("late"))
	assert.ErrorIs(t, err, api.ErrClosed)
	require.NoError(t, cli.Disconnect())
}

func TestTCP_ZeroLengthWrite(t *testing.T) {
	_, cli, _ := tcpPair(t)
	n, err := cli.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTCP_ConnectRequiresRemote(t *testing.T) {
	cli, err := NewTCPClient(address.Address{}, address.Address{})
	require.NoError(t, err)
	defer cli.Close()
	assert.ErrorIs(t, cli.Connect(), api.ErrConnection)
}

func TestTCP_ConnectRefused(t *testing.T) {
	srv, err := NewTCPServer(loopback(t), 0)
	require.NoError(t, err)
	dead := srv.LocalAddr()
	require.NoError(t, srv.Close())

	cli, err := NewTCPClient(address.Address{}, dead)
	require.NoError(t, err)
	defer cli.Close()
	assert.ErrorIs(t, cli.Connect(), api.ErrConnection)
	assert.Equal(t, api.StateCreated, cli.State())
}

func TestTCP_ServerNeedsLocal(t *testing.T) {
	_, err := NewTCPServer(address.Address{}, 0)
	assert.ErrorIs(t, err, api.ErrInvalidAddress)
}

func TestTCP_BindConflict(t *testing.T) {
	srv, err := NewTCPServer(loopback(t), 0)
	require.NoError(t, err)
	defer srv.Close()
	_, err = NewTCPServer(srv.LocalAddr(), 0)
	assert.ErrorIs(t, err, api.ErrConnection)
}

func TestUDP_ServerRepliesToLastSender(t *testing.T) {
	srv, err := NewUDPServer(loopback(t))
	require.NoError(t, err)
	defer srv.Close()

	cli, err := NewUDPClient(address.Address{}, srv.LocalAddr())
	require.NoError(t, err)
	defer cli.Close()

	_, err = srv.Write([]byte("nobody"))
	assert.ErrorIs(t, err, api.ErrConnection)

	_, err = cli.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 32)
	n, from, err := srv.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, cli.LocalAddr().Port(), from.Port())

	_, err = srv.Write([]byte("reply"))
	require.NoError(t, err)
	n, err = cli.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "reply", string(buf[:n]))
}

func TestUDP_TruncatedDatagram(t *testing.T) {
	srv, err := NewUDPServer(loopback(t))
	require.NoError(t, err)
	defer srv.Close()
	cli, err := NewUDPClient(address.Address{}, srv.LocalAddr())
	require.NoError(t, err)
	defer cli.Close()
	require.NoError(t, cli.Connect())

	_, err = cli.Write([]byte("0123456789"))
	require.NoError(t, err)
	buf := make([]byte, 3)
	n, err := srv.Read(buf)
	assert.ErrorIs(t, err, api.ErrTruncated)
	assert.Equal(t, 3, n)
	assert.Equal(t, "012", string(buf))
}

func TestUDP_AcceptNotSupported(t *testing.T) {
	srv, err := NewUDPServer(loopback(t))
	require.NoError(t, err)
	defer srv.Close()
	_, err = srv.Accept()
	assert.ErrorIs(t, err, api.ErrNotSupported)
	_, err = srv.WriteTo([]byte("x"), srv.LocalAddr())
	require.NoError(t, err)
	b, err := srv.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('x'), b)
}

func TestRaw_Loopback(t *testing.T) {
	srv, err := NewRawServer(loopback(t), 0)
	if err != nil {
		if assert.ErrorIs(t, err, api.ErrPermissionDenied) {
			t.Skip("raw sockets need CAP_NET_RAW")
		}
		return
	}
	defer srv.Close()
	cli, err := NewRawClient(address.Address{}, srv.LocalAddr().WithPort(0), 0)
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Write([]byte("raw"))
	require.NoError(t, err)
	// IPv4 raw sockets deliver the IP header with the payload.
	buf := make([]byte, 128)
	n, err := srv.Read(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 23)
	assert.Equal(t, "raw", string(buf[n-3:n]))
}
