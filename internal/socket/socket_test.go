//go:build linux
// +build linux

// File: internal/socket/socket_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"io"
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

func boundDatagram(t *testing.T) (*Socket, address.Address) {
	t.Helper()
	s, err := Create(Datagram, address.FamilyIPv4, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Bind(loopback(t)))
	a, err := s.LocalAddress()
	require.NoError(t, err)
	require.NotZero(t, a.Port())
	return s, a
}

func TestCreate_UnsupportedFamily(t *testing.T) {
	_, err := Create(Stream, address.FamilyPath, Options{})
	assert.ErrorIs(t, err, api.ErrUnsupportedFamily)
}

func TestClose_Idempotent(t *testing.T) {
	s, err := Create(Stream, address.FamilyIPv4, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, -1, s.Fd())
	assert.True(t, s.Closed())

	_, err = s.Send([]byte("x"))
	assert.ErrorIs(t, err, api.ErrClosed)
	_, _, err = s.Receive(make([]byte, 1))
	assert.ErrorIs(t, err, api.ErrClosed)
	assert.ErrorIs(t, s.Bind(loopback(t)), api.ErrClosed)
}

func TestDatagram_ZeroLengthAndTruncation(t *testing.T) {
	a, _ := boundDatagram(t)
	b, bAddr := boundDatagram(t)

	n, err := a.SendTo(nil, bAddr)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = a.SendTo([]byte("0123456789"), bAddr)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	buf := make([]byte, 4)
	n, truncated, from, err := b.ReceiveFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, truncated)
	assert.Equal(t, "0123", string(buf))
	aAddr, err := a.LocalAddress()
	require.NoError(t, err)
	assert.True(t, aAddr.Equal(from))
}

func TestStream_AcceptSendReceiveEOF(t *testing.T) {
	ln, err := Create(Stream, address.FamilyIPv4, Options{})
	require.NoError(t, err)
	defer ln.Close()
	require.NoError(t, ln.SetReuseAddr(true))
	require.NoError(t, ln.Bind(loopback(t)))
	require.NoError(t, ln.Listen(0))
	lnAddr, err := ln.LocalAddress()
	require.NoError(t, err)

	cli, err := Create(Stream, address.FamilyIPv4, Options{})
	require.NoError(t, err)
	defer cli.Close()
	require.NoError(t, cli.Connect(lnAddr))
	require.NoError(t, cli.SetNoDelay(true))

	srv, peer, err := ln.Accept()
	require.NoError(t, err)
	defer srv.Close()
	cliAddr, err := cli.LocalAddress()
	require.NoError(t, err)
	assert.True(t, cliAddr.Equal(peer))
	got, err := cli.PeerAddress()
	require.NoError(t, err)
	assert.True(t, lnAddr.Equal(got))

	n, err := cli.Send([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	buf := make([]byte, 8)
	n, truncated, err := srv.Receive(buf)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, "ping", string(buf[:n]))

	require.NoError(t, cli.Close())
	_, _, err = srv.Receive(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSetNoDelay_DatagramNotSupported(t *testing.T) {
	s, _ := boundDatagram(t)
	assert.ErrorIs(t, s.SetNoDelay(true), api.ErrNotSupported)
}

func TestRaw_RequiresPrivilege(t *testing.T) {
	s, err := Create(Raw, address.FamilyIPv4, Options{})
	if err != nil {
		assert.ErrorIs(t, err, api.ErrPermissionDenied)
		t.Skip("raw sockets need CAP_NET_RAW")
	}
	defer s.Close()
	assert.Equal(t, Raw, s.Kind())
}
