//go:build linux
// +build linux

// File: ipc/ipc_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ipc

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/momentics/hioload-mux/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func skipUnavailable(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		return
	}
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, api.ErrPermissionDenied) {
		t.Skipf("ipc unavailable: %v", err)
	}
}

func shmKey() int { return 0x4d590000 | rand.Intn(0xffff) }

func TestSharedMemory_CreatorAndAttacher(t *testing.T) {
	key := shmKey()
	w, err := CreateSharedMemory(key, 4096, 0)
	skipUnavailable(t, err)
	require.NoError(t, err)
	defer w.Close()
	assert.True(t, w.Creator())
	assert.Equal(t, api.ReadWrite, w.Rights())

	r, err := AttachSharedMemory(key, 4096, 0, api.ReadOnly)
	require.NoError(t, err)
	defer r.Close()
	assert.False(t, r.Creator())

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('h'), b)

	_, err = r.Write([]byte("x"))
	assert.ErrorIs(t, err, api.ErrPermissionDenied)

	avail, err := r.DataAvailable()
	require.NoError(t, err)
	assert.Equal(t, 4096, avail)
	_, pollable := r.Descriptor()
	assert.False(t, pollable)
}

func TestReadOnly_ZeroLengthWrite(t *testing.T) {
	key := shmKey()
	w, err := CreateSharedMemory(key, 64, 0)
	skipUnavailable(t, err)
	require.NoError(t, err)
	defer w.Close()
	r, err := AttachSharedMemory(key, 64, 0, api.ReadOnly)
	require.NoError(t, err)
	defer r.Close()

	for _, p := range [][]byte{nil, {}} {
		n, err := r.Write(p)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	buf := make([]byte, 64)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 64), buf)

	qkey := rand.Intn(1 << 30)
	qw, err := OpenMessageQueue(qkey, api.ReadWrite, true)
	skipUnavailable(t, err)
	require.NoError(t, err)
	defer qw.Close()
	qr, err := OpenMessageQueue(qkey, api.ReadOnly, false)
	require.NoError(t, err)
	defer qr.Close()

	for _, p := range [][]byte{nil, {}} {
		n, err := qr.Write(p)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	avail, err := qr.DataAvailable()
	require.NoError(t, err)
	assert.Zero(t, avail)
}

func TestSharedMemory_OffsetAndOverflow(t *testing.T) {
	key := shmKey()
	w, err := CreateSharedMemory(key, 64, 60)
	skipUnavailable(t, err)
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("abcdef"))
	assert.ErrorIs(t, err, api.ErrTruncated)
	assert.Equal(t, 4, n)

	r, err := AttachSharedMemory(key, 64, 58, api.ReadWrite)
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, 16)
	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte{0, 0, 'a', 'b', 'c', 'd'}, buf[:n])

	n, err = w.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSharedMemory_Errors(t *testing.T) {
	_, err := CreateSharedMemory(shmKey(), 0, 0)
	assert.ErrorIs(t, err, api.ErrInvalidAddress)
	_, err = CreateSharedMemory(shmKey(), 16, 16)
	assert.ErrorIs(t, err, api.ErrInvalidAddress)

	key := shmKey()
	w, err := CreateSharedMemory(key, 16, 0)
	skipUnavailable(t, err)
	require.NoError(t, err)
	defer w.Close()

	_, err = CreateSharedMemory(key, 16, 0)
	assert.Error(t, err, "exclusive create must fail on an existing key")

	_, err = AttachSharedMemory(key, 4096, 0, api.ReadOnly)
	assert.Error(t, err)
}

func TestSharedMemory_CloseIsIdempotent(t *testing.T) {
	key := shmKey()
	w, err := CreateSharedMemory(key, 16, 0)
	skipUnavailable(t, err)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, api.StateClosed, w.State())
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, api.ErrClosed)
	_, err = w.ReadByte()
	assert.ErrorIs(t, err, api.ErrClosed)

	_, err = AttachSharedMemory(key, 16, 0, api.ReadOnly)
	assert.Error(t, err, "creator close removes the segment")
}

func TestMessageQueue_RoundTrip(t *testing.T) {
	key := rand.Intn(1 << 30)
	w, err := OpenMessageQueue(key, api.ReadWrite, true)
	skipUnavailable(t, err)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, DefaultMessageSize, w.MessageSize())

	r, err := OpenMessageQueue(key, api.ReadOnly, false)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Write([]byte("x"))
	assert.ErrorIs(t, err, api.ErrPermissionDenied)

	_, err = w.Write([]byte("first"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second"))
	require.NoError(t, err)

	avail, err := r.DataAvailable()
	require.NoError(t, err)
	assert.Equal(t, 2, avail)

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('f'), b)
	avail, err = r.DataAvailable()
	require.NoError(t, err)
	assert.Equal(t, 2, avail, "partly consumed message still counts")

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "irst", string(buf[:n]))

	n, err = r.Read(buf[:3])
	assert.ErrorIs(t, err, api.ErrTruncated)
	assert.Equal(t, "sec", string(buf[:n]))
}

func TestMessageQueue_Limits(t *testing.T) {
	key := rand.Intn(1 << 30)
	w, err := OpenMessageQueue(key, api.ReadWrite, true)
	skipUnavailable(t, err)
	require.NoError(t, err)

	_, err = w.Write(make([]byte, w.MessageSize()+1))
	assert.ErrorIs(t, err, api.ErrResourceExhausted)
	n, err := w.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	fd, ok := w.Descriptor()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, fd, 0)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.Read(make([]byte, 1))
	assert.ErrorIs(t, err, api.ErrClosed)

	_, err = OpenMessageQueue(key, api.ReadOnly, false)
	assert.ErrorIs(t, err, api.ErrConnection, "creator close unlinks the queue")
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "hioload-mux.42", QueueName(42))
}
