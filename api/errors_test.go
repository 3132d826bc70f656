// File: api/errors_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := NewError(ErrCodeTruncated, "channel.Read", "datagram exceeds buffer").WithContext("len", 4)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.NotErrorIs(t, err, ErrClosed)

	wrapped := fmt.Errorf("outer: %w", err)
	assert.ErrorIs(t, wrapped, ErrTruncated)
	assert.Equal(t, ErrCodeTruncated, CodeOf(wrapped))
	assert.Equal(t, ErrCodeOK, CodeOf(io.EOF))
}

func TestError_Message(t *testing.T) {
	err := Wrap(ErrCodeConnection, "socket.Connect", unix.ECONNREFUSED)
	assert.Equal(t, "socket.Connect: connection error: "+unix.ECONNREFUSED.Error(), err.Error())
	assert.ErrorIs(t, err, unix.ECONNREFUSED)

	bare := &Error{Code: ErrCodeUnknownHandle}
	assert.Equal(t, "unknown handle", bare.Error())
	assert.Contains(t, NewError(ErrCodePoll, "op", "m").WithContext("fd", 3).Error(), "fd:3")
}

func TestError_CreationFailedKeepsCause(t *testing.T) {
	cause := NewError(ErrCodeInvalidAddress, "address.New", "bad host")
	err := Wrap(ErrCodeCreationFailed, "registry.CreateChannel", cause)
	assert.ErrorIs(t, err, ErrCreationFailed)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, ErrCodeCreationFailed, CodeOf(err))
}

func TestFromErrno(t *testing.T) {
	cases := map[unix.Errno]*Error{
		unix.EMFILE:          ErrResourceExhausted,
		unix.ENOBUFS:         ErrResourceExhausted,
		unix.EAFNOSUPPORT:    ErrUnsupportedFamily,
		unix.EPROTONOSUPPORT: ErrUnsupportedFamily,
		unix.EACCES:          ErrPermissionDenied,
		unix.EPERM:           ErrPermissionDenied,
		unix.EBADF:           ErrClosed,
		unix.ECONNRESET:      ErrConnection,
	}
	for errno, want := range cases {
		got := FromErrno("op", errno, ErrCodeConnection)
		assert.ErrorIs(t, got, want, errno.Error())
		assert.ErrorIs(t, got, errno)
	}
	orig := NewError(ErrCodeTruncated, "x", "y")
	assert.Same(t, orig, FromErrno("op", fmt.Errorf("ctx: %w", orig), ErrCodeConnection))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewError(ErrCodePoll, "", "")))
	assert.True(t, IsFatal(NewError(ErrCodeClosed, "", "")))
	assert.True(t, IsFatal(NewError(ErrCodePollInProgress, "", "")))
	assert.False(t, IsFatal(NewError(ErrCodeTruncated, "", "")))
	assert.False(t, IsFatal(NewError(ErrCodeConnection, "", "")))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestKindAndRightsParsing(t *testing.T) {
	for _, k := range []Kind{KindTCP, KindUDP, KindRaw, KindSerial, KindSharedMemory, KindMessageQueue} {
		got, err := ParseKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("sctp")
	assert.Error(t, err)
	assert.True(t, KindSerial.IsChannel())
	assert.True(t, KindMessageQueue.IsIPC())
	assert.False(t, KindUnknown.IsChannel())

	r, err := ParseRights("")
	assert.NoError(t, err)
	assert.Equal(t, ReadWrite, r)
	r, err = ParseRights("ro")
	assert.NoError(t, err)
	assert.Equal(t, ReadOnly, r)
	assert.Equal(t, "read|write", (EventRead | EventWrite).String())
}
