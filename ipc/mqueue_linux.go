//go:build linux
// +build linux

// File: ipc/mqueue_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// POSIX message queue endpoint. Linux exposes queue descriptors as
// pollable file descriptors, so the registry multiplexes them like sockets.

package ipc

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/momentics/hioload-mux/api"
	"golang.org/x/sys/unix"
)

// Queue geometry used when creating a queue. Both match the kernel defaults
// (fs.mqueue.msg_default / msgsize_default) so unprivileged creation works.
const (
	DefaultMaxMessages = 10
	DefaultMessageSize = 8192
)

// mqAttr mirrors struct mq_attr; C long is Go int on Linux.
type mqAttr struct {
	Flags   int
	Maxmsg  int
	Msgsize int
	Curmsgs int
	_       [4]int
}

// QueueName returns the kernel name used for key. The mq_open syscall takes
// the name without the leading slash the libc wrapper strips.
func QueueName(key int) string {
	return fmt.Sprintf("hioload-mux.%d", key)
}

// MessageQueue is a POSIX message queue endpoint.
type MessageQueue struct {
	key     int
	name    string
	rights  api.Rights
	creator bool
	msgsize int

	mu      sync.Mutex
	fd      int
	closed  bool
	pending []byte
}

var _ api.IPC = (*MessageQueue)(nil)

// OpenMessageQueue opens the queue for key. With create set the queue is
// created (and unlinked again on Close); otherwise it must already exist.
func OpenMessageQueue(key int, rights api.Rights, create bool) (*MessageQueue, error) {
	name := QueueName(key)
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return nil, api.Wrap(api.ErrCodeInvalidAddress, "ipc.OpenMessageQueue", err)
	}
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if rights == api.ReadOnly {
		flags = unix.O_RDONLY | unix.O_CLOEXEC
	}
	var attr *mqAttr
	if create {
		flags |= unix.O_CREAT | unix.O_EXCL
		attr = &mqAttr{Maxmsg: DefaultMaxMessages, Msgsize: DefaultMessageSize}
	}
	r0, _, errno := unix.Syscall6(unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(p)), uintptr(flags), 0o600, uintptr(unsafe.Pointer(attr)), 0, 0)
	if errno != 0 {
		return nil, api.FromErrno("ipc.OpenMessageQueue", errno, api.ErrCodeConnection).WithContext("key", key)
	}
	mq := &MessageQueue{key: key, name: name, rights: rights, creator: create, fd: int(r0)}
	cur, err := mq.getattr()
	if err != nil {
		mq.Close()
		return nil, err
	}
	mq.msgsize = cur.Msgsize
	return mq, nil
}

func (m *MessageQueue) getattr() (mqAttr, error) {
	var attr mqAttr
	_, _, errno := unix.Syscall(unix.SYS_MQ_GETSETATTR, uintptr(m.fd), 0, uintptr(unsafe.Pointer(&attr)))
	if errno != 0 {
		return attr, api.FromErrno("ipc.getattr", errno, api.ErrCodeConnection)
	}
	return attr, nil
}

// Kind implements api.Endpoint.
func (m *MessageQueue) Kind() api.Kind { return api.KindMessageQueue }

// Rights implements api.IPC.
func (m *MessageQueue) Rights() api.Rights { return m.rights }

// Key returns the queue key.
func (m *MessageQueue) Key() int { return m.key }

// MessageSize returns the maximum message size of the queue.
func (m *MessageQueue) MessageSize() int { return m.msgsize }

// State is Connected until Close.
func (m *MessageQueue) State() api.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return api.StateClosed
	}
	return api.StateConnected
}

// Descriptor returns the queue descriptor; it is pollable for POLLIN.
func (m *MessageQueue) Descriptor() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return -1, false
	}
	return m.fd, true
}

// Write enqueues p as one message.
func (m *MessageQueue) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, api.NewError(api.ErrCodeClosed, "ipc.Write", "mqueue")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if m.rights == api.ReadOnly {
		return 0, api.NewError(api.ErrCodePermissionDenied, "ipc.Write", "read-only queue").WithContext("key", m.key)
	}
	if len(p) > m.msgsize {
		return 0, api.NewError(api.ErrCodeResourceExhausted, "ipc.Write", "message exceeds queue message size").
			WithContext("len", len(p)).WithContext("max", m.msgsize)
	}
	for {
		_, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDSEND,
			uintptr(m.fd), uintptr(unsafe.Pointer(&p[0])), uintptr(len(p)), 0, 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return 0, api.FromErrno("ipc.Write", errno, api.ErrCodeConnection)
		}
		return len(p), nil
	}
}

// receive dequeues one whole message.
func (m *MessageQueue) receive() ([]byte, error) {
	buf := make([]byte, m.msgsize)
	for {
		r0, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDRECEIVE,
			uintptr(m.fd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0, 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return nil, api.FromErrno("ipc.Read", errno, api.ErrCodeConnection)
		}
		return buf[:int(r0)], nil
	}
}

// Read dequeues one message into p, up to len(p) bytes. A longer message is
// cut and reported with api.ErrTruncated. Bytes left over from ReadByte are
// delivered first. Read blocks while the queue is empty.
func (m *MessageQueue) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, api.NewError(api.ErrCodeClosed, "ipc.Read", "mqueue")
	}
	if len(p) == 0 {
		return 0, nil
	}
	msg := m.pending
	m.pending = nil
	if msg == nil {
		var err error
		if msg, err = m.receive(); err != nil {
			return 0, err
		}
	}
	n := copy(p, msg)
	if n < len(msg) {
		return n, api.NewError(api.ErrCodeTruncated, "ipc.Read", "message exceeds buffer").
			WithContext("len", len(p)).WithContext("message", len(msg))
	}
	return n, nil
}

// ReadByte returns the next byte, dequeuing a message when none is pending.
// The remainder of that message is kept for the following reads.
func (m *MessageQueue) ReadByte() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, api.NewError(api.ErrCodeClosed, "ipc.ReadByte", "mqueue")
	}
	for len(m.pending) == 0 {
		msg, err := m.receive()
		if err != nil {
			return 0, err
		}
		m.pending = msg
	}
	b := m.pending[0]
	m.pending = m.pending[1:]
	if len(m.pending) == 0 {
		m.pending = nil
	}
	return b, nil
}

// DataAvailable reports the number of queued messages, counting a partly
// consumed one.
func (m *MessageQueue) DataAvailable() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, api.NewError(api.ErrCodeClosed, "ipc.DataAvailable", "mqueue")
	}
	attr, err := m.getattr()
	if err != nil {
		return 0, err
	}
	n := attr.Curmsgs
	if len(m.pending) > 0 {
		n++
	}
	return n, nil
}

// Close releases the descriptor; the creator also unlinks the queue.
func (m *MessageQueue) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.pending = nil
	err := unix.Close(m.fd)
	if m.creator {
		if uerr := unlinkQueue(m.name); uerr != nil && err == nil {
			err = uerr
		}
	}
	if err != nil {
		return api.Wrap(api.ErrCodeConnection, "ipc.Close", err)
	}
	return nil
}

func unlinkQueue(name string) error {
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	if _, _, errno := unix.Syscall(unix.SYS_MQ_UNLINK, uintptr(unsafe.Pointer(p)), 0, 0); errno != 0 {
		return errno
	}
	return nil
}
