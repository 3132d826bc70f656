//go:build linux
// +build linux

// Package ipc
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Local IPC endpoints: System V shared memory segments and POSIX message
// queues, both keyed by an integer.

package ipc

import (
	"sync"

	"github.com/momentics/hioload-mux/api"
	"golang.org/x/sys/unix"
)

// SharedMemory is a mapped System V segment accessed at a fixed offset. It
// has no readiness notification and is always ready.
//
// A non-creator attachment may outlive the creator's Close; the kernel keeps
// the segment until the last detach, and nothing coordinates that.
type SharedMemory struct {
	key     int
	id      int
	size    int
	offset  int
	rights  api.Rights
	creator bool

	mu     sync.Mutex
	mem    []byte
	closed bool
}

var _ api.IPC = (*SharedMemory)(nil)

// CreateSharedMemory allocates and maps a new zero-initialized segment of
// size bytes under key. The creator is read-write and may destroy the segment.
func CreateSharedMemory(key, size, offset int) (*SharedMemory, error) {
	if err := checkRegion("ipc.CreateSharedMemory", size, offset); err != nil {
		return nil, err
	}
	id, err := unix.SysvShmGet(key, size, unix.IPC_CREAT|unix.IPC_EXCL|0o600)
	if err != nil {
		return nil, api.FromErrno("ipc.CreateSharedMemory", err, api.ErrCodeConnection).WithContext("key", key)
	}
	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return nil, api.FromErrno("ipc.CreateSharedMemory", err, api.ErrCodeConnection).WithContext("key", key)
	}
	return &SharedMemory{
		key: key, id: id, size: size, offset: offset,
		rights: api.ReadWrite, creator: true, mem: mem,
	}, nil
}

// AttachSharedMemory maps an existing segment. Read-only rights map it
// SHM_RDONLY and make Write fail with api.ErrPermissionDenied.
func AttachSharedMemory(key, size, offset int, rights api.Rights) (*SharedMemory, error) {
	if err := checkRegion("ipc.AttachSharedMemory", size, offset); err != nil {
		return nil, err
	}
	id, err := unix.SysvShmGet(key, size, 0)
	if err != nil {
		return nil, api.FromErrno("ipc.AttachSharedMemory", err, api.ErrCodeConnection).WithContext("key", key)
	}
	flags := 0
	if rights == api.ReadOnly {
		flags = unix.SHM_RDONLY
	}
	mem, err := unix.SysvShmAttach(id, 0, flags)
	if err != nil {
		return nil, api.FromErrno("ipc.AttachSharedMemory", err, api.ErrCodeConnection).WithContext("key", key)
	}
	if len(mem) < size {
		_ = unix.SysvShmDetach(mem)
		return nil, api.NewError(api.ErrCodeConnection, "ipc.AttachSharedMemory", "segment smaller than requested").
			WithContext("key", key).WithContext("size", len(mem))
	}
	return &SharedMemory{
		key: key, id: id, size: size, offset: offset,
		rights: rights, mem: mem[:size],
	}, nil
}

func checkRegion(op string, size, offset int) error {
	if size <= 0 || offset < 0 || offset >= size {
		return api.NewError(api.ErrCodeInvalidAddress, op, "offset outside segment").
			WithContext("size", size).WithContext("offset", offset)
	}
	return nil
}

// Kind implements api.Endpoint.
func (s *SharedMemory) Kind() api.Kind { return api.KindSharedMemory }

// Rights implements api.IPC.
func (s *SharedMemory) Rights() api.Rights { return s.rights }

// Key returns the System V key.
func (s *SharedMemory) Key() int { return s.key }

// Size returns the mapped segment size.
func (s *SharedMemory) Size() int { return s.size }

// Creator reports whether this endpoint allocated the segment.
func (s *SharedMemory) Creator() bool { return s.creator }

// State is Connected until Close.
func (s *SharedMemory) State() api.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.StateClosed
	}
	return api.StateConnected
}

// Descriptor reports no pollable descriptor.
func (s *SharedMemory) Descriptor() (int, bool) { return -1, false }

// Write copies p into the region at the offset. Bytes past the end of the
// segment are not written; that is reported with api.ErrTruncated.
func (s *SharedMemory) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, api.NewError(api.ErrCodeClosed, "ipc.Write", "shm")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if s.rights == api.ReadOnly {
		return 0, api.NewError(api.ErrCodePermissionDenied, "ipc.Write", "read-only attachment").WithContext("key", s.key)
	}
	n := copy(s.mem[s.offset:], p)
	if n < len(p) {
		return n, api.NewError(api.ErrCodeTruncated, "ipc.Write", "write exceeds segment").WithContext("len", len(p))
	}
	return n, nil
}

// Read copies from the region at the offset into p.
func (s *SharedMemory) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, api.NewError(api.ErrCodeClosed, "ipc.Read", "shm")
	}
	return copy(p, s.mem[s.offset:]), nil
}

// ReadByte returns the byte at the offset.
func (s *SharedMemory) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, api.NewError(api.ErrCodeClosed, "ipc.ReadByte", "shm")
	}
	return s.mem[s.offset], nil
}

// DataAvailable reports the bytes between the offset and the segment end.
func (s *SharedMemory) DataAvailable() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, api.NewError(api.ErrCodeClosed, "ipc.DataAvailable", "shm")
	}
	return s.size - s.offset, nil
}

// Close detaches the mapping; the creator also marks the segment for
// destruction. Repeated calls return nil.
func (s *SharedMemory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := unix.SysvShmDetach(s.mem)
	s.mem = nil
	if s.creator {
		if _, rerr := unix.SysvShmCtl(s.id, unix.IPC_RMID, nil); rerr != nil && err == nil {
			err = rerr
		}
	}
	if err != nil {
		return api.Wrap(api.ErrCodeConnection, "ipc.Close", err)
	}
	return nil
}
