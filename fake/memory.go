// File: fake/memory.go
// Author: momentics <momentics@gmail.com>
//
// In-memory endpoint without a descriptor, always ready like shared memory.

package fake

import (
	"sync"

	"github.com/momentics/hioload-mux/api"
)

// Memory is a fixed-size in-memory region behaving like a shared memory
// attachment.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	rights api.Rights
	closed bool
}

var _ api.IPC = (*Memory)(nil)

// NewMemory creates a zeroed region of size bytes.
func NewMemory(size int, rights api.Rights) *Memory {
	return &Memory{data: make([]byte, size), rights: rights}
}

func (m *Memory) Kind() api.Kind          { return api.KindSharedMemory }
func (m *Memory) Rights() api.Rights      { return m.rights }
func (m *Memory) Descriptor() (int, bool) { return -1, false }

func (m *Memory) State() api.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return api.StateClosed
	}
	return api.StateConnected
}

func (m *Memory) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, api.NewError(api.ErrCodeClosed, "fake.Read", "memory")
	}
	return copy(p, m.data), nil
}

func (m *Memory) ReadByte() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, api.NewError(api.ErrCodeClosed, "fake.ReadByte", "memory")
	}
	return m.data[0], nil
}

func (m *Memory) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, api.NewError(api.ErrCodeClosed, "fake.Write", "memory")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if m.rights == api.ReadOnly {
		return 0, api.NewError(api.ErrCodePermissionDenied, "fake.Write", "read-only")
	}
	n := copy(m.data, p)
	if n < len(p) {
		return n, api.NewError(api.ErrCodeTruncated, "fake.Write", "memory")
	}
	return n, nil
}

func (m *Memory) DataAvailable() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, api.NewError(api.ErrCodeClosed, "fake.DataAvailable", "memory")
	}
	return len(m.data), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
