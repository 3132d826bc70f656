// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Endpoint contracts shared by channels and IPC endpoints. The registry only
// depends on Endpoint; Channel and IPC add the variant-specific operations.

package api

// Endpoint is the narrow capability every registered handle exposes.
type Endpoint interface {
	// Kind reports the transport variant.
	Kind() Kind

	// State reports the lifecycle state; Closed is terminal.
	State() State

	// Read reads into a preallocated buffer. A zero-length buffer is a no-op.
	Read(p []byte) (n int, err error)

	// Write writes buffer contents. A zero-length buffer is a no-op.
	Write(p []byte) (n int, err error)

	// ReadByte consumes exactly one byte.
	ReadByte() (byte, error)

	// Close releases the descriptor exactly once; repeated calls return nil.
	Close() error

	// Descriptor returns the OS-level descriptor used for readiness polling.
	// ok is false when the endpoint has no pollable descriptor and is
	// treated as always ready.
	Descriptor() (fd int, ok bool)
}

// Channel is a transport-level endpoint (TCP, UDP, raw, serial).
type Channel interface {
	Endpoint

	// Mode reports whether the channel is a client, server or accepted one.
	Mode() Mode

	// Connect establishes (or pins) the remote peer.
	Connect() error

	// Disconnect is Close under its transport name.
	Disconnect() error

	// Accept takes one pending connection from a listening channel.
	Accept() (Channel, error)
}

// IPC is a local endpoint (shared memory, message queue).
type IPC interface {
	Endpoint

	// Rights reports whether the endpoint may write.
	Rights() Rights

	// DataAvailable reports pending units: bytes from the offset for shared
	// memory, queued messages for a message queue.
	DataAvailable() (int, error)
}
