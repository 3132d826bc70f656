// Package socket
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thin fallible wrapper over OS sockets for stream, datagram and raw kinds.
// A Socket exclusively owns its descriptor; Close releases it exactly once and
// every later call fails with api.ErrClosed.

package socket

// Kind is the socket type.
type Kind int

const (
	Stream Kind = iota
	Datagram
	Raw
)

func (k Kind) String() string {
	switch k {
	case Stream:
		return "stream"
	case Datagram:
		return "datagram"
	case Raw:
		return "raw"
	default:
		return "unknown"
	}
}

// DefaultBacklog is used by Listen when backlog <= 0.
const DefaultBacklog = 128

// DefaultRawProtocol is the IP protocol number used by raw sockets when none
// is given (253, reserved for experimentation by RFC 3692).
const DefaultRawProtocol = 253

// Options tune socket creation.
type Options struct {
	// Protocol overrides the IP protocol; only meaningful for Raw.
	Protocol int
}
