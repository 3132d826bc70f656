// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import (
	"fmt"
	"strings"
)

// Kind identifies the transport variant behind an endpoint.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindUDP
	KindRaw
	KindSerial
	KindSharedMemory
	KindMessageQueue
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindRaw:
		return "raw"
	case KindSerial:
		return "serial"
	case KindSharedMemory:
		return "shm"
	case KindMessageQueue:
		return "mqueue"
	default:
		return "unknown"
	}
}

// IsChannel reports whether k is a transport-level channel kind.
func (k Kind) IsChannel() bool {
	return k >= KindTCP && k <= KindSerial
}

// IsIPC reports whether k is a local IPC kind.
func (k Kind) IsIPC() bool {
	return k == KindSharedMemory || k == KindMessageQueue
}

// ParseKind accepts the names produced by Kind.String plus a few aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return KindTCP, nil
	case "udp":
		return KindUDP, nil
	case "raw":
		return KindRaw, nil
	case "serial", "tty":
		return KindSerial, nil
	case "shm", "sharedmemory", "shared-memory":
		return KindSharedMemory, nil
	case "mqueue", "mq", "messagequeue", "message-queue":
		return KindMessageQueue, nil
	}
	return KindUnknown, fmt.Errorf("unknown endpoint kind %q", s)
}

// Rights restricts what an IPC endpoint may do with its backing resource.
type Rights int

const (
	ReadWrite Rights = iota
	ReadOnly
)

func (r Rights) String() string {
	if r == ReadOnly {
		return "ro"
	}
	return "rw"
}

// ParseRights accepts "ro"/"read-only" and "rw"/"read-write"; empty means rw.
func ParseRights(s string) (Rights, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rw", "read-write", "readwrite":
		return ReadWrite, nil
	case "ro", "read-only", "readonly":
		return ReadOnly, nil
	}
	return ReadWrite, fmt.Errorf("unknown rights %q", s)
}

// Mode describes how a channel came into existence.
type Mode int

const (
	ModeClient Mode = iota
	ModeServer
	ModeAccepted
)

func (m Mode) String() string {
	switch m {
	case ModeServer:
		return "server"
	case ModeAccepted:
		return "accepted"
	default:
		return "client"
	}
}

// State is the lifecycle position of an endpoint handle:
// Created -> Registered -> (Connected|Listening|Accepted) -> Closed.
type State int

const (
	StateCreated State = iota
	StateRegistered
	StateConnected
	StateListening
	StateAccepted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRegistered:
		return "registered"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateAccepted:
		return "accepted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Events is a readiness mask.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
)

func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e&EventRead != 0 {
		parts = append(parts, "read")
	}
	if e&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if e&EventError != 0 {
		parts = append(parts, "error")
	}
	return strings.Join(parts, "|")
}
