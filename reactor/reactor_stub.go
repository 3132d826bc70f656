//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/hioload-mux/api"

// NewReactor returns an error for unsupported platforms.
func NewReactor() (EventReactor, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "reactor.NewReactor", "this platform is not supported")
}
