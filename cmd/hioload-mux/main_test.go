//go:build linux
// +build linux

// File: cmd/hioload-mux/main_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"testing"

	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/config"
	"github.com/momentics/hioload-mux/control"
	"github.com/momentics/hioload-mux/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenEndpoints(t *testing.T) {
	reg, err := registry.New()
	require.NoError(t, err)
	defer reg.Close()

	cfg, err := config.Parse([]byte(`
endpoints:
  - {name: echo, kind: tcp, mode: server, local: "127.0.0.1:0"}
  - {kind: udp, mode: server, local: "127.0.0.1:0"}
`))
	require.NoError(t, err)

	n, err := openEndpoints(reg, cfg.Endpoints, control.Discard())
	require.NoError(t, err)
	hs := reg.Handles()
	require.Len(t, hs, 2)
	assert.Equal(t, "echo", n.get(hs[0]))
	assert.Equal(t, "udp-1", n.get(hs[1]))
	assert.True(t, isChannel(reg, hs[0]))

	st, err := reg.State(hs[0])
	require.NoError(t, err)
	assert.Equal(t, api.StateListening, st)
}

func TestOpenEndpoints_FailureStops(t *testing.T) {
	reg, err := registry.New()
	require.NoError(t, err)
	defer reg.Close()

	eps := []config.EndpointConfig{
		{Name: "ok", Kind: "udp", Mode: "server", Local: "127.0.0.1:0"},
		{Name: "tty", Kind: "serial", Device: "/nonexistent/tty"},
	}
	_, err = openEndpoints(reg, eps, control.Discard())
	assert.ErrorIs(t, err, api.ErrCreationFailed)
	assert.Contains(t, err.Error(), "endpoint tty")
}

func TestRun_BadFlags(t *testing.T) {
	assert.Error(t, run([]string{"-no-such-flag"}))
	assert.Error(t, run([]string{"-config", "/nonexistent/mux.yaml"}))
	assert.Error(t, run([]string{"-log-level", "loud"}))
}
