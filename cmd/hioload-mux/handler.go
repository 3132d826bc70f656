// File: cmd/hioload-mux/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"log/slog"

	"github.com/momentics/hioload-mux/dispatch"
	"github.com/momentics/hioload-mux/registry"
)

// echoHandler writes channel input back to its sender. IPC input is only
// logged: echoing into a queue would read back its own messages.
type echoHandler struct {
	names  *names
	logger *slog.Logger
}

func (e *echoHandler) OnAccept(_ *dispatch.Loop, listener, conn registry.Handle) {
	name := e.names.get(listener)
	e.names.set(conn, name+"/"+conn.String())
	e.logger.Info("connection accepted", "listener", name, "handle", uint32(conn))
}

func (e *echoHandler) OnData(l *dispatch.Loop, h registry.Handle, data []byte) {
	e.logger.Debug("data", "endpoint", e.names.get(h), "bytes", len(data))
	if !isChannel(l.Registry(), h) {
		return
	}
	if err := l.Send(h, data); err != nil {
		e.logger.Warn("echo failed", "endpoint", e.names.get(h), "error", err)
	}
}

func (e *echoHandler) OnClose(_ *dispatch.Loop, h registry.Handle, err error) {
	if err != nil {
		e.logger.Info("endpoint closed", "endpoint", e.names.get(h), "error", err)
	} else {
		e.logger.Debug("endpoint closed", "endpoint", e.names.get(h))
	}
	e.names.forget(h)
}
