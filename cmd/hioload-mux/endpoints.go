// File: cmd/hioload-mux/endpoints.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/config"
	"github.com/momentics/hioload-mux/registry"
)

// openEndpoints creates every configured endpoint. The first failure aborts
// startup; endpoints already created stay with the registry, which the
// caller closes.
func openEndpoints(reg *registry.Registry, eps []config.EndpointConfig, logger *slog.Logger) (*names, error) {
	n := &names{byHandle: make(map[registry.Handle]string, len(eps))}
	for i, ep := range eps {
		name := ep.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", ep.Kind, i)
		}
		kind, err := ep.ParsedKind()
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", name, err)
		}
		var h registry.Handle
		if kind.IsIPC() {
			spec, err := ep.IPCSpec()
			if err != nil {
				return nil, fmt.Errorf("endpoint %s: %w", name, err)
			}
			h, err = reg.CreateIPC(spec)
			if err != nil {
				return nil, fmt.Errorf("endpoint %s: %w", name, err)
			}
		} else {
			spec, err := ep.ChannelSpec()
			if err != nil {
				return nil, fmt.Errorf("endpoint %s: %w", name, err)
			}
			h, err = reg.CreateChannel(spec)
			if err != nil {
				return nil, fmt.Errorf("endpoint %s: %w", name, err)
			}
		}
		n.set(h, name)
		logger.Info("endpoint opened", "name", name, "kind", kind.String(), "handle", uint32(h))
	}
	return n, nil
}

// names maps handles to configured endpoint names for logging.
type names struct {
	mu       sync.Mutex
	byHandle map[registry.Handle]string
}

func (n *names) set(h registry.Handle, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byHandle[h] = name
}

func (n *names) get(h registry.Handle) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if name, ok := n.byHandle[h]; ok {
		return name
	}
	return h.String()
}

func (n *names) forget(h registry.Handle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.byHandle, h)
}

// isChannel reports whether the endpoint behind h is a channel.
func isChannel(reg *registry.Registry, h registry.Handle) bool {
	ep, err := reg.Get(h)
	if err != nil {
		return false
	}
	_, ok := ep.(api.Channel)
	return ok
}
