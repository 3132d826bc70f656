// File: config/endpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"github.com/momentics/hioload-mux/address"
	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/registry"
)

// ParsedKind returns the endpoint kind.
func (e EndpointConfig) ParsedKind() (api.Kind, error) {
	return api.ParseKind(e.Kind)
}

// ChannelSpec converts a channel entry into a registry request. Address
// strings are resolved here.
func (e EndpointConfig) ChannelSpec() (registry.ChannelSpec, error) {
	kind, err := api.ParseKind(e.Kind)
	if err != nil {
		return registry.ChannelSpec{}, err
	}
	if !kind.IsChannel() {
		return registry.ChannelSpec{}, api.NewError(api.ErrCodeNotSupported, "config.ChannelSpec", kind.String()+" is not a channel")
	}
	spec := registry.ChannelSpec{
		Kind:     kind,
		Backlog:  e.Backlog,
		Protocol: e.Protocol,
		Device:   e.Device,
		Baud:     e.Baud,
		Connect:  e.Connect,
	}
	if kind == api.KindSerial {
		return spec, nil
	}
	if spec.Mode, err = parseMode(e.Mode); err != nil {
		return registry.ChannelSpec{}, err
	}
	if e.Local != "" {
		if spec.Local, err = address.Parse(e.Local); err != nil {
			return registry.ChannelSpec{}, err
		}
	}
	if e.Remote != "" {
		if spec.Remote, err = address.Parse(e.Remote); err != nil {
			return registry.ChannelSpec{}, err
		}
	}
	return spec, nil
}

// IPCSpec converts an IPC entry into a registry request.
func (e EndpointConfig) IPCSpec() (registry.IPCSpec, error) {
	kind, err := api.ParseKind(e.Kind)
	if err != nil {
		return registry.IPCSpec{}, err
	}
	if !kind.IsIPC() {
		return registry.IPCSpec{}, api.NewError(api.ErrCodeNotSupported, "config.IPCSpec", kind.String()+" is not an IPC endpoint")
	}
	rights, err := api.ParseRights(e.Rights)
	if err != nil {
		return registry.IPCSpec{}, err
	}
	return registry.IPCSpec{
		Kind:   kind,
		Rights: rights,
		Key:    e.Key,
		Size:   e.Size,
		Offset: e.Offset,
		Create: e.Create,
	}, nil
}
