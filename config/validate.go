// File: config/validate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/momentics/hioload-mux/api"
)

// Validate checks the configuration. All endpoint problems are reported
// together.
func (c Config) Validate() error {
	var errs []error
	if c.Poll.Timeout < 0 {
		errs = append(errs, fmt.Errorf("poll.timeout must be >= 0"))
	}
	if c.Poll.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("poll.buffer_size must be > 0"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: text, json"))
	}
	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		label := ep.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if ep.Name != "" {
			if seen[ep.Name] {
				errs = append(errs, fmt.Errorf("endpoint %s: duplicate name", label))
			}
			seen[ep.Name] = true
		}
		if err := ep.validate(); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", label, err))
		}
	}
	return errors.Join(errs...)
}

func (e EndpointConfig) validate() error {
	kind, err := api.ParseKind(e.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case api.KindSerial:
		if e.Device == "" {
			return fmt.Errorf("serial endpoint needs device")
		}
	case api.KindTCP, api.KindUDP, api.KindRaw:
		mode, err := parseMode(e.Mode)
		if err != nil {
			return err
		}
		if mode == api.ModeServer && e.Local == "" {
			return fmt.Errorf("%s server needs local", kind)
		}
		if mode == api.ModeClient && e.Remote == "" {
			return fmt.Errorf("%s client needs remote", kind)
		}
	case api.KindSharedMemory:
		if e.Size <= 0 {
			return fmt.Errorf("shm endpoint needs size > 0")
		}
		if e.Offset < 0 || e.Offset >= e.Size {
			return fmt.Errorf("shm offset %d outside size %d", e.Offset, e.Size)
		}
	}
	if kind.IsIPC() {
		if _, err := api.ParseRights(e.Rights); err != nil {
			return err
		}
	}
	return nil
}

func parseMode(s string) (api.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "client":
		return api.ModeClient, nil
	case "server":
		return api.ModeServer, nil
	}
	return api.ModeClient, fmt.Errorf("unknown mode %q", s)
}
