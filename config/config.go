// Package config
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// YAML configuration for the multiplexer daemon: logging, poll cycle,
// metrics listener and the endpoints to create at startup.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the document is decoded.
const (
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultPollTimeout = 500 * time.Millisecond
	DefaultBufferSize  = 4096
)

// Config is the daemon configuration.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Poll      PollConfig       `yaml:"poll"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PollConfig tunes the dispatch loop.
type PollConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	BufferSize int           `yaml:"buffer_size"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// EndpointConfig describes one channel or IPC endpoint. Which fields apply
// depends on Kind.
type EndpointConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// Channels.
	Mode     string `yaml:"mode"`
	Local    string `yaml:"local"`
	Remote   string `yaml:"remote"`
	Backlog  int    `yaml:"backlog"`
	Protocol int    `yaml:"protocol"`
	Connect  bool   `yaml:"connect"`

	// Serial.
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// IPC.
	Key    int    `yaml:"key"`
	Size   int    `yaml:"size"`
	Offset int    `yaml:"offset"`
	Rights string `yaml:"rights"`
	Create bool   `yaml:"create"`
}

// Default returns a configuration with no endpoints.
func Default() Config {
	return Config{
		Log:  LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Poll: PollConfig{Timeout: DefaultPollTimeout, BufferSize: DefaultBufferSize},
	}
}

// Parse decodes a YAML document over the defaults and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}
