// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named debug probes sampled on demand, e.g. when the daemon shuts down.

package control

import (
	"log/slog"
	"sort"
	"sync"
)

type probe struct {
	name   string
	sample func() any
}

// DebugProbes is a name-ordered set of state samplers. It logs as a group
// with one attribute per probe, sampled at the time the record is handled.
type DebugProbes struct {
	mu     sync.RWMutex
	probes []probe
}

var _ slog.LogValuer = (*DebugProbes)(nil)

// NewDebugProbes returns an empty probe set.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{}
}

// Register adds a probe, replacing one of the same name.
func (dp *DebugProbes) Register(name string, sample func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	i := sort.Search(len(dp.probes), func(i int) bool { return dp.probes[i].name >= name })
	if i < len(dp.probes) && dp.probes[i].name == name {
		dp.probes[i].sample = sample
		return
	}
	dp.probes = append(dp.probes, probe{})
	copy(dp.probes[i+1:], dp.probes[i:])
	dp.probes[i] = probe{name: name, sample: sample}
}

// Sample runs every probe and returns the results keyed by name.
func (dp *DebugProbes) Sample() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any, len(dp.probes))
	for _, p := range dp.probes {
		out[p.name] = p.sample()
	}
	return out
}

// LogValue implements slog.LogValuer.
func (dp *DebugProbes) LogValue() slog.Value {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	attrs := make([]slog.Attr, len(dp.probes))
	for i, p := range dp.probes {
		attrs[i] = slog.Any(p.name, p.sample())
	}
	return slog.GroupValue(attrs...)
}
