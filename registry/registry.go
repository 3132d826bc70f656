// Package registry
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Endpoint registry and readiness multiplexer. Every channel and IPC
// endpoint is owned by exactly one Registry and addressed by an opaque
// Handle; Poll reports which handles can make progress without blocking.

package registry

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/control"
	"github.com/momentics/hioload-mux/reactor"
)

// Handle identifies an endpoint inside one Registry. Handles are assigned in
// increasing order starting at 1 and are never reused.
type Handle uint32

// InvalidHandle is never assigned.
const InvalidHandle Handle = 0

func (h Handle) String() string { return fmt.Sprintf("h%d", uint32(h)) }

// Readiness is one entry of a poll result.
type Readiness struct {
	Handle Handle
	Events api.Events
}

type entry struct {
	ep       api.Endpoint
	fd       int
	pollable bool
	interest api.Events
	// stale is set once the endpoint was closed behind the registry's back;
	// its descriptor number no longer belongs to it.
	stale bool
}

// closedOutside reports whether the pollable endpoint of e was closed
// without Remove and, if so, drops its descriptor from the tables. Must
// hold r.mu.
func (r *Registry) closedOutside(h Handle, e *entry) bool {
	if e.stale {
		return true
	}
	if !e.pollable || e.ep.State() != api.StateClosed {
		return false
	}
	e.stale = true
	if r.byFd[e.fd] == h {
		delete(r.byFd, e.fd)
	}
	// The kernel already dropped the closed file from the epoll set; this
	// only clears a registration a reused descriptor number might carry.
	_ = r.reactor.Remove(e.fd)
	r.logger.Warn("endpoint closed outside the registry", "handle", uint32(h), "kind", e.ep.Kind().String())
	return true
}

// Registry owns endpoints and multiplexes their readiness. Poll is meant for
// one polling goroutine; the other methods may be called concurrently but
// Remove and Close refuse to run while a poll is in flight.
type Registry struct {
	id      uuid.UUID
	logger  *slog.Logger
	metrics *control.Metrics
	reactor reactor.EventReactor

	mu      sync.Mutex
	next    Handle
	entries map[Handle]*entry
	byFd    map[int]Handle
	events  []reactor.Event
	polling bool
	closed  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger; the default discards records.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics attaches Prometheus collectors; nil disables them.
func WithMetrics(m *control.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithReactor replaces the OS multiplexer. The registry takes ownership.
func WithReactor(er reactor.EventReactor) Option {
	return func(r *Registry) { r.reactor = er }
}

// New creates an empty registry.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		id:      uuid.New(),
		logger:  control.Discard(),
		entries: make(map[Handle]*entry),
		byFd:    make(map[int]Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.reactor == nil {
		er, err := reactor.NewReactor()
		if err != nil {
			return nil, err
		}
		r.reactor = er
	}
	r.logger = r.logger.With("registry", r.id.String())
	return r, nil
}

// ID returns the registry instance identifier used in logs.
func (r *Registry) ID() uuid.UUID { return r.id }

// CreateChannel constructs a channel and registers it. Nothing is registered
// when construction fails; the cause is wrapped in api.ErrCreationFailed.
func (r *Registry) CreateChannel(spec ChannelSpec) (Handle, error) {
	if !spec.Kind.IsChannel() {
		return InvalidHandle, api.NewError(api.ErrCodeCreationFailed, "registry.CreateChannel", "not a channel kind").
			WithContext("kind", spec.Kind.String())
	}
	ch, err := buildChannel(spec)
	if err != nil {
		r.logger.Debug("channel creation failed", "kind", spec.Kind.String(), "error", err)
		return InvalidHandle, api.Wrap(api.ErrCodeCreationFailed, "registry.CreateChannel", err).
			WithContext("kind", spec.Kind.String())
	}
	h, err := r.Register(ch)
	if err != nil {
		ch.Close()
		return InvalidHandle, api.Wrap(api.ErrCodeCreationFailed, "registry.CreateChannel", err).
			WithContext("kind", spec.Kind.String())
	}
	return h, nil
}

// CreateIPC constructs an IPC endpoint and registers it, with the same
// all-or-nothing behavior as CreateChannel.
func (r *Registry) CreateIPC(spec IPCSpec) (Handle, error) {
	if !spec.Kind.IsIPC() {
		return InvalidHandle, api.NewError(api.ErrCodeCreationFailed, "registry.CreateIPC", "not an IPC kind").
			WithContext("kind", spec.Kind.String())
	}
	ep, err := buildIPC(spec)
	if err != nil {
		r.logger.Debug("ipc creation failed", "kind", spec.Kind.String(), "key", spec.Key, "error", err)
		return InvalidHandle, api.Wrap(api.ErrCodeCreationFailed, "registry.CreateIPC", err).
			WithContext("kind", spec.Kind.String()).WithContext("key", spec.Key)
	}
	h, err := r.Register(ep)
	if err != nil {
		ep.Close()
		return InvalidHandle, api.Wrap(api.ErrCodeCreationFailed, "registry.CreateIPC", err).
			WithContext("kind", spec.Kind.String()).WithContext("key", spec.Key)
	}
	return h, nil
}

// Register hands an already constructed endpoint to the registry. On success
// the registry owns it and closes it on Remove.
func (r *Registry) Register(ep api.Endpoint) (Handle, error) {
	if ep == nil {
		return InvalidHandle, api.NewError(api.ErrCodeNotSupported, "registry.Register", "nil endpoint")
	}
	if ep.State() == api.StateClosed {
		return InvalidHandle, api.NewError(api.ErrCodeClosed, "registry.Register", ep.Kind().String())
	}
	fd, pollable := ep.Descriptor()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return InvalidHandle, api.NewError(api.ErrCodeClosed, "registry.Register", "registry closed")
	}
	if r.next == math.MaxUint32 {
		return InvalidHandle, api.NewError(api.ErrCodeResourceExhausted, "registry.Register", "handle space exhausted")
	}
	if pollable {
		if old, dup := r.byFd[fd]; dup && !r.closedOutside(old, r.entries[old]) {
			return InvalidHandle, api.NewError(api.ErrCodeCreationFailed, "registry.Register", "descriptor already registered").
				WithContext("fd", fd)
		}
		if err := r.reactor.Add(fd, api.EventRead); err != nil {
			return InvalidHandle, err
		}
	}
	r.next++
	h := r.next
	r.entries[h] = &entry{ep: ep, fd: fd, pollable: pollable, interest: api.EventRead}
	if pollable {
		r.byFd[fd] = h
	}
	r.metrics.EndpointCreated(ep.Kind().String())
	r.logger.Debug("endpoint registered", "handle", uint32(h), "kind", ep.Kind().String(), "pollable", pollable)
	return h, nil
}

func (r *Registry) lookup(op string, h Handle) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return nil, unknown(op, h)
	}
	return e, nil
}

func unknown(op string, h Handle) *api.Error {
	return api.NewError(api.ErrCodeUnknownHandle, op, "handle not registered").WithContext("handle", uint32(h))
}

// Get returns the endpoint behind h. The reference stays valid only until h
// is removed; afterwards every operation on it fails with api.ErrClosed.
func (r *Registry) Get(h Handle) (api.Endpoint, error) {
	e, err := r.lookup("registry.Get", h)
	if err != nil {
		return nil, err
	}
	return e.ep, nil
}

// Channel returns the channel behind h.
func (r *Registry) Channel(h Handle) (api.Channel, error) {
	e, err := r.lookup("registry.Channel", h)
	if err != nil {
		return nil, err
	}
	ch, ok := e.ep.(api.Channel)
	if !ok {
		return nil, api.NewError(api.ErrCodeNotSupported, "registry.Channel", e.ep.Kind().String()+" is not a channel")
	}
	return ch, nil
}

// IPC returns the IPC endpoint behind h.
func (r *Registry) IPC(h Handle) (api.IPC, error) {
	e, err := r.lookup("registry.IPC", h)
	if err != nil {
		return nil, err
	}
	ep, ok := e.ep.(api.IPC)
	if !ok {
		return nil, api.NewError(api.ErrCodeNotSupported, "registry.IPC", e.ep.Kind().String()+" is not an IPC endpoint")
	}
	return ep, nil
}

// State reports the lifecycle state of h. An endpoint that has done nothing
// since construction reports Registered.
func (r *Registry) State(h Handle) (api.State, error) {
	e, err := r.lookup("registry.State", h)
	if err != nil {
		return api.StateClosed, err
	}
	st := e.ep.State()
	if st == api.StateCreated {
		st = api.StateRegistered
	}
	return st, nil
}

// Pollable reports whether h has an OS descriptor. Endpoints without one
// are always ready.
func (r *Registry) Pollable(h Handle) (bool, error) {
	e, err := r.lookup("registry.Pollable", h)
	if err != nil {
		return false, err
	}
	return e.pollable, nil
}

// SetInterest changes the events Poll waits for on h. Every handle starts
// with api.EventRead.
func (r *Registry) SetInterest(h Handle, interest api.Events) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return unknown("registry.SetInterest", h)
	}
	if r.closedOutside(h, e) {
		return api.NewError(api.ErrCodeClosed, "registry.SetInterest", e.ep.Kind().String()).WithContext("handle", uint32(h))
	}
	if e.interest == interest {
		return nil
	}
	if e.pollable {
		if err := r.reactor.Modify(e.fd, interest); err != nil {
			return err
		}
	}
	e.interest = interest
	return nil
}

// Accept accepts one pending connection on the server channel h and
// registers it.
func (r *Registry) Accept(h Handle) (Handle, error) {
	ch, err := r.Channel(h)
	if err != nil {
		return InvalidHandle, err
	}
	conn, err := ch.Accept()
	if err != nil {
		return InvalidHandle, err
	}
	nh, err := r.Register(conn)
	if err != nil {
		conn.Close()
		return InvalidHandle, err
	}
	r.logger.Debug("connection accepted", "listener", uint32(h), "handle", uint32(nh))
	return nh, nil
}

// Remove unregisters h and closes its endpoint. It fails with
// api.ErrPollInProgress while a Poll is running and with
// api.ErrUnknownHandle when h is not registered.
func (r *Registry) Remove(h Handle) error {
	r.mu.Lock()
	if r.polling {
		r.mu.Unlock()
		return api.NewError(api.ErrCodePollInProgress, "registry.Remove", "poll in progress").WithContext("handle", uint32(h))
	}
	e, ok := r.entries[h]
	if !ok {
		r.mu.Unlock()
		return unknown("registry.Remove", h)
	}
	r.detach(h, e)
	r.mu.Unlock()

	err := e.ep.Close()
	r.metrics.EndpointRemoved()
	r.logger.Debug("endpoint removed", "handle", uint32(h), "kind", e.ep.Kind().String())
	return err
}

// detach drops h from the tables and the OS interest set. Must hold r.mu.
func (r *Registry) detach(h Handle, e *entry) {
	delete(r.entries, h)
	if e.pollable && !e.stale {
		delete(r.byFd, e.fd)
		// The descriptor leaves the interest set before it is closed.
		_ = r.reactor.Remove(e.fd)
	}
}

// Handles returns the registered handles in ascending order.
func (r *Registry) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		out = append(out, h)
	}
	sortHandles(out)
	return out
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Poll waits up to timeout for registered endpoints to become ready and
// returns the ready handles in ascending order. With no candidates every
// registered handle is considered; otherwise only the listed ones, and an
// unregistered candidate fails with api.ErrUnknownHandle. Endpoints without
// a descriptor are always ready, which turns the wait into a non-blocking
// check. A negative timeout waits until something is ready or Wakeup is
// called.
func (r *Registry) Poll(timeout time.Duration, candidates ...Handle) ([]Handle, error) {
	ready, err := r.PollEvents(timeout, candidates...)
	if err != nil {
		return nil, err
	}
	out := make([]Handle, len(ready))
	for i, rd := range ready {
		out[i] = rd.Handle
	}
	return out, nil
}

// PollEvents is Poll that also reports which events fired per handle.
func (r *Registry) PollEvents(timeout time.Duration, candidates ...Handle) ([]Readiness, error) {
	start := time.Now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, api.NewError(api.ErrCodeClosed, "registry.Poll", "registry closed")
	}
	if r.polling {
		r.mu.Unlock()
		return nil, api.NewError(api.ErrCodePollInProgress, "registry.Poll", "overlapping poll")
	}
	var (
		ready  []Readiness
		reqs   []reactor.PollRequest
		handle []Handle
	)
	if len(candidates) > 0 {
		seen := make(map[Handle]struct{}, len(candidates))
		for _, h := range candidates {
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			e, ok := r.entries[h]
			if !ok {
				r.mu.Unlock()
				return nil, unknown("registry.Poll", h)
			}
			if !e.pollable {
				ready = append(ready, Readiness{Handle: h, Events: alwaysReady(e.interest)})
				continue
			}
			if r.closedOutside(h, e) {
				r.mu.Unlock()
				return nil, api.NewError(api.ErrCodeClosed, "registry.Poll", "endpoint closed without Remove").
					WithContext("handle", uint32(h))
			}
			reqs = append(reqs, reactor.PollRequest{Fd: e.fd, Interest: e.interest})
			handle = append(handle, h)
		}
	} else {
		for h, e := range r.entries {
			if !e.pollable {
				ready = append(ready, Readiness{Handle: h, Events: alwaysReady(e.interest)})
				continue
			}
			r.closedOutside(h, e)
		}
		if n := len(r.byFd); cap(r.events) < n || len(r.events) == 0 {
			r.events = make([]reactor.Event, max(n, 1))
		}
	}
	subset := len(candidates) > 0
	events := r.events[:cap(r.events)]
	r.polling = true
	r.mu.Unlock()

	if len(ready) > 0 {
		timeout = 0
	}

	var err error
	if subset {
		if len(reqs) > 0 || timeout != 0 {
			_, err = r.reactor.PollSet(reqs, timeout)
		}
	} else {
		var n int
		n, err = r.reactor.Wait(events, timeout)
		events = events[:n]
	}

	r.mu.Lock()
	r.polling = false
	if err == nil {
		if subset {
			for i, rq := range reqs {
				if rq.Ready != 0 {
					ready = append(ready, Readiness{Handle: handle[i], Events: rq.Ready})
				}
			}
		} else {
			for _, ev := range events {
				if h, ok := r.byFd[ev.Fd]; ok {
					ready = append(ready, Readiness{Handle: h, Events: ev.Events})
				}
			}
		}
	}
	r.mu.Unlock()

	elapsed := time.Since(start)
	if err != nil {
		r.metrics.PollCompleted(0, elapsed, err)
		r.logger.Warn("poll failed", "error", err)
		if api.CodeOf(err) != api.ErrCodePoll && api.CodeOf(err) != api.ErrCodeClosed {
			err = api.Wrap(api.ErrCodePoll, "registry.Poll", err)
		}
		return nil, err
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].Handle < ready[j].Handle })
	r.metrics.PollCompleted(len(ready), elapsed, nil)
	return ready, nil
}

func alwaysReady(interest api.Events) api.Events {
	return interest & (api.EventRead | api.EventWrite)
}

// Wakeup makes a blocked Poll return early with whatever is ready.
func (r *Registry) Wakeup() error {
	return r.reactor.Wake()
}

// Close removes every endpoint and releases the OS multiplexer. It fails
// with api.ErrPollInProgress while a Poll is running. Close errors of
// individual endpoints are logged, not returned.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if r.polling {
		r.mu.Unlock()
		return api.NewError(api.ErrCodePollInProgress, "registry.Close", "poll in progress")
	}
	r.closed = true
	removed := make(map[Handle]*entry, len(r.entries))
	for h, e := range r.entries {
		removed[h] = e
		r.detach(h, e)
	}
	r.mu.Unlock()

	for h, e := range removed {
		if err := e.ep.Close(); err != nil {
			r.logger.Warn("endpoint close failed", "handle", uint32(h), "error", err)
		}
		r.metrics.EndpointRemoved()
	}
	r.logger.Debug("registry closed", "endpoints", len(removed))
	return r.reactor.Close()
}

// EndpointInfo is a point-in-time description of one registered endpoint.
type EndpointInfo struct {
	Handle   Handle `json:"handle"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
	Pollable bool   `json:"pollable"`
}

// Snapshot describes every registered endpoint in handle order, for debug
// probes.
func (r *Registry) Snapshot() []EndpointInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EndpointInfo, 0, len(r.entries))
	for h, e := range r.entries {
		st := e.ep.State()
		if st == api.StateCreated {
			st = api.StateRegistered
		}
		out = append(out, EndpointInfo{Handle: h, Kind: e.ep.Kind().String(), State: st.String(), Pollable: e.pollable})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func sortHandles(hs []Handle) {
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
}
