// Package dispatch
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-goroutine event loop over a registry: polls pollable handles,
// accepts on TCP listeners, reads ready endpoints into callbacks and flushes
// queued writes when endpoints become writable.

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/control"
	"github.com/momentics/hioload-mux/registry"
)

// Defaults used when Options leave a field zero.
const (
	DefaultTimeout    = 500 * time.Millisecond
	DefaultBufferSize = 4096
)

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.New("dispatch: loop already running")

// Handler receives loop events. Callbacks run on the loop goroutine and may
// call Send, Close and Stop.
type Handler interface {
	OnAccept(l *Loop, listener, conn registry.Handle)
	OnData(l *Loop, h registry.Handle, data []byte)
	OnClose(l *Loop, h registry.Handle, err error)
}

// Funcs adapts optional functions to Handler.
type Funcs struct {
	Accept func(l *Loop, listener, conn registry.Handle)
	Data   func(l *Loop, h registry.Handle, data []byte)
	Close  func(l *Loop, h registry.Handle, err error)
}

func (f Funcs) OnAccept(l *Loop, listener, conn registry.Handle) {
	if f.Accept != nil {
		f.Accept(l, listener, conn)
	}
}

func (f Funcs) OnData(l *Loop, h registry.Handle, data []byte) {
	if f.Data != nil {
		f.Data(l, h, data)
	}
}

func (f Funcs) OnClose(l *Loop, h registry.Handle, err error) {
	if f.Close != nil {
		f.Close(l, h, err)
	}
}

// Options tune a Loop.
type Options struct {
	// Timeout bounds each poll; it is also how often Stop is noticed when
	// no wakeup is possible.
	Timeout    time.Duration
	BufferSize int
	Logger     *slog.Logger
}

// outbound is one queued write; data shrinks as it is flushed.
type outbound struct {
	data []byte
}

// Loop drives one registry.
type Loop struct {
	reg     *registry.Registry
	handler Handler
	logger  *slog.Logger
	timeout time.Duration
	buf     []byte

	mu      sync.Mutex
	backlog map[registry.Handle]*queue.Queue

	running atomic.Bool
	stop    atomic.Bool
}

// New creates a loop over reg. The loop does not own reg; Run removes every
// endpoint on exit but leaves the registry open.
func New(reg *registry.Registry, h Handler, opts Options) *Loop {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = control.Discard()
	}
	return &Loop{
		reg:     reg,
		handler: h,
		logger:  opts.Logger,
		timeout: opts.Timeout,
		buf:     make([]byte, opts.BufferSize),
		backlog: make(map[registry.Handle]*queue.Queue),
	}
}

// Registry returns the driven registry.
func (l *Loop) Registry() *registry.Registry { return l.reg }

// Running reports whether Run is active.
func (l *Loop) Running() bool { return l.running.Load() }

// Stop asks Run to return after the current cycle. It does not wait.
func (l *Loop) Stop() {
	l.stop.Store(true)
	_ = l.reg.Wakeup()
}

// Run polls until ctx is done, Stop is called or the registry reports a
// fatal error. On the way out every endpoint is removed and reported to
// OnClose with a nil error.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		l.stop.Store(false)
		l.running.Store(false)
	}()

	stopWake := context.AfterFunc(ctx, func() { _ = l.reg.Wakeup() })
	defer stopWake()

	var err error
	for err == nil && !l.stop.Load() && ctx.Err() == nil {
		err = l.cycle(ctx)
	}
	l.teardown()
	if err != nil {
		l.logger.Error("dispatch loop aborted", "error", err)
	}
	return err
}

// cycle runs one poll and services what it reports. Only fatal errors
// are returned.
func (l *Loop) cycle(ctx context.Context) error {
	var candidates []registry.Handle
	for _, h := range l.reg.Handles() {
		if ok, err := l.reg.Pollable(h); err == nil && ok {
			candidates = append(candidates, h)
		}
	}
	if len(candidates) == 0 {
		// Nothing to wait on; sleep the poll interval instead of spinning
		// on always-ready endpoints.
		t := time.NewTimer(l.timeout)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		return nil
	}

	ready, err := l.reg.PollEvents(l.timeout, candidates...)
	if err != nil {
		if api.IsFatal(err) {
			return err
		}
		l.logger.Debug("poll skipped", "error", err)
		return nil
	}
	for _, rd := range ready {
		if rd.Events&api.EventWrite != 0 {
			l.flush(rd.Handle)
		}
		if rd.Events&(api.EventRead|api.EventError) != 0 {
			l.service(rd.Handle)
		}
	}
	return nil
}

// service handles read readiness on h: accept on listeners, read otherwise.
func (l *Loop) service(h registry.Handle) {
	ep, err := l.reg.Get(h)
	if err != nil {
		return
	}
	if ch, ok := ep.(api.Channel); ok && ch.Kind() == api.KindTCP && ch.Mode() == api.ModeServer {
		conn, err := l.reg.Accept(h)
		if err != nil {
			l.logger.Warn("accept failed", "listener", uint32(h), "error", err)
			return
		}
		l.handler.OnAccept(l, h, conn)
		return
	}

	n, err := ep.Read(l.buf)
	if n > 0 {
		data := make([]byte, n)
		copy(data, l.buf[:n])
		l.handler.OnData(l, h, data)
	}
	switch {
	case err == nil:
	case errors.Is(err, api.ErrTruncated):
		l.logger.Warn("message truncated", "handle", uint32(h), "buffer", len(l.buf))
	default:
		l.drop(h, err)
	}
}

// Send queues data for h. Pollable endpoints are written when the registry
// reports them writable; others are written immediately.
func (l *Loop) Send(h registry.Handle, data []byte) error {
	pollable, err := l.reg.Pollable(h)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if !pollable {
		ep, err := l.reg.Get(h)
		if err != nil {
			return err
		}
		_, err = ep.Write(data)
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	l.mu.Lock()
	q, ok := l.backlog[h]
	if !ok {
		q = queue.New()
		l.backlog[h] = q
	}
	q.Add(&outbound{data: buf})
	l.mu.Unlock()

	if !ok {
		if err := l.reg.SetInterest(h, api.EventRead|api.EventWrite); err != nil {
			return err
		}
		// A poll already in flight does not see the new interest.
		return l.reg.Wakeup()
	}
	return nil
}

// Pending returns the number of queued writes for h.
func (l *Loop) Pending(h registry.Handle) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q, ok := l.backlog[h]; ok {
		return q.Length()
	}
	return 0
}

// flush writes queued data for h until the queue drains or a write stalls.
func (l *Loop) flush(h registry.Handle) {
	ep, err := l.reg.Get(h)
	if err != nil {
		return
	}
	l.mu.Lock()
	q, ok := l.backlog[h]
	l.mu.Unlock()
	if !ok {
		_ = l.reg.SetInterest(h, api.EventRead)
		return
	}
	for {
		l.mu.Lock()
		if q.Length() == 0 {
			delete(l.backlog, h)
			l.mu.Unlock()
			_ = l.reg.SetInterest(h, api.EventRead)
			return
		}
		ob := q.Peek().(*outbound)
		l.mu.Unlock()

		n, err := ep.Write(ob.data)
		if err != nil {
			l.drop(h, err)
			return
		}
		if n < len(ob.data) {
			ob.data = ob.data[n:]
			return
		}
		l.mu.Lock()
		q.Remove()
		l.mu.Unlock()
	}
}

// Close removes h and reports it to OnClose with a nil error.
func (l *Loop) Close(h registry.Handle) error {
	l.mu.Lock()
	delete(l.backlog, h)
	l.mu.Unlock()
	if err := l.reg.Remove(h); err != nil {
		return err
	}
	l.handler.OnClose(l, h, nil)
	return nil
}

// drop removes h after an endpoint error.
func (l *Loop) drop(h registry.Handle, cause error) {
	l.mu.Lock()
	delete(l.backlog, h)
	l.mu.Unlock()
	if err := l.reg.Remove(h); err != nil && !errors.Is(err, api.ErrUnknownHandle) {
		l.logger.Warn("remove failed", "handle", uint32(h), "error", err)
	}
	l.logger.Debug("endpoint dropped", "handle", uint32(h), "error", cause)
	l.handler.OnClose(l, h, cause)
}

func (l *Loop) teardown() {
	for _, h := range l.reg.Handles() {
		if err := l.reg.Remove(h); err != nil {
			l.logger.Warn("teardown remove failed", "handle", uint32(h), "error", err)
			continue
		}
		l.handler.OnClose(l, h, nil)
	}
	l.mu.Lock()
	l.backlog = make(map[registry.Handle]*queue.Queue)
	l.mu.Unlock()
}
