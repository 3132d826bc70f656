// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/reactor"
)

// Reactor is a scripted reactor.EventReactor. It reports the events queued
// with Fire and fails the next wait after Fail.
type Reactor struct {
	mu       sync.Mutex
	interest map[int]api.Events
	fired    []reactor.Event
	failWith error
	closed   bool
	wakes    int
}

var _ reactor.EventReactor = (*Reactor)(nil)

// NewReactor creates an empty scripted reactor.
func NewReactor() *Reactor {
	return &Reactor{interest: make(map[int]api.Events)}
}

func (f *Reactor) Add(fd int, interest api.Events) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interest[fd] = interest
	return nil
}

func (f *Reactor) Modify(fd int, interest api.Events) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.interest[fd]; !ok {
		return api.NewError(api.ErrCodePoll, "fake.Modify", "descriptor not watched")
	}
	f.interest[fd] = interest
	return nil
}

func (f *Reactor) Remove(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.interest, fd)
	return nil
}

// Watched reports whether fd is in the interest set.
func (f *Reactor) Watched(fd int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.interest[fd]
	return ok
}

// Fire queues events for the next wait.
func (f *Reactor) Fire(ev ...reactor.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, ev...)
}

// Fail makes the next wait return err.
func (f *Reactor) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *Reactor) take() ([]reactor.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, api.NewError(api.ErrCodeClosed, "fake.Wait", "reactor closed")
	}
	if err := f.failWith; err != nil {
		f.failWith = nil
		return nil, err
	}
	fired := f.fired
	f.fired = nil
	return fired, nil
}

// Wait returns the fired events without blocking.
func (f *Reactor) Wait(events []reactor.Event, _ time.Duration) (int, error) {
	fired, err := f.take()
	if err != nil {
		return 0, err
	}
	return copy(events, fired), nil
}

// PollSet marks requests whose descriptor was fired.
func (f *Reactor) PollSet(reqs []reactor.PollRequest, _ time.Duration) (int, error) {
	fired, err := f.take()
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range reqs {
		reqs[i].Ready = 0
		for _, ev := range fired {
			if ev.Fd == reqs[i].Fd {
				reqs[i].Ready |= ev.Events
			}
		}
		if reqs[i].Ready != 0 {
			n++
		}
	}
	return n, nil
}

func (f *Reactor) Wake() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes++
	return nil
}

// Wakes reports how many times Wake was called.
func (f *Reactor) Wakes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakes
}

func (f *Reactor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
