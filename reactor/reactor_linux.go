//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-mux/api"
	"golang.org/x/sys/unix"
)

// linuxReactor is a level-triggered epoll reactor with an eventfd waker.
type linuxReactor struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
	closed atomic.Bool
}

// NewReactor constructs a new platform-specific EventReactor for Linux.
func NewReactor() (EventReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.FromErrno("reactor.NewReactor", err, api.ErrCodeResourceExhausted)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, api.FromErrno("reactor.NewReactor", err, api.ErrCodeResourceExhausted)
	}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, api.FromErrno("reactor.NewReactor", err, api.ErrCodeResourceExhausted)
	}
	return &linuxReactor{epfd: epfd, wakefd: wakefd}, nil
}

func toEpoll(interest api.Events) uint32 {
	var e uint32
	if interest&api.EventRead != 0 {
		e |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&api.EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpoll(e uint32) api.Events {
	var ev api.Events
	if e&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
		ev |= api.EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		ev |= api.EventWrite
	}
	if e&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ev |= api.EventError
	}
	return ev
}

func toPoll(interest api.Events) int16 {
	var e int16
	if interest&api.EventRead != 0 {
		e |= unix.POLLIN | unix.POLLRDHUP
	}
	if interest&api.EventWrite != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func fromPoll(e int16) api.Events {
	var ev api.Events
	if e&(unix.POLLIN|unix.POLLRDHUP|unix.POLLPRI) != 0 {
		ev |= api.EventRead
	}
	if e&unix.POLLOUT != 0 {
		ev |= api.EventWrite
	}
	if e&(unix.POLLERR|unix.POLLHUP) != 0 {
		ev |= api.EventError
	}
	return ev
}

// Add adds a file descriptor to the epoll watch list.
func (r *linuxReactor) Add(fd int, interest api.Events) error {
	ev := &unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return api.FromErrno("reactor.Add", err, api.ErrCodePoll).WithContext("fd", fd)
	}
	return nil
}

// Modify changes the interest mask of a watched descriptor.
func (r *linuxReactor) Modify(fd int, interest api.Events) error {
	ev := &unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return api.FromErrno("reactor.Modify", err, api.ErrCodePoll).WithContext("fd", fd)
	}
	return nil
}

// Remove removes a file descriptor from the epoll watch list.
func (r *linuxReactor) Remove(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return api.FromErrno("reactor.Remove", err, api.ErrCodePoll).WithContext("fd", fd)
	}
	return nil
}

// Wait waits for epoll events and fills the result into events slice.
func (r *linuxReactor) Wait(events []Event, timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, api.NewError(api.ErrCodeClosed, "reactor.Wait", "reactor closed")
	}
	// One extra slot so the waker never displaces a ready descriptor.
	size := len(events) + 1
	if cap(r.raw) < size {
		r.raw = make([]unix.EpollEvent, size)
	}
	raw := r.raw[:size]
	infinite := timeout < 0
	deadline := time.Now().Add(timeout)
	for {
		n, err := unix.EpollWait(r.epfd, raw, remaining(deadline, infinite))
		if err == unix.EINTR {
			if !infinite && !time.Now().Before(deadline) {
				return 0, nil
			}
			continue
		}
		if err != nil {
			return 0, api.Wrap(api.ErrCodePoll, "reactor.Wait", err)
		}
		out := 0
		for i := 0; i < n; i++ {
			fd := int(raw[i].Fd)
			if fd == r.wakefd {
				r.drain()
				continue
			}
			if out < len(events) {
				events[out] = Event{Fd: fd, Events: fromEpoll(raw[i].Events)}
				out++
			}
		}
		return out, nil
	}
}

// PollSet runs poll(2) over reqs plus the waker.
func (r *linuxReactor) PollSet(reqs []PollRequest, timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, api.NewError(api.ErrCodeClosed, "reactor.PollSet", "reactor closed")
	}
	fds := make([]unix.PollFd, len(reqs)+1)
	for i, rq := range reqs {
		fds[i] = unix.PollFd{Fd: int32(rq.Fd), Events: toPoll(rq.Interest)}
	}
	wake := len(reqs)
	fds[wake] = unix.PollFd{Fd: int32(r.wakefd), Events: unix.POLLIN}
	infinite := timeout < 0
	deadline := time.Now().Add(timeout)
	for {
		_, err := unix.Poll(fds, remaining(deadline, infinite))
		if err == unix.EINTR {
			if !infinite && !time.Now().Before(deadline) {
				return 0, nil
			}
			continue
		}
		if err != nil {
			return 0, api.Wrap(api.ErrCodePoll, "reactor.PollSet", err)
		}
		break
	}
	ready := 0
	for i := range reqs {
		re := fds[i].Revents
		if re&unix.POLLNVAL != 0 {
			return 0, api.NewError(api.ErrCodePoll, "reactor.PollSet", "invalid descriptor in set").WithContext("fd", reqs[i].Fd)
		}
		reqs[i].Ready = fromPoll(re)
		if reqs[i].Ready != 0 {
			ready++
		}
	}
	if fds[wake].Revents&unix.POLLIN != 0 {
		r.drain()
	}
	return ready, nil
}

// Wake makes the current or next wait return early.
func (r *linuxReactor) Wake() error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(r.wakefd, b[:]); err != nil && err != unix.EAGAIN {
		return api.FromErrno("reactor.Wake", err, api.ErrCodePoll)
	}
	return nil
}

func (r *linuxReactor) drain() {
	var b [8]byte
	_, _ = unix.Read(r.wakefd, b[:])
}

// Close closes the epoll instance and the waker.
func (r *linuxReactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Close(r.epfd)
	if werr := unix.Close(r.wakefd); err == nil {
		err = werr
	}
	if err != nil {
		return api.Wrap(api.ErrCodePoll, "reactor.Close", err)
	}
	return nil
}
