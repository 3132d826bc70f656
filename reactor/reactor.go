// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import (
	"time"

	"github.com/momentics/hioload-mux/api"
)

// EventReactor waits for readiness on a set of descriptors.
type EventReactor interface {
	// Add registers fd with the interest mask.
	Add(fd int, interest api.Events) error

	// Modify replaces the interest mask of a registered fd.
	Modify(fd int, interest api.Events) error

	// Remove drops fd from the interest set. It must be called before the
	// descriptor is closed.
	Remove(fd int) error

	// Wait blocks up to timeout (negative: forever, zero: non-blocking) and
	// fills events. A Wake during the wait returns n == 0 and no error.
	Wait(events []Event, timeout time.Duration) (n int, err error)

	// PollSet waits on an explicit subset instead of the interest set and
	// sets Ready on each request in place.
	PollSet(reqs []PollRequest, timeout time.Duration) (n int, err error)

	// Wake interrupts an in-flight Wait or PollSet.
	Wake() error

	// Close cleans up resources (epfd and waker).
	Close() error
}

// Event contains event information returned by Wait.
type Event struct {
	Fd     int
	Events api.Events
}

// PollRequest is one descriptor of a PollSet call.
type PollRequest struct {
	Fd       int
	Interest api.Events
	Ready    api.Events
}

// remaining converts a deadline into the millisecond timeout of epoll_wait
// and poll, rounding up so sub-millisecond timeouts still wait.
func remaining(deadline time.Time, infinite bool) int {
	if infinite {
		return -1
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
