//go:build linux
// +build linux

// File: reactor/reactor_linux_test.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"testing"
	"time"

	"github.com/momentics/hioload-mux/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func newReactor(t *testing.T) EventReactor {
	t.Helper()
	er, err := NewReactor()
	require.NoError(t, err)
	t.Cleanup(func() { er.Close() })
	return er
}

func TestWait_ReportsReadable(t *testing.T) {
	er := newReactor(t)
	r, w := pipe(t)
	require.NoError(t, er.Add(r, api.EventRead))

	events := make([]Event, 4)
	n, err := er.Wait(events, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)
	n, err = er.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, r, events[0].Fd)
	assert.Equal(t, api.EventRead, events[0].Events&api.EventRead)

	require.NoError(t, er.Remove(r))
	n, err = er.Wait(events, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWait_TimeoutElapses(t *testing.T) {
	er := newReactor(t)
	r, _ := pipe(t)
	require.NoError(t, er.Add(r, api.EventRead))

	start := time.Now()
	n, err := er.Wait(make([]Event, 1), 30*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestWake_InterruptsWait(t *testing.T) {
	er := newReactor(t)
	done := make(chan error, 1)
	go func() {
		_, err := er.Wait(make([]Event, 1), -1)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, er.Wake())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wake did not interrupt wait")
	}
}

func TestWait_PendingWakeDoesNotHideEvent(t *testing.T) {
	er := newReactor(t)
	r, w := pipe(t)
	require.NoError(t, er.Add(r, api.EventRead))

	require.NoError(t, er.Wake())
	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)
	events := make([]Event, 1)
	n, err := er.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, r, events[0].Fd)
}

func TestModify_WriteInterest(t *testing.T) {
	er := newReactor(t)
	_, w := pipe(t)
	require.NoError(t, er.Add(w, api.EventRead))
	n, err := er.Wait(make([]Event, 1), 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, er.Modify(w, api.EventWrite))
	events := make([]Event, 1)
	n, err = er.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.NotZero(t, events[0].Events&api.EventWrite)
}

func TestPollSet_Subset(t *testing.T) {
	er := newReactor(t)
	r1, w1 := pipe(t)
	r2, _ := pipe(t)
	_, err := unix.Write(w1, []byte("x"))
	require.NoError(t, err)

	reqs := []PollRequest{{Fd: r1, Interest: api.EventRead}, {Fd: r2, Interest: api.EventRead}}
	n, err := er.PollSet(reqs, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotZero(t, reqs[0].Ready&api.EventRead)
	assert.Zero(t, reqs[1].Ready)
}

func TestPollSet_InvalidDescriptor(t *testing.T) {
	er := newReactor(t)
	// Far above anything the test process opens.
	const fd = 1 << 19
	_, err := er.PollSet([]PollRequest{{Fd: fd, Interest: api.EventRead}}, 0)
	assert.ErrorIs(t, err, api.ErrPoll)
	assert.True(t, api.IsFatal(err))
}

func TestClose_Idempotent(t *testing.T) {
	er, err := NewReactor()
	require.NoError(t, err)
	require.NoError(t, er.Close())
	require.NoError(t, er.Close())
	_, err = er.Wait(make([]Event, 1), 0)
	assert.ErrorIs(t, err, api.ErrClosed)
}

func TestAdd_BadDescriptor(t *testing.T) {
	er := newReactor(t)
	assert.Error(t, er.Add(-1, api.EventRead))
}
