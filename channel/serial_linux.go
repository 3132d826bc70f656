//go:build linux
// +build linux

// File: channel/serial_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Serial line channel on a tty device configured raw (8N1, no echo, no
// line discipline processing) through termios ioctls.

package channel

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-mux/address"
	"github.com/momentics/hioload-mux/api"
	"golang.org/x/sys/unix"
)

// LineTerminator ends a line for Serial.Read.
const LineTerminator = '\r'

// DefaultBaud is used when a zero baud rate is requested.
const DefaultBaud = 9600

var baudRates = map[int]uint32{
	1200:    unix.B1200,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// Serial is a channel over a serial device. It is "connected" once opened.
type Serial struct {
	path   string
	baud   int
	fd     int
	closed atomic.Bool
}

var _ api.Channel = (*Serial)(nil)

// OpenSerial opens the device at path and configures it for baud.
func OpenSerial(path string, baud int) (*Serial, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	speed, ok := baudRates[baud]
	if !ok {
		return nil, api.NewError(api.ErrCodeNotSupported, "channel.OpenSerial", fmt.Sprintf("baud rate %d", baud))
	}
	var (
		fd  int
		err error
	)
	for {
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, api.Wrap(api.ErrCodeConnection, "channel.OpenSerial", err).WithContext("device", path)
	}
	if err := configureRaw(fd, speed); err != nil {
		unix.Close(fd)
		return nil, api.Wrap(api.ErrCodeConnection, "channel.OpenSerial", err).WithContext("device", path)
	}
	return &Serial{path: path, baud: baud, fd: fd}, nil
}

func configureRaw(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

// Kind implements api.Endpoint.
func (s *Serial) Kind() api.Kind { return api.KindSerial }

// Mode implements api.Channel; serial lines are always clients.
func (s *Serial) Mode() api.Mode { return api.ModeClient }

// State is Connected until Close.
func (s *Serial) State() api.State {
	if s.closed.Load() {
		return api.StateClosed
	}
	return api.StateConnected
}

// Address returns the device path as an address.
func (s *Serial) Address() address.Address { return address.FromPath(s.path) }

// Baud returns the configured baud rate.
func (s *Serial) Baud() int { return s.baud }

// Descriptor implements api.Endpoint.
func (s *Serial) Descriptor() (int, bool) {
	if s.closed.Load() {
		return -1, false
	}
	return s.fd, true
}

// Connect is a no-op: an opened line is connected.
func (s *Serial) Connect() error {
	if s.closed.Load() {
		return api.NewError(api.ErrCodeClosed, "channel.Connect", "serial")
	}
	return nil
}

// Accept is not supported on serial lines.
func (s *Serial) Accept() (api.Channel, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "channel.Accept", "serial")
}

// Disconnect closes the device.
func (s *Serial) Disconnect() error { return s.Close() }

// Close releases the descriptor exactly once.
func (s *Serial) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := unix.Close(s.fd); err != nil {
		return api.Wrap(api.ErrCodeConnection, "channel.Close", err)
	}
	return nil
}

// ReadByte blocks until one byte arrives or the device goes away.
func (s *Serial) ReadByte() (byte, error) {
	if s.closed.Load() {
		return 0, api.NewError(api.ErrCodeClosed, "channel.ReadByte", "serial")
	}
	var b [1]byte
	for {
		n, err := unix.Read(s.fd, b[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, api.FromErrno("channel.ReadByte", err, api.ErrCodeConnection)
		}
		if n == 0 {
			return 0, api.NewError(api.ErrCodeConnection, "channel.ReadByte", "device closed")
		}
		return b[0], nil
	}
}

// Read reads one line: bytes up to and including the carriage return
// terminator. It returns the line length. When p fills before the
// terminator arrives the bytes read so far are returned with api.ErrTruncated
// and the rest of the line stays on the device.
func (s *Serial) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, api.NewError(api.ErrCodeClosed, "channel.Read", "serial")
	}
	n := 0
	for n < len(p) {
		b, err := s.ReadByte()
		if err != nil {
			return n, err
		}
		p[n] = b
		n++
		if b == LineTerminator {
			return n, nil
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, api.NewError(api.ErrCodeTruncated, "channel.Read", "line exceeds buffer").WithContext("len", len(p))
}

// Write transmits p as is.
func (s *Serial) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, api.NewError(api.ErrCodeClosed, "channel.Write", "serial")
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(s.fd, p[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, api.FromErrno("channel.Write", err, api.ErrCodeConnection)
		}
		written += n
	}
	return written, nil
}

// WriteString transmits str up to, not including, its first NUL byte.
func (s *Serial) WriteString(str string) (int, error) {
	b := []byte(str)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return s.Write(b)
}
