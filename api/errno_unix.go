//go:build unix

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"errors"

	"golang.org/x/sys/unix"
)

// FromErrno classifies a non-nil OS error into the taxonomy. Errors that
// already carry an *Error pass through; unknown errnos get fallback.
func FromErrno(op string, err error, fallback ErrorCode) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	code := fallback
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM, unix.ENOSPC:
			code = ErrCodeResourceExhausted
		case unix.EAFNOSUPPORT, unix.EPROTONOSUPPORT, unix.ESOCKTNOSUPPORT, unix.EPFNOSUPPORT:
			code = ErrCodeUnsupportedFamily
		case unix.EACCES, unix.EPERM:
			code = ErrCodePermissionDenied
		case unix.EBADF:
			code = ErrCodeClosed
		}
	}
	return Wrap(code, op, err)
}
