// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by every endpoint, the registry and its consumers.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidAddress
	ErrCodeUnsupportedFamily
	ErrCodeResourceExhausted
	ErrCodeConnection
	ErrCodePermissionDenied
	ErrCodeTruncated
	ErrCodeClosed
	ErrCodeUnknownHandle
	ErrCodePoll
	ErrCodePollInProgress
	ErrCodeNotSupported
	ErrCodeCreationFailed
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                "ok",
	ErrCodeInvalidAddress:    "invalid address",
	ErrCodeUnsupportedFamily: "unsupported family",
	ErrCodeResourceExhausted: "resource exhausted",
	ErrCodeConnection:        "connection error",
	ErrCodePermissionDenied:  "permission denied",
	ErrCodeTruncated:         "truncated",
	ErrCodeClosed:            "endpoint closed",
	ErrCodeUnknownHandle:     "unknown handle",
	ErrCodePoll:              "poll failed",
	ErrCodePollInProgress:    "poll in progress",
	ErrCodeNotSupported:      "operation not supported",
	ErrCodeCreationFailed:    "creation failed",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Sentinels, one per code. Match them with errors.Is; any *Error carrying the
// same code compares equal.
var (
	ErrInvalidAddress    = &Error{Code: ErrCodeInvalidAddress}
	ErrUnsupportedFamily = &Error{Code: ErrCodeUnsupportedFamily}
	ErrResourceExhausted = &Error{Code: ErrCodeResourceExhausted}
	ErrConnection        = &Error{Code: ErrCodeConnection}
	ErrPermissionDenied  = &Error{Code: ErrCodePermissionDenied}
	ErrTruncated         = &Error{Code: ErrCodeTruncated}
	ErrClosed            = &Error{Code: ErrCodeClosed}
	ErrUnknownHandle     = &Error{Code: ErrCodeUnknownHandle}
	ErrPoll              = &Error{Code: ErrCodePoll}
	ErrPollInProgress    = &Error{Code: ErrCodePollInProgress}
	ErrNotSupported      = &Error{Code: ErrCodeNotSupported}
	ErrCreationFailed    = &Error{Code: ErrCodeCreationFailed}
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	return msg
}

// Unwrap exposes the underlying cause (an errno, io.EOF or a nested *Error).
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap attaches a code and operation to an underlying error.
func Wrap(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// ErrCodeOK when err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeOK
}

// IsFatal reports whether err should terminate the loop that owns the
// registry: a poll failure (stale descriptor), use of a closed endpoint, or
// an overlapping poll. Every other kind is recoverable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPoll) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrPollInProgress)
}
