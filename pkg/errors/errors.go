package errors

import (
	"errors"
	"fmt"
)

// Process exit codes surfaced by the command line front end.
const (
	ExitInternal           = 1
	ExitValidation         = 2
	ExitConflict           = 3
	ExitCapacity           = 4
	ExitNotFound           = 5
	ExitForbidden          = 6
	ExitInvalidCredentials = 7
)

// Error represents a typed domain error the front end can report verbatim.
type Error struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ExitCode int    `json:"-"`
	Err      error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, exitCode int, message string) *Error {
	return &Error{Code: code, ExitCode: exitCode, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, exitCode int, message string) *Error {
	return &Error{Code: code, ExitCode: exitCode, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrValidation         = New("VALIDATION_ERROR", ExitValidation, "validation failed")
	ErrConflict           = New("CONFLICT", ExitConflict, "conflict")
	ErrCapacityExceeded   = New("CAPACITY_EXCEEDED", ExitCapacity, "capacity exceeded")
	ErrNotFound           = New("NOT_FOUND", ExitNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", ExitForbidden, "forbidden")
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", ExitInvalidCredentials, "invalid username or password")
	ErrInternal           = New("INTERNAL_ERROR", ExitInternal, "internal error")
	ErrCacheMiss          = New("CACHE_MISS", ExitInternal, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.ExitCode, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Internal wraps an unexpected failure with a caller supplied message.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.ExitCode, message)
}
