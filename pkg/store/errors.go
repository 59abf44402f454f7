package store

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a backing-store failure.
type ErrorCode int

const (
	// ErrNotFound indicates the document or mount does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrAlreadyExists indicates a rename target is taken.
	ErrAlreadyExists

	// ErrInvalidArgument indicates a malformed ref or name.
	ErrInvalidArgument

	// ErrPermissionDenied indicates the backend refused the operation.
	ErrPermissionDenied

	// ErrNotSupported indicates the backend cannot perform the operation.
	ErrNotSupported

	// ErrIO indicates any other I/O failure.
	ErrIO
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrNotSupported:
		return "NotSupported"
	case ErrIO:
		return "IOError"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// StoreError is a backing-store failure with a machine-readable code.
type StoreError struct {
	Code    ErrorCode
	Op      string
	Ref     string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Op + ": " + e.Code.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Ref != "" {
		msg += " (" + e.Ref + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewError builds a StoreError.
func NewError(code ErrorCode, op string, ref ResourceRef, err error) *StoreError {
	return &StoreError{Code: code, Op: op, Ref: ref.String(), Err: err}
}

// NotFound builds an ErrNotFound StoreError.
func NotFound(op string, ref ResourceRef) *StoreError {
	return &StoreError{Code: ErrNotFound, Op: op, Ref: ref.String(), Message: "not found"}
}

// AlreadyExists builds an ErrAlreadyExists StoreError for a rename target.
func AlreadyExists(op string, ref ResourceRef, name string) *StoreError {
	return &StoreError{Code: ErrAlreadyExists, Op: op, Ref: ref.String(), Message: fmt.Sprintf("%q already exists", name)}
}

// IOError wraps err as an ErrIO StoreError.
func IOError(op string, ref ResourceRef, err error) *StoreError {
	return &StoreError{Code: ErrIO, Op: op, Ref: ref.String(), Err: err}
}

// CodeOf returns the StoreError code in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsNotFound reports whether err is an ErrNotFound StoreError.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsAlreadyExists reports whether err is an ErrAlreadyExists StoreError.
func IsAlreadyExists(err error) bool {
	return CodeOf(err) == ErrAlreadyExists
}
