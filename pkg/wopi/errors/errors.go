// Package errors defines the failure taxonomy of the WOPI engine.
//
// Every component reports failures as *WopiError carrying an ErrorCode.
// The HTTP layer maps codes to status codes with HTTPStatus, and lock
// conflicts always carry the real current lock value so the caller can
// echo it in X-WOPI-Lock.
package errors

import (
	goerrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents the class of a WOPI failure.
type ErrorCode int

const (
	// ErrAccessDenied indicates the ability check failed. No token is issued.
	ErrAccessDenied ErrorCode = iota + 1

	// ErrAccessNotFound indicates the access token is missing, expired,
	// malformed, or bound to another resource.
	ErrAccessNotFound

	// ErrBadRequest indicates a required header or parameter is missing.
	ErrBadRequest

	// ErrNotFound indicates the resource does not exist in the backing store.
	ErrNotFound

	// ErrLockConflict indicates a lock ownership mismatch. Lock holds the
	// current value ("" when unlocked).
	ErrLockConflict

	// ErrPreconditionFailed indicates the file exceeds X-WOPI-MaxExpectedSize.
	ErrPreconditionFailed

	// ErrInvalidName indicates an unusable rename target.
	ErrInvalidName

	// ErrNameCollision indicates the rename target is already taken.
	ErrNameCollision

	// ErrProofVerificationFailed indicates the proof signature headers did not
	// verify. Treated as an authentication failure.
	ErrProofVerificationFailed

	// ErrStoreFailure wraps a backing-store I/O failure.
	ErrStoreFailure

	// ErrDiscoveryFailed indicates a discovery refresh run was aborted.
	ErrDiscoveryFailed

	// ErrNotImplemented indicates an X-WOPI-Override this host does not serve.
	ErrNotImplemented
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrAccessDenied:
		return "AccessDenied"
	case ErrAccessNotFound:
		return "AccessNotFound"
	case ErrBadRequest:
		return "BadRequest"
	case ErrNotFound:
		return "NotFound"
	case ErrLockConflict:
		return "LockConflict"
	case ErrPreconditionFailed:
		return "PreconditionFailed"
	case ErrInvalidName:
		return "InvalidName"
	case ErrNameCollision:
		return "NameCollision"
	case ErrProofVerificationFailed:
		return "ProofVerificationFailed"
	case ErrStoreFailure:
		return "StoreFailure"
	case ErrDiscoveryFailed:
		return "DiscoveryFailed"
	case ErrNotImplemented:
		return "NotImplemented"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// HTTPStatus maps the code to the WOPI status contract.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrAccessDenied:
		return http.StatusForbidden
	case ErrAccessNotFound, ErrProofVerificationFailed:
		return http.StatusUnauthorized
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrLockConflict:
		return http.StatusConflict
	case ErrPreconditionFailed:
		return http.StatusPreconditionFailed
	case ErrInvalidName, ErrNameCollision:
		return http.StatusBadRequest
	case ErrNotImplemented:
		return http.StatusNotImplemented
	case ErrDiscoveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WopiError is the error type returned by every WOPI component.
type WopiError struct {
	Code    ErrorCode
	Message string

	// Lock is the current lock value. Only meaningful for ErrLockConflict,
	// where "" means the resource is unlocked.
	Lock string

	// Reason is a short human-readable explanation suitable for
	// X-WOPI-LockFailureReason or X-WOPI-InvalidFileNameError.
	Reason string

	Err error
}

// Error implements the error interface.
func (e *WopiError) Error() string {
	msg := e.Code.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *WopiError) Unwrap() error {
	return e.Err
}

// Is matches another *WopiError by code, so errors.Is(err, &WopiError{Code: ErrLockConflict})
// works without comparing messages.
func (e *WopiError) Is(target error) bool {
	t, ok := target.(*WopiError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewAccessDenied reports a failed ability check.
func NewAccessDenied(ability string) *WopiError {
	return &WopiError{Code: ErrAccessDenied, Message: fmt.Sprintf("ability %q denied", ability)}
}

// NewAccessNotFound reports an unusable access token.
func NewAccessNotFound(msg string) *WopiError {
	return &WopiError{Code: ErrAccessNotFound, Message: msg}
}

// NewBadRequest reports a missing or malformed header.
func NewBadRequest(msg string) *WopiError {
	return &WopiError{Code: ErrBadRequest, Message: msg}
}

// NewNotFound reports an unknown resource.
func NewNotFound(what string, err error) *WopiError {
	return &WopiError{Code: ErrNotFound, Message: what + " not found", Err: err}
}

// NewLockConflict reports a lock mismatch. current is the real lock value.
func NewLockConflict(current, reason string) *WopiError {
	return &WopiError{Code: ErrLockConflict, Message: "lock mismatch", Lock: current, Reason: reason}
}

// NewPreconditionFailed reports a file larger than the client accepts.
func NewPreconditionFailed(size, max int64) *WopiError {
	return &WopiError{
		Code:    ErrPreconditionFailed,
		Message: fmt.Sprintf("file size %d exceeds maximum expected size %d", size, max),
	}
}

// NewInvalidName reports an unusable rename target.
func NewInvalidName(reason string) *WopiError {
	return &WopiError{Code: ErrInvalidName, Message: "invalid file name", Reason: reason}
}

// NewNameCollision reports an occupied rename target.
func NewNameCollision(name string) *WopiError {
	return &WopiError{
		Code:    ErrNameCollision,
		Message: fmt.Sprintf("name %q already exists", name),
		Reason:  "A file with that name already exists",
	}
}

// NewProofVerificationFailed reports a proof signature mismatch.
func NewProofVerificationFailed(msg string) *WopiError {
	return &WopiError{Code: ErrProofVerificationFailed, Message: msg}
}

// NewStoreFailure wraps a backing-store error.
func NewStoreFailure(op string, err error) *WopiError {
	return &WopiError{Code: ErrStoreFailure, Message: op, Err: err}
}

// NewDiscoveryFailed reports an aborted discovery run.
func NewDiscoveryFailed(client string, err error) *WopiError {
	return &WopiError{Code: ErrDiscoveryFailed, Message: "client " + client, Err: err}
}

// NewNotImplemented reports an unsupported override.
func NewNotImplemented(op string) *WopiError {
	return &WopiError{Code: ErrNotImplemented, Message: fmt.Sprintf("operation %q not implemented", op)}
}

// ============================================================================
// Inspection Helpers
// ============================================================================

// As returns the *WopiError in err's chain, if any.
func As(err error) (*WopiError, bool) {
	var we *WopiError
	if goerrors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// CodeOf returns the code of the first *WopiError in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	if we, ok := As(err); ok {
		return we.Code
	}
	return 0
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CurrentLock returns the lock value carried by a conflict error.
func CurrentLock(err error) (string, bool) {
	we, ok := As(err)
	if !ok || we.Code != ErrLockConflict {
		return "", false
	}
	return we.Lock, true
}
