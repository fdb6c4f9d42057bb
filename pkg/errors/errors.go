// Package errors defines structured error types for the Device Sentinel agent.
// Errors carry a machine-readable code, a severity hint for the caller, and
// optional metadata for the audit trail.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/nexivo/sentinel/pkg/constants"
)

// ================================================================================
// AppError
// ================================================================================

// AppError is the structured error type used across the agent.
type AppError struct {
	code     constants.ErrorCode
	message  string
	cause    error
	metadata map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the machine-readable error code.
func (e *AppError) Code() constants.ErrorCode {
	return e.code
}

// Unwrap returns the underlying cause for error-chain support.
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause attaches a cause error to the chain.
func (e *AppError) WithCause(cause error) *AppError {
	e.cause = cause
	return e
}

// WithMetadata attaches context metadata to the error.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// Metadata returns all attached metadata.
func (e *AppError) Metadata() map[string]interface{} {
	return e.metadata
}

// New creates a new AppError with the given code and message.
func New(code constants.ErrorCode, message string) *AppError {
	return &AppError{code: code, message: message}
}

// Newf creates a new AppError with a formatted message.
func Newf(code constants.ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap wraps a generic error into an AppError.
func Wrap(err error, code constants.ErrorCode, message string) *AppError {
	return &AppError{code: code, message: message, cause: err}
}

// ================================================================================
// Predefined Constructors
// ================================================================================

// ErrLockNotFound indicates no active lock record exists for the given id.
func ErrLockNotFound(lockID string) *AppError {
	return Newf(constants.ErrCodeNotFound, "lock not found: %s", lockID).
		WithMetadata("lock_id", lockID)
}

// ErrSoftLockNotFound indicates no soft-lock record exists for the given id.
func ErrSoftLockNotFound(lockID string) *AppError {
	return Newf(constants.ErrCodeNotFound, "soft lock not found: %s", lockID).
		WithMetadata("lock_id", lockID)
}

// ErrCommandNotFound indicates the command id is not present in the queue.
func ErrCommandNotFound(commandID string) *AppError {
	return Newf(constants.ErrCodeNotFound, "command not found: %s", commandID).
		WithMetadata("command_id", commandID)
}

// ErrCommandExpired indicates the command is past its expiry and must not run.
func ErrCommandExpired(commandID string) *AppError {
	return Newf(constants.ErrCodeExpired, "command expired: %s", commandID).
		WithMetadata("command_id", commandID)
}

// ErrSignatureInvalid indicates command signature verification failed.
func ErrSignatureInvalid(commandID string, reason string) *AppError {
	return Newf(constants.ErrCodeSignatureInvalid, "command signature invalid: %s", reason).
		WithMetadata("command_id", commandID)
}

// ErrEnforcementFailed indicates the OS-level enforcement call did not take.
func ErrEnforcementFailed(operation string) *AppError {
	return Newf(constants.ErrCodeEnforcementFailed, "enforcement operation failed: %s", operation).
		WithMetadata("operation", operation)
}

// ErrPermanentLock indicates an attempt to clear a terminal lock without
// backend authorization.
func ErrPermanentLock(lockID string) *AppError {
	return Newf(constants.ErrCodePermanentLock, "permanent lock requires backend-authorized unlock: %s", lockID).
		WithMetadata("lock_id", lockID)
}

// ErrStoreUnavailable indicates a persistence operation failed.
func ErrStoreUnavailable(operation string) *AppError {
	return Newf(constants.ErrCodeStoreUnavailable, "store operation failed: %s", operation).
		WithMetadata("operation", operation)
}

// ErrTransportFailed indicates the backend was unreachable or rejected a call.
func ErrTransportFailed(endpoint string) *AppError {
	return Newf(constants.ErrCodeTransportFailed, "transport call failed: %s", endpoint).
		WithMetadata("endpoint", endpoint)
}

// ErrBaselineNotFound indicates no identity baseline has been established.
func ErrBaselineNotFound() *AppError {
	return New(constants.ErrCodeNotFound, "identity baseline not established")
}

// ErrInvalidRequest indicates a malformed local API request.
func ErrInvalidRequest(message string) *AppError {
	return New(constants.ErrCodeInvalidRequest, message)
}

// ================================================================================
// Inspection Helpers
// ================================================================================

// AsAppError attempts to extract an AppError from the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code constants.ErrorCode) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code() == code
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return IsCode(err, constants.ErrCodeNotFound)
}

// IsEnforcementFailure reports whether err is an OS enforcement failure.
func IsEnforcementFailure(err error) bool {
	return IsCode(err, constants.ErrCodeEnforcementFailed)
}

// IsTransient reports whether the operation may succeed on a later pass.
// Transport and store failures are retried by the surrounding loops.
func IsTransient(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		code := appErr.Code()
		return code == constants.ErrCodeTransportFailed ||
			code == constants.ErrCodeStoreUnavailable ||
			code == constants.ErrCodeServiceUnavailable
	}
	return false
}
