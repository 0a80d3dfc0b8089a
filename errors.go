package objstore

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable storage error code. The set is closed:
// adapters wrap every backend SDK failure into one of these codes, and no
// raw SDK error type crosses the provider contract boundary.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the key does not resolve to an existing object.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodePermissionDenied indicates the operation is not permitted,
	// including visibility changes an adapter cannot perform in place.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	// ErrCodeInvalidKey indicates a malformed or unsafe object key.
	ErrCodeInvalidKey ErrorCode = "INVALID_KEY"
	// ErrCodeUploadFailed indicates a backend write failure.
	ErrCodeUploadFailed ErrorCode = "UPLOAD_FAILED"
	// ErrCodeDownloadFailed indicates a backend read failure other than absence.
	ErrCodeDownloadFailed ErrorCode = "DOWNLOAD_FAILED"
	// ErrCodeDeleteFailed indicates a backend delete failure other than absence.
	ErrCodeDeleteFailed ErrorCode = "DELETE_FAILED"
	// ErrCodeConnectionError indicates the backend or signing service is unreachable.
	ErrCodeConnectionError ErrorCode = "CONNECTION_ERROR"
	// ErrCodeConfigurationError indicates missing or invalid provider
	// configuration, including operations on an uninitialized provider.
	ErrCodeConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	// ErrCodeProviderUnavailable indicates provider construction failed its
	// health check; the process must not serve traffic in this state.
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
)

// Error is the unified storage error type. Every error carries the
// offending key (when applicable) and the originating provider's display
// name so multi-provider deployments can attribute failures in logs.
type Error struct {
	Code     ErrorCode
	Message  string
	Key      string
	Provider string
	Cause    error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Provider != "" {
		s += fmt.Sprintf(" (provider=%s", e.Provider)
		if e.Key != "" {
			s += fmt.Sprintf(" key=%s", e.Key)
		}
		s += ")"
	} else if e.Key != "" {
		s += fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(": %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// --- Constructors ---

// NewNotFound creates a NOT_FOUND error for the given provider and key.
func NewNotFound(provider, key string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "object not found", Provider: provider, Key: key}
}

// NewPermissionDenied creates a PERMISSION_DENIED error.
func NewPermissionDenied(provider, key, reason string) *Error {
	return &Error{Code: ErrCodePermissionDenied, Message: reason, Provider: provider, Key: key}
}

// NewInvalidKey creates an INVALID_KEY error.
func NewInvalidKey(provider, key, reason string) *Error {
	return &Error{Code: ErrCodeInvalidKey, Message: reason, Provider: provider, Key: key}
}

// NewUploadFailed creates an UPLOAD_FAILED error wrapping the backend error.
func NewUploadFailed(provider, key string, cause error) *Error {
	return &Error{Code: ErrCodeUploadFailed, Message: "upload failed", Provider: provider, Key: key, Cause: cause}
}

// NewDownloadFailed creates a DOWNLOAD_FAILED error wrapping the backend error.
func NewDownloadFailed(provider, key string, cause error) *Error {
	return &Error{Code: ErrCodeDownloadFailed, Message: "download failed", Provider: provider, Key: key, Cause: cause}
}

// NewDeleteFailed creates a DELETE_FAILED error wrapping the backend error.
func NewDeleteFailed(provider, key string, cause error) *Error {
	return &Error{Code: ErrCodeDeleteFailed, Message: "delete failed", Provider: provider, Key: key, Cause: cause}
}

// NewConnectionError creates a CONNECTION_ERROR wrapping a transport failure.
func NewConnectionError(provider string, cause error) *Error {
	return &Error{Code: ErrCodeConnectionError, Message: "backend unreachable", Provider: provider, Cause: cause}
}

// NewConfigurationError creates a CONFIGURATION_ERROR with a reason.
func NewConfigurationError(provider, reason string) *Error {
	return &Error{Code: ErrCodeConfigurationError, Message: reason, Provider: provider}
}

// NewProviderUnavailable creates a PROVIDER_UNAVAILABLE error.
func NewProviderUnavailable(provider, reason string) *Error {
	return &Error{Code: ErrCodeProviderUnavailable, Message: reason, Provider: provider}
}

// NewNotInitialized creates the CONFIGURATION_ERROR returned by every
// operation invoked before Initialize has completed.
func NewNotInitialized(provider string) *Error {
	return NewConfigurationError(provider, "provider is not initialized; call Initialize first")
}

// --- Inspection helpers ---

// CodeOf extracts the storage error code from err, or "" if err is not a
// storage Error.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err carries the given storage error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsNotFound reports whether err is a NOT_FOUND storage error.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeNotFound)
}
