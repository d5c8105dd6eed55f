package errors

import (
	"errors"
	"fmt"
)

// AppError provides a structured error carrying a stable code that callers
// can match on without string comparison of messages.
type AppError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"-"`
	Internal  error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches two AppErrors by code so wrapped copies compare equal to their sentinel.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e != nil && other != nil && e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the sync core.
var (
	// ErrTransientNetwork marks a failure worth retrying; it drives queue backoff.
	ErrTransientNetwork = &AppError{
		Code:      "TRANSIENT_NETWORK",
		Message:   "Temporary network failure",
		Retryable: true,
	}

	// ErrEncryptionKey is fatal: the store key is lost or corrupted and the
	// local store must be reinitialised. Never treated as empty data.
	ErrEncryptionKey = &AppError{
		Code:    "ENCRYPTION_KEY_INVALID",
		Message: "Encryption key cannot decrypt the local store; reinitialize required",
	}

	// ErrSerialization marks an undecodable or unencodable payload; the
	// offending write is dropped and logged without crashing the caller.
	ErrSerialization = &AppError{
		Code:    "SERIALIZATION_FAILED",
		Message: "Payload could not be serialized",
	}

	// ErrCapacity is returned when a cache insert cannot free enough space
	// without evicting critical-tier entries.
	ErrCapacity = &AppError{
		Code:    "CACHE_CAPACITY",
		Message: "Cache budget exhausted by critical entries",
	}

	// ErrConflictUnresolved is the deferred, non-fatal outcome of the manual
	// conflict strategy.
	ErrConflictUnresolved = &AppError{
		Code:    "CONFLICT_UNRESOLVED",
		Message: "Conflict persisted for manual resolution",
	}

	// ErrOffline rejects sync triggers while disconnected.
	ErrOffline = &AppError{
		Code:      "offline",
		Message:   "Device is offline",
		Retryable: true,
	}

	// ErrAlreadySyncing rejects a trigger while a cycle is in flight.
	ErrAlreadySyncing = &AppError{
		Code:    "already_syncing",
		Message: "A sync cycle is already running",
	}

	ErrNotFound = &AppError{
		Code:    "NOT_FOUND",
		Message: "Record not found",
	}

	ErrInternal = &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "Internal error",
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:     ErrInternal.Code,
		Message:  message,
		Internal: err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternal.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternal.WithInternal(err)
}

// IsRetryable reports whether the error should feed retry/backoff handling.
func IsRetryable(err error) bool {
	appErr := FromError(err)
	return appErr != nil && appErr.Retryable
}
