// Package errors provides error code definitions for the Waveline core.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to callers and the
// local ops API.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrDatabase           ErrorCode = "DATABASE_ERROR"
	ErrMigration          ErrorCode = "MIGRATION_FAILED"
	ErrQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"

	// Remote collaborator errors
	ErrRemoteUnavailable     ErrorCode = "REMOTE_UNAVAILABLE"
	ErrDuplicateRequest      ErrorCode = "DUPLICATE_REQUEST"
	ErrAlreadyFriends        ErrorCode = "ALREADY_FRIENDS"
	ErrUsernameTaken         ErrorCode = "USERNAME_TAKEN"
	ErrNoToken               ErrorCode = "NO_TOKEN"
	ErrNotificationsDisabled ErrorCode = "NOTIFICATIONS_DISABLED"
	ErrDeliveryFailed        ErrorCode = "DELIVERY_ERROR"

	// Sync errors
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrActionNotFound ErrorCode = "ACTION_NOT_FOUND"
	ErrUnknownAction  ErrorCode = "UNKNOWN_ACTION_KIND"

	// Offline facade errors
	ErrOfflineCacheMiss ErrorCode = "OFFLINE_CACHE_MISS"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal when err carries
// no code.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
