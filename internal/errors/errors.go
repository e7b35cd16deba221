// Package errors provides error code definitions for the Creel core.
package errors

import "fmt"

// ErrorCode represents a unique error code that can be surfaced to the UI.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase     ErrorCode = "DATABASE_ERROR"
	ErrMigration    ErrorCode = "MIGRATION_FAILED"
	ErrConstraint   ErrorCode = "CONSTRAINT_VIOLATION"
	ErrStorageQuota ErrorCode = "STORAGE_QUOTA_EXCEEDED"
	ErrUnknownTable ErrorCode = "UNKNOWN_TABLE"

	// Queue errors
	ErrQueueFull         ErrorCode = "QUEUE_FULL"
	ErrQueueItemNotFound ErrorCode = "QUEUE_ITEM_NOT_FOUND"

	// Sync errors
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncOffline    ErrorCode = "SYNC_OFFLINE"
	ErrSyncTransient  ErrorCode = "SYNC_TRANSIENT_FAILURE"
	ErrSyncTerminal   ErrorCode = "SYNC_TERMINAL_FAILURE"

	// Export errors
	ErrExportFailed ErrorCode = "EXPORT_FAILED"

	// Media errors
	ErrMediaUnsupported ErrorCode = "MEDIA_UNSUPPORTED"
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

// Is checks if an error carries a specific code. It walks the wrap chain so
// an AppError wrapped by fmt.Errorf is still recognised.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the error code of err, or ErrInternal when err carries none.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternal
}
