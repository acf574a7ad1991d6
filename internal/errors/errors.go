// Package errors provides error codes shared across the Finch data layer.
package errors

import "fmt"

// ErrorCode is a stable identifier the host application can branch on.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Record store errors
	ErrDatabase ErrorCode = "DATABASE_ERROR"
	// ErrTransaction means the combined write+enqueue could not commit.
	// The operation was fully rolled back; the caller retries the user
	// action, no partial state is visible.
	ErrTransaction ErrorCode = "TRANSACTION_FAILURE"

	// Sync errors
	// ErrSyncTransient marks failures that are retried automatically
	// with backoff (network, timeout, server busy).
	ErrSyncTransient ErrorCode = "SYNC_TRANSIENT"
	// ErrSyncPermanent marks mutations the remote rejected as invalid.
	// The queue entry is retained but excluded from automatic retries.
	ErrSyncPermanent ErrorCode = "SYNC_PERMANENT"
	// ErrSyncStalled is surfaced once a transient failure exceeds the
	// attempt ceiling. Local edits are never blocked by it.
	ErrSyncStalled ErrorCode = "SYNC_STALLED"

	// Notification errors
	// ErrUnschedulable means the cron/quiet-hours combination cannot
	// produce a valid fire time within the bounded search.
	ErrUnschedulable ErrorCode = "UNSCHEDULABLE_RULE"
)

// AppError pairs an ErrorCode with a message and optional cause.
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

// New creates an AppError without a cause.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf returns the code carried by err, or ErrInternal when none.
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
