// Package errors provides error code definitions for the sync core.
package errors

import "fmt"

// ErrorCode is a stable machine-readable error identifier. Codes cross the
// boundary to status listeners and logs; messages are for humans.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local store errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Record errors
	ErrRecordNotFound ErrorCode = "RECORD_NOT_FOUND"
	ErrRecordInvalid  ErrorCode = "RECORD_INVALID"

	// Queue errors
	ErrQueuePersist   ErrorCode = "QUEUE_PERSIST_FAILED"
	ErrQueueAbandoned ErrorCode = "QUEUE_ITEM_ABANDONED"

	// Transport errors
	ErrTransport      ErrorCode = "TRANSPORT_ERROR"
	ErrUnreachable    ErrorCode = "NETWORK_UNREACHABLE"
	ErrRemoteRejected ErrorCode = "REMOTE_REJECTED"
	ErrAuthFailed     ErrorCode = "AUTH_FAILED"

	// Real-time channel errors
	ErrChannelClosed    ErrorCode = "CHANNEL_CLOSED"
	ErrReconnectGaveUp  ErrorCode = "RECONNECT_GAVE_UP"
	ErrChannelHandshake ErrorCode = "CHANNEL_HANDSHAKE_FAILED"

	// Orchestrator errors
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncTimeout    ErrorCode = "SYNC_TIMEOUT"
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

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error's code, or ErrInternal when it has none.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
