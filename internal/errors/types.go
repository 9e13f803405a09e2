package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	// Validation errors
	ErrCodeEmptyMessage     ErrorCode = "EMPTY_MESSAGE"
	ErrCodeInvalidChannel   ErrorCode = "INVALID_CHANNEL"
	ErrCodeLeadTimeTooShort ErrorCode = "LEAD_TIME_TOO_SHORT"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"

	// Authorization errors
	ErrCodeAuthMissing        ErrorCode = "AUTH_MISSING"
	ErrCodeWorkspaceNotLinked ErrorCode = "WORKSPACE_NOT_LINKED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"

	// Lifecycle errors
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyFinal ErrorCode = "ALREADY_FINAL"

	// External service errors
	ErrCodeDeliveryFailure ErrorCode = "DELIVERY_FAILURE"
	ErrCodeIdentityAPI     ErrorCode = "IDENTITY_API"
	ErrCodeWorkspaceAPI    ErrorCode = "WORKSPACE_API"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Internal errors
	ErrCodeDatabaseQuery ErrorCode = "DATABASE_QUERY"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Retryable   bool                   `json:"retryable"`
	UserMessage string                 `json:"user_message,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets a user-friendly message
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapRetryable wraps an error and marks it as retryable
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// IsCode reports whether err carries the given error code
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetUserMessage extracts a user-friendly message from an error
func GetUserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return "An internal error occurred"
}

// GetMessage returns the most specific safe message for an error: the user
// message when one was set, otherwise the error's own message. Causes are
// never exposed.
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.UserMessage != "" {
			return appErr.UserMessage
		}
		return appErr.Message
	}
	return "An internal error occurred"
}
