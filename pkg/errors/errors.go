package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeConnection      ErrorCode = "CONNECTION_ERROR"
	ErrCodeProtocol        ErrorCode = "PROTOCOL_ERROR"
	ErrCodeCommandRejected ErrorCode = "COMMAND_REJECTED"
	ErrCodeStaleResult     ErrorCode = "STALE_RESULT"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeRateLimit       ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
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

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// NewConnectionError is surfaced only as a status flag, never returned from the
// connect path itself.
func NewConnectionError(cause error, target string) *AppError {
	return WrapError(cause, ErrCodeConnection, "backend connection failed", http.StatusBadGateway).
		WithContext("target", target)
}

func NewProtocolError(cause error, messageType string) *AppError {
	return WrapError(cause, ErrCodeProtocol, "malformed inbound message", http.StatusBadGateway).
		WithContext("message_type", messageType)
}

// NewCommandRejectedError is returned synchronously when a command cannot be
// handed to the transport.
func NewCommandRejectedError(cause error, command string) *AppError {
	return WrapError(cause, ErrCodeCommandRejected, fmt.Sprintf("command %s rejected", command), http.StatusConflict).
		WithContext("command", command)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewUpstreamError(status int, body string) *AppError {
	message := fmt.Sprintf("upstream returned %d", status)
	if body != "" {
		message += ": " + body
	}
	return NewAppError(ErrCodeUpstream, message, http.StatusBadGateway).
		WithContext("status", status).
		WithContext("body", body)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
