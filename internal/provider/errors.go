package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies a failed generate call. Codes are stable strings so
// the caller layer can map them to its own presentation.
type ErrorCode string

const (
	ErrMissingKey      ErrorCode = "MISSING_KEY"
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrCacheOnlyMiss   ErrorCode = "CACHE_ONLY_MISS"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrAuthentication  ErrorCode = "AUTHENTICATION"
	ErrBlocked         ErrorCode = "BLOCKED"
	ErrEmptyResponse   ErrorCode = "EMPTY_RESPONSE"
	ErrPayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrUnparsable      ErrorCode = "UNPARSABLE"
	ErrUpstream        ErrorCode = "UPSTREAM_ERROR"
)

// Error is the typed failure returned from every generate path.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	// RetryAfter carries the upstream's Retry-After hint, when present.
	RetryAfter time.Duration `json:"-"`
	Cause      error         `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code, or ErrUpstream for untyped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUpstream
}

// StatusOf extracts the upstream HTTP status if the error carries one.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus
	}
	return 0
}
