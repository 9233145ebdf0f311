package core

import (
	"errors"
	"fmt"
)

// Error represents a meeting subsystem error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConfig: missing or invalid configuration (endpoint, auth token).
	// Never retryable; surfaced synchronously to the caller.
	ErrConfig ErrorType = "config_error"
	// ErrMedia: local capture could not be acquired (permission denied,
	// device unavailable). Fatal for the current join attempt.
	ErrMedia ErrorType = "media_error"
	// ErrNetwork: transient transport failure (dial timeout, socket drop).
	ErrNetwork ErrorType = "network_error"
	// ErrAuth: the signaling endpoint rejected the supplied token.
	ErrAuth ErrorType = "authentication_error"
	// ErrProtocol: malformed or state-inappropriate message. Log-and-drop
	// territory; never fatal on its own.
	ErrProtocol ErrorType = "protocol_error"
	// ErrRateLimit: the peer sent faster than the configured budget.
	ErrRateLimit ErrorType = "rate_limit_error"
	// ErrInternal: invariant violation or unexpected failure.
	ErrInternal ErrorType = "internal_error"
)

// NewConfigError creates a configuration error for a missing/invalid param.
func NewConfigError(message, param string) *Error {
	return &Error{
		Type:    ErrConfig,
		Message: message,
		Param:   param,
	}
}

// NewMediaError creates a media acquisition error.
func NewMediaError(message string, cause error) *Error {
	return &Error{
		Type:    ErrMedia,
		Message: message,
		Cause:   cause,
	}
}

// NewNetworkError creates a transient network error.
func NewNetworkError(message string, cause error) *Error {
	return &Error{
		Type:    ErrNetwork,
		Message: message,
		Cause:   cause,
	}
}

// NewAuthError creates an authentication error.
func NewAuthError(message string) *Error {
	return &Error{
		Type:    ErrAuth,
		Message: message,
	}
}

// NewProtocolError creates a protocol error with an optional offending param.
func NewProtocolError(message, param string) *Error {
	return &Error{
		Type:    ErrProtocol,
		Message: message,
		Param:   param,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string) *Error {
	return &Error{
		Type:    ErrRateLimit,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Type:    ErrInternal,
		Message: message,
		Cause:   cause,
	}
}

// WithCode attaches a machine-readable code and returns the error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// IsRetryable returns true if the error class is worth retrying.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrNetwork, ErrRateLimit:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying cause for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// TypeOf extracts the ErrorType of err, or "" when err is not a *Error.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// IsFatal reports whether err ends the current join attempt for good.
// Configuration, media and auth failures are not recoverable by retrying the
// same join; network drops are.
func IsFatal(err error) bool {
	switch TypeOf(err) {
	case ErrConfig, ErrMedia, ErrAuth:
		return true
	default:
		return false
	}
}
