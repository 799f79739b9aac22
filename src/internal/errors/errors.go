// Package errors provides domain-specific error types for hosts-redirect.
//
// Errors carry a code so that callers can branch on the failure category
// (a capture failure is fatal to start, a parse failure only skips a line)
// with errors.Is instead of matching strings.
package errors

import "fmt"

// ErrorCode represents a category of error that can occur in the application.
type ErrorCode string

const (
	// ErrCodeConfig indicates a configuration-related error.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"

	// ErrCodeParse indicates a malformed rule line or rule source.
	ErrCodeParse ErrorCode = "PARSE_ERROR"

	// ErrCodeCapture indicates the interception handle could not be acquired or released.
	ErrCodeCapture ErrorCode = "CAPTURE_ERROR"

	// ErrCodeRoute indicates a session could not be routed to its target.
	ErrCodeRoute ErrorCode = "ROUTE_ERROR"

	// ErrCodeState indicates an operation was requested in the wrong lifecycle state.
	ErrCodeState ErrorCode = "STATE_ERROR"

	// ErrCodeValidation indicates a validation error.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Sentinel values usable as errors.Is targets.
var (
	ErrConfig     = New(ErrCodeConfig, "configuration error")
	ErrParse      = New(ErrCodeParse, "parse error")
	ErrCapture    = New(ErrCodeCapture, "capture error")
	ErrRoute      = New(ErrCodeRoute, "route error")
	ErrState      = New(ErrCodeState, "invalid state")
	ErrValidation = New(ErrCodeValidation, "validation error")
)

// Error represents a domain-specific error with an error code and optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new domain error with the specified code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, cause error) *Error {
	return Wrap(ErrCodeConfig, message, cause)
}

// NewParseError creates a new rule parsing error.
func NewParseError(message string, cause error) *Error {
	return Wrap(ErrCodeParse, message, cause)
}

// NewCaptureError creates a new capture handle error.
func NewCaptureError(message string, cause error) *Error {
	return Wrap(ErrCodeCapture, message, cause)
}

// NewRouteError creates a new session routing error.
func NewRouteError(message string, cause error) *Error {
	return Wrap(ErrCodeRoute, message, cause)
}

// NewStateError creates a new lifecycle state error.
func NewStateError(message string) *Error {
	return New(ErrCodeState, message)
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, cause error) *Error {
	return Wrap(ErrCodeValidation, message, cause)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCodeInternal, message, cause)
}
