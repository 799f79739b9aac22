package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
)

// ErrorCode represents standard API error codes.
type ErrorCode string

const (
	// ErrCodeInvalidRequest indicates malformed or invalid request data.
	ErrCodeInvalidRequest ErrorCode = "invalid_request"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"

	// ErrCodeConflict indicates a resource conflict (e.g., duplicate name).
	ErrCodeConflict ErrorCode = "conflict"

	// ErrCodeInternalError indicates an internal server error.
	ErrCodeInternalError ErrorCode = "internal_error"

	// ErrCodeValidationFailed indicates configuration validation failed.
	ErrCodeValidationFailed ErrorCode = "validation_failed"

	// ErrCodeServiceError indicates a service operation failed.
	ErrCodeServiceError ErrorCode = "service_error"

	// ErrCodeForbidden indicates the client is not allowed to use the API.
	ErrCodeForbidden ErrorCode = "forbidden"

	// ErrCodeUnavailable indicates the requested component is not running.
	ErrCodeUnavailable ErrorCode = "unavailable"
)

// APIError represents a structured API error response.
type APIError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps an APIError for JSON responses.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// NewAPIError creates a new APIError with the given code and message.
func NewAPIError(code ErrorCode, message string) APIError {
	return APIError{
		Code:    code,
		Message: message,
		Details: nil,
	}
}

// WithDetails adds details to an APIError.
func (e APIError) WithDetails(details map[string]interface{}) APIError {
	e.Details = details
	return e
}

// WriteError writes an error response to the HTTP response writer.
func WriteError(w http.ResponseWriter, statusCode int, err APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// WriteInvalidRequest writes a 400 Bad Request error.
func WriteInvalidRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, NewAPIError(ErrCodeInvalidRequest, message))
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, resource string) {
	WriteError(w, http.StatusNotFound, NewAPIError(ErrCodeNotFound, resource+" not found"))
}

// WriteInternalError writes a 500 Internal Server Error.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, NewAPIError(ErrCodeInternalError, message))
}

// WriteValidationError writes a 400 Bad Request with validation details.
func WriteValidationError(w http.ResponseWriter, message string, details map[string]interface{}) {
	err := NewAPIError(ErrCodeValidationFailed, message).WithDetails(details)
	WriteError(w, http.StatusBadRequest, err)
}

// WriteServiceError writes a 500 Internal Server Error for service failures.
func WriteServiceError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, NewAPIError(ErrCodeServiceError, message))
}

// WriteForbidden writes a 403 Forbidden error.
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, NewAPIError(ErrCodeForbidden, message))
}

// WriteUnavailable writes a 503 Service Unavailable error.
func WriteUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, NewAPIError(ErrCodeUnavailable, message))
}

// WriteDomainError maps a service error to a status code by its error code.
// The domain code is reported in details.
func WriteDomainError(w http.ResponseWriter, err error) {
	var domainErr *errors.Error
	if !stderrors.As(err, &domainErr) {
		WriteServiceError(w, err.Error())
		return
	}

	details := map[string]interface{}{"code": string(domainErr.Code)}
	switch domainErr.Code {
	case errors.ErrCodeState:
		WriteError(w, http.StatusConflict, NewAPIError(ErrCodeConflict, err.Error()).WithDetails(details))
	case errors.ErrCodeConfig, errors.ErrCodeParse, errors.ErrCodeValidation:
		WriteError(w, http.StatusBadRequest, NewAPIError(ErrCodeValidationFailed, err.Error()).WithDetails(details))
	default:
		WriteError(w, http.StatusInternalServerError, NewAPIError(ErrCodeServiceError, err.Error()).WithDetails(details))
	}
}
