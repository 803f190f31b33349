package api

import (
	"encoding/json"
	"net/http"
)

// ErrorCode represents standard API error codes.
type ErrorCode string

const (
	// ErrCodeInvalidRequest indicates a malformed request body.
	ErrCodeInvalidRequest ErrorCode = "invalid_request"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"

	// ErrCodeValidationFailed indicates a well-formed request with invalid values.
	ErrCodeValidationFailed ErrorCode = "validation_failed"

	// ErrCodeInternalError indicates an internal server error.
	ErrCodeInternalError ErrorCode = "internal_error"

	// ErrCodeBackendError indicates the resolver backend could not be queried.
	ErrCodeBackendError ErrorCode = "backend_error"

	// ErrCodeOverloaded indicates an event feed was full.
	ErrCodeOverloaded ErrorCode = "overloaded"
)

// APIError represents a structured API error response.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

// ErrorResponse wraps an APIError for JSON responses.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// WriteError writes an error response to the HTTP response writer.
func WriteError(w http.ResponseWriter, statusCode int, err APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// WriteInvalidRequest writes a 400 Bad Request error.
func WriteInvalidRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, APIError{Code: ErrCodeInvalidRequest, Message: message})
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, resource string) {
	WriteError(w, http.StatusNotFound, APIError{Code: ErrCodeNotFound, Message: resource + " not found"})
}

// WriteFieldError writes a 422 Unprocessable Entity naming the offending field.
func WriteFieldError(w http.ResponseWriter, field, message string) {
	WriteError(w, http.StatusUnprocessableEntity, APIError{
		Code:    ErrCodeValidationFailed,
		Message: message,
		Field:   field,
	})
}

// WriteInternalError writes a 500 Internal Server Error.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, APIError{Code: ErrCodeInternalError, Message: message})
}

// WriteBackendError writes a 502 Bad Gateway for a failed backend query.
func WriteBackendError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, APIError{Code: ErrCodeBackendError, Message: message})
}

// WriteOverloaded writes a 503 Service Unavailable for a dropped event.
func WriteOverloaded(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, APIError{Code: ErrCodeOverloaded, Message: message})
}
