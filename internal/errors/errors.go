package errors

import (
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Authorization errors (403xx)
	ErrAccessDenied ErrorCode = "40301"

	// Resource errors (404xx)
	ErrSessionNotFound ErrorCode = "40401"

	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"
	ErrFileTooLarge     ErrorCode = "40003"
	ErrTooManyFiles     ErrorCode = "40004"
	ErrSessionNotReady  ErrorCode = "40901"

	// Capacity errors (503xx)
	ErrQueueFull ErrorCode = "50302"

	// Server errors (500xx)
	ErrInternalServer    ErrorCode = "50001"
	ErrSearchUnavailable ErrorCode = "50301"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

// Common errors
var (
	ErrAccessDeniedError = &APIError{
		Code:       ErrAccessDenied,
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrSessionNotFoundError = &APIError{
		Code:       ErrSessionNotFound,
		Message:    "Session not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrSessionNotReadyError = &APIError{
		Code:       ErrSessionNotReady,
		Message:    "Session is not ready for processing",
		HTTPStatus: http.StatusConflict,
	}

	ErrQueueFullError = &APIError{
		Code:       ErrQueueFull,
		Message:    "Processing queue is full, retry later",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrSearchUnavailableError = &APIError{
		Code:       ErrSearchUnavailable,
		Message:    "Similarity search is unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewFileTooLargeError creates an error for an over-limit upload
func NewFileTooLargeError(name string, maxBytes int64) *APIError {
	return &APIError{
		Code:       ErrFileTooLarge,
		Message:    "File exceeds the maximum allowed size",
		Details:    map[string]any{"file": name, "max_bytes": maxBytes},
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}
}

// NewTooManyFilesError creates an error for an over-limit batch
func NewTooManyFilesError(maxFiles int) *APIError {
	return &APIError{
		Code:       ErrTooManyFiles,
		Message:    "Too many files in one upload batch",
		Details:    map[string]any{"max_files": maxFiles},
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}
}
