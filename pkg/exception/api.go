package exception

import (
	"fmt"
	"net/http"
)

// APIError is raised when the server answered with a non-2xx status and an
// error envelope (or a synthesized one when the body could not be parsed).
type APIError struct {
	Message     string
	StatusCode  int
	ErrorCode   string
	Detail      string
	FieldErrors map[string][]string
}

func NewAPIError(message string, statusCode int, errorCode string) *APIError {
	return &APIError{
		Message:    message,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
	}
}

// SynthesizeAPIError builds an APIError keyed on the HTTP status text for
// responses whose error envelope could not be parsed.
func SynthesizeAPIError(statusCode int) *APIError {
	text := http.StatusText(statusCode)
	if text == "" {
		text = "unknown error"
	}
	return &APIError{
		Message:    text,
		StatusCode: statusCode,
		ErrorCode:  "http_error",
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
}

// IsValidation reports whether the failure was a request validation error.
func (e *APIError) IsValidation() bool {
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
}

// IsAuth reports whether the request lacked valid credentials.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsForbidden reports whether the server refused the request outright.
func (e *APIError) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

// IsNotFound reports whether the target resource does not exist.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsServer reports whether the failure originated server-side.
func (e *APIError) IsServer() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// IsRetryable reports whether the status indicates a transient condition
// worth retrying: 429, 503 or any 5xx.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusServiceUnavailable ||
		e.StatusCode >= http.StatusInternalServerError
}
