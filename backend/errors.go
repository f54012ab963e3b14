package backend

import (
	"errors"
	"fmt"
)

// BackendError represents a failed call against the remote project API.
// It carries the HTTP status code, the operation and the affected project.
type BackendError struct {
	Operation  string // e.g., "CreateProject", "GetProject"
	StatusCode int    // HTTP status code (0 if not an HTTP error)
	Message    string // Human-readable error message
	ProjectID  string // Optional: affected project id
	Body       string // Optional: response body for debugging
	Err        error  // Optional: underlying error
}

// Error implements the error interface
func (e *BackendError) Error() string {
	target := ""
	if e.ProjectID != "" {
		target = fmt.Sprintf(" (project %s)", e.ProjectID)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed with status %d%s: %s", e.Operation, e.StatusCode, target, e.Message)
	}
	return fmt.Sprintf("%s failed%s: %s", e.Operation, target, e.Message)
}

// Unwrap returns the underlying error for error wrapping
func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error is a 404 Not Found
func (e *BackendError) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsUnauthorized returns true if the error is a 401 Unauthorized or 403 Forbidden
func (e *BackendError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsServerError returns true if the error is a 5xx server error
func (e *BackendError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NewBackendError creates a new BackendError
func NewBackendError(operation string, statusCode int, message string) *BackendError {
	return &BackendError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
	}
}

// WithProjectID adds the project id to the error for context
func (e *BackendError) WithProjectID(id string) *BackendError {
	e.ProjectID = id
	return e
}

// WithBody adds the response body to the error for debugging
func (e *BackendError) WithBody(body string) *BackendError {
	e.Body = body
	return e
}

// WithError wraps an underlying error
func (e *BackendError) WithError(err error) *BackendError {
	e.Err = err
	return e
}

// IsNotFound reports whether err (or anything it wraps) is a 404 from the remote API
func IsNotFound(err error) bool {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.IsNotFound()
	}
	return false
}
