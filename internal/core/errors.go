package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation  ErrorCategory = "validation"  // Invalid input
	ErrCatExecution   ErrorCategory = "execution"   // Subprocess or agent failure
	ErrCatAuth        ErrorCategory = "auth"        // Caller lacks the admin capability
	ErrCatForbidden   ErrorCategory = "forbidden"   // Refused by the active interceptor
	ErrCatNotFound    ErrorCategory = "not_found"   // Resource not found
	ErrCatUnavailable ErrorCategory = "unavailable" // Agent not attached
	ErrCatInternal    ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category: ErrCatAuth,
		Code:     CodeAdminRequired,
		Message:  message,
	}
}

// ErrForbidden creates an error for an operation the active interceptor refused.
func ErrForbidden(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatForbidden,
		Code:     code,
		Message:  message,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrUnavailable creates an error for an agent that is not attached.
func ErrUnavailable(agent string) *DomainError {
	return &DomainError{
		Category:  ErrCatUnavailable,
		Code:      CodeAgentNotRunning,
		Message:   fmt.Sprintf("%s is not running", agent),
		Retryable: true,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeAdminRequired    = "ADMIN_REQUIRED"
	CodeAgentNotRunning  = "AGENT_NOT_RUNNING"
	CodeAgentSpawnFailed = "AGENT_SPAWN_FAILED"
	CodeAgentDumpFailed  = "AGENT_DUMP_FAILED"
	CodeExecDenied       = "EXEC_DENIED"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeInvalidOptions   = "INVALID_OPTIONS"
	CodeRuntimeMissing   = "RUNTIME_NOT_FOUND"
)
