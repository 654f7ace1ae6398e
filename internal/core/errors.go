package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or configuration
	ErrCatExecution  ErrorCategory = "execution"  // Backend failed to produce a result
	ErrCatTimeout    ErrorCategory = "timeout"    // Deadline exceeded
	ErrCatRateLimit  ErrorCategory = "rate_limit" // Quota exhausted
	ErrCatSchema     ErrorCategory = "schema"     // Backend output did not match the result schema
	ErrCatStorage    ErrorCategory = "storage"    // Cache or delivery store I/O
	ErrCatAuth       ErrorCategory = "auth"       // Missing or rejected credential
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
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
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates an execution error. Execution errors are transient:
// the selector falls through to the next candidate.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeTimeout,
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      CodeRateLimited,
		Message:   message,
		Retryable: true,
	}
}

// ErrSchema creates an error for backend output that failed validation.
func ErrSchema(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatSchema,
		Code:      CodeMalformedOutput,
		Message:   message,
		Retryable: true,
	}
}

// ErrStorage creates a storage error.
func ErrStorage(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatStorage,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
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
	CodeTimeout     = "TIMEOUT"
	CodeRateLimited = "RATE_LIMITED"

	// Validation error codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeInvalidEvent  = "INVALID_EVENT"
	CodeInvalidKey    = "INVALID_EVENT_KEY"
	CodeDAGCycle      = "DAG_CYCLE"
	CodeUnknownStage  = "UNKNOWN_STAGE"
	CodeNoCandidates  = "NO_CANDIDATES"
	CodeBadSignature  = "BAD_SIGNATURE"

	// Execution error codes
	CodeBackendFailed       = "BACKEND_FAILED"
	CodeBackendPanic        = "BACKEND_PANIC"
	CodeBackendUnconfigured = "BACKEND_UNCONFIGURED"
	CodeChainExhausted      = "CHAIN_EXHAUSTED"
	CodeMalformedOutput     = "MALFORMED_OUTPUT"
	CodeDeliveryFailed      = "DELIVERY_FAILED"
	CodeGitHubFailed        = "GITHUB_FAILED"

	// Storage error codes
	CodeStoreOpen  = "STORE_OPEN"
	CodeStoreRead  = "STORE_READ"
	CodeStoreWrite = "STORE_WRITE"
)
