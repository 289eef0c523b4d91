package errors

import (
	"fmt"
)

// SibylError is the structured error type for Sibyl.
// It provides rich context for error handling, logging, and degradation
// decisions in the query pipeline.
type SibylError struct {
	// Code is the unique error code (e.g., "ERR_301_INDEX_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Backend, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *SibylError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SibylError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with SibylError.
func (e *SibylError) Is(target error) bool {
	if t, ok := target.(*SibylError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *SibylError) WithDetail(key, value string) *SibylError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
func (e *SibylError) WithSuggestion(suggestion string) *SibylError {
	e.Suggestion = suggestion
	return e
}

// New creates a new SibylError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SibylError {
	return &SibylError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SibylError from an existing error.
// The error's message becomes the SibylError message.
func Wrap(code string, err error) *SibylError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a fatal configuration error.
func ConfigError(message string, cause error) *SibylError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IndexUnavailable creates a transient adapter error for a named index source.
func IndexUnavailable(source string, cause error) *SibylError {
	e := New(ErrCodeIndexUnavailable, fmt.Sprintf("%s index unavailable", source), cause)
	return e.WithDetail("source", source)
}

// RerankUnavailable creates a transient reranker error.
func RerankUnavailable(cause error) *SibylError {
	return New(ErrCodeRerankUnavailable, "reranker unavailable", cause)
}

// CacheBackend creates a transient cache backend error.
// Cache failures are an optimization loss, never a query failure.
func CacheBackend(cause error) *SibylError {
	return New(ErrCodeCacheBackend, "cache backend error", cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*SibylError); ok {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort startup; they are never absorbed into degraded mode.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*SibylError); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a SibylError.
// Returns empty string if not a SibylError.
func GetCode(err error) string {
	if se, ok := err.(*SibylError); ok {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a SibylError.
func GetCategory(err error) Category {
	if se, ok := err.(*SibylError); ok {
		return se.Category
	}
	return ""
}
