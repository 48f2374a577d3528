package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel errors for degraded retrieval paths. Callers match these with
// errors.Is and convert them into degraded-mode flags on the result set
// instead of failing the query.
var (
	// ErrRetrievalUnavailable means an internal retrieval origin could not
	// produce candidates.
	ErrRetrievalUnavailable = stderrors.New("retrieval origin unavailable")

	// ErrRerankUnavailable means the reranking model could not score the
	// pooled candidates.
	ErrRerankUnavailable = stderrors.New("reranker unavailable")

	// ErrAugmentationTimeout means the web augmentation call did not
	// complete within its budget.
	ErrAugmentationTimeout = stderrors.New("web augmentation timed out")

	// ErrPassageNotFound means a passage ID is unknown to the store.
	ErrPassageNotFound = stderrors.New("passage not found")
)

// SpecupError is the structured error type for Specup.
// It carries a stable code, category, and severity for logging and
// circuit-breaker decisions.
type SpecupError struct {
	// Code is the unique error code (e.g., "ERR_304_RERANK_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Upstream, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *SpecupError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SpecupError) Unwrap() error {
	return e.Cause
}

// Is matches SpecupErrors by code, so errors.Is works across wrap layers.
func (e *SpecupError) Is(target error) bool {
	if t, ok := target.(*SpecupError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *SpecupError) WithDetail(key, value string) *SpecupError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *SpecupError) WithSuggestion(suggestion string) *SpecupError {
	e.Suggestion = suggestion
	return e
}

// New creates a SpecupError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SpecupError {
	return &SpecupError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SpecupError from an existing error.
func Wrap(code string, err error) *SpecupError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error. Config errors are
// fatal: a misconfigured pipeline must refuse to start.
func ConfigError(message string, cause error) *SpecupError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates a passage store or index error.
func StoreError(message string, cause error) *SpecupError {
	return New(ErrCodeIndexBuild, message, cause)
}

// UpstreamError creates an upstream service error. Upstream errors are
// retryable and degrade the result instead of failing the query.
func UpstreamError(message string, cause error) *SpecupError {
	return New(ErrCodeUpstreamUnavailable, message, cause)
}

// ValidationError creates a query validation error.
func ValidationError(message string, cause error) *SpecupError {
	return New(ErrCodeInvalidQuery, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *SpecupError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var se *SpecupError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var se *SpecupError
	if stderrors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a SpecupError.
// Returns empty string for plain errors.
func GetCode(err error) string {
	var se *SpecupError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a SpecupError.
func GetCategory(err error) Category {
	var se *SpecupError
	if stderrors.As(err, &se) {
		return se.Category
	}
	return ""
}
