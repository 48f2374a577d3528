// Package errors provides structured error handling for Specup.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store and index errors
//   - 3XX: Upstream service errors (embedding, rerank, web augmentation)
//   - 4XX: Query validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates passage store and index errors.
	CategoryStore Category = "STORE"
	// CategoryUpstream indicates upstream service errors.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates query validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store and index errors (200-299)
	ErrCodeStoreNotFound  = "ERR_201_STORE_NOT_FOUND"
	ErrCodeStoreCorrupt   = "ERR_202_STORE_CORRUPT"
	ErrCodeIndexCorrupt   = "ERR_203_INDEX_CORRUPT"
	ErrCodeIndexBuild     = "ERR_204_INDEX_BUILD_FAILED"
	ErrCodePassageMissing = "ERR_205_PASSAGE_MISSING"

	// Upstream service errors (300-399)
	ErrCodeUpstreamTimeout     = "ERR_301_UPSTREAM_TIMEOUT"
	ErrCodeUpstreamUnavailable = "ERR_302_UPSTREAM_UNAVAILABLE"
	ErrCodeEmbeddingFailed     = "ERR_303_EMBEDDING_FAILED"
	ErrCodeRerankFailed        = "ERR_304_RERANK_FAILED"
	ErrCodeAugmentationFailed  = "ERR_305_AUGMENTATION_FAILED"

	// Query validation errors (400-499)
	ErrCodeInvalidQuery      = "ERR_401_INVALID_QUERY"
	ErrCodeQueryEmpty        = "ERR_402_QUERY_EMPTY"
	ErrCodeQueryTooLong      = "ERR_403_QUERY_TOO_LONG"
	ErrCodeDimensionMismatch = "ERR_404_DIMENSION_MISMATCH"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
	ErrCodeFusionFailed = "ERR_503_FUSION_FAILED"
)

// categoryFromCode extracts category from an error code's numeric range.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeIndexCorrupt, ErrCodeConfigInvalid:
		return SeverityFatal
	}

	// Retryable upstream errors degrade the answer instead of failing it.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeUpstreamTimeout, ErrCodeUpstreamUnavailable,
		ErrCodeEmbeddingFailed, ErrCodeRerankFailed, ErrCodeAugmentationFailed:
		return true
	default:
		return false
	}
}
