// Package errors provides structured error handling for Sibyl.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (fatal, startup-time)
//   - 2XX: Corpus and storage errors
//   - 3XX: Transient backend errors (index, reranker, cache)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates corpus and index storage errors.
	CategoryStorage Category = "STORAGE"
	// CategoryBackend indicates transient external-backend errors.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation errors.
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
	// Config errors (100-199). All fatal at startup.
	ErrCodeConfigInvalid     = "ERR_101_CONFIG_INVALID"
	ErrCodeWeightSum         = "ERR_102_WEIGHT_SUM"
	ErrCodeDimensionMismatch = "ERR_103_DIMENSION_MISMATCH"

	// Corpus/storage errors (200-299)
	ErrCodeCorpusUnavailable = "ERR_201_CORPUS_UNAVAILABLE"
	ErrCodeCorruptIndex      = "ERR_202_CORRUPT_INDEX"
	ErrCodeSnapshotMissing   = "ERR_203_SNAPSHOT_MISSING"

	// Transient backend errors (300-399). These trigger degraded mode.
	ErrCodeIndexUnavailable  = "ERR_301_INDEX_UNAVAILABLE"
	ErrCodeRerankUnavailable = "ERR_302_RERANK_UNAVAILABLE"
	ErrCodeCacheBackend      = "ERR_303_CACHE_BACKEND"
	ErrCodeEmbedUnavailable  = "ERR_304_EMBED_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidQuery = "ERR_401_INVALID_QUERY"
	ErrCodeQueryEmpty   = "ERR_402_QUERY_EMPTY"
	ErrCodeInvalidTopK  = "ERR_403_INVALID_TOPK"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodePipelineDeadline = "ERR_502_PIPELINE_DEADLINE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryBackend:
		// Transient backend failures degrade the response, they do not fail it.
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIndexUnavailable, ErrCodeRerankUnavailable,
		ErrCodeCacheBackend, ErrCodeEmbedUnavailable:
		return true
	}
	return false
}
