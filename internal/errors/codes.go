// Package errors provides structured error handling for CoverQuery.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Coverage report errors
//   - 3XX: Index write-side errors
//   - 4XX: Query errors
//   - 5XX: Internal errors
package errors

// Kind classifies errors so callers can branch on category rather than
// message text.
type Kind string

const (
	// KindConfiguration indicates store connection parameters are missing
	// or the config file is invalid.
	KindConfiguration Kind = "CONFIGURATION"
	// KindMalformedReport indicates a coverage report could not be parsed.
	KindMalformedReport Kind = "MALFORMED_REPORT"
	// KindIndexCreation indicates the store rejected index creation.
	KindIndexCreation Kind = "INDEX_CREATION"
	// KindIndexWrite indicates the store rejected a write-side operation.
	KindIndexWrite Kind = "INDEX_WRITE"
	// KindBulkWrite indicates a bulk batch reported a partial or full failure.
	KindBulkWrite Kind = "BULK_WRITE"
	// KindQuery indicates the store rejected or could not be reached for a
	// read-side operation.
	KindQuery Kind = "QUERY"
	// KindInternal indicates an unexpected internal error.
	KindInternal Kind = "INTERNAL"
)

// Error codes organized by kind.
const (
	// Configuration errors (100-199)
	ErrCodeConfigNotFound        = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid         = "ERR_102_CONFIG_INVALID"
	ErrCodeStoreParamsIncomplete = "ERR_103_STORE_PARAMS_INCOMPLETE"

	// Report errors (200-299)
	ErrCodeReportMalformed = "ERR_201_REPORT_MALFORMED"
	ErrCodeReportMissing   = "ERR_202_REPORT_MISSING"
	ErrCodeRunMissing      = "ERR_203_RUN_MISSING"

	// Index write errors (300-399)
	ErrCodeIndexCreation = "ERR_301_INDEX_CREATION"
	ErrCodeIndexWrite    = "ERR_302_INDEX_WRITE"
	ErrCodeBulkWrite     = "ERR_303_BULK_WRITE"

	// Query errors (400-499)
	ErrCodeQueryFailed      = "ERR_401_QUERY_FAILED"
	ErrCodeStoreUnreachable = "ERR_402_STORE_UNREACHABLE"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// kindFromCode extracts the kind from an error code.
func kindFromCode(code string) Kind {
	switch code {
	case ErrCodeConfigNotFound, ErrCodeConfigInvalid, ErrCodeStoreParamsIncomplete:
		return KindConfiguration
	case ErrCodeReportMalformed, ErrCodeReportMissing, ErrCodeRunMissing:
		return KindMalformedReport
	case ErrCodeIndexCreation:
		return KindIndexCreation
	case ErrCodeIndexWrite:
		return KindIndexWrite
	case ErrCodeBulkWrite:
		return KindBulkWrite
	case ErrCodeQueryFailed, ErrCodeStoreUnreachable:
		return KindQuery
	default:
		return KindInternal
	}
}
