package errors

import (
	"errors"
	"fmt"
)

// CoverError is the structured error type for CoverQuery.
// Callers branch on Kind, not on message text.
type CoverError struct {
	// Code is the unique error code (e.g., "ERR_303_BULK_WRITE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is the error category (Configuration, MalformedReport, ...).
	Kind Kind

	// StatusCode is the HTTP status reported by the store, when the error
	// originated from a store response. Zero otherwise.
	StatusCode int

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error
}

// Error implements the error interface.
func (e *CoverError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CoverError) Unwrap() error {
	return e.Cause
}

// Is matches by code, enabling errors.Is with CoverError targets.
func (e *CoverError) Is(target error) bool {
	if t, ok := target.(*CoverError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CoverError) WithDetail(key, value string) *CoverError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithStatus records the HTTP status the store responded with.
// Returns the error for method chaining.
func (e *CoverError) WithStatus(status int) *CoverError {
	e.StatusCode = status
	return e
}

// New creates a new CoverError with the given code and message.
// The kind is derived from the code.
func New(code string, message string, cause error) *CoverError {
	return &CoverError{
		Code:    code,
		Message: message,
		Kind:    kindFromCode(code),
		Cause:   cause,
	}
}

// Wrap creates a CoverError from an existing error.
// The error's message becomes the CoverError message.
func Wrap(code string, err error) *CoverError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// MalformedReport creates a report-parsing error.
func MalformedReport(message string, cause error) *CoverError {
	return New(ErrCodeReportMalformed, message, cause)
}

// IndexCreation creates an index-creation error.
func IndexCreation(message string, cause error) *CoverError {
	return New(ErrCodeIndexCreation, message, cause)
}

// IndexWrite creates a write-side store error.
func IndexWrite(message string, cause error) *CoverError {
	return New(ErrCodeIndexWrite, message, cause)
}

// BulkWrite creates a bulk-batch failure error.
func BulkWrite(message string, cause error) *CoverError {
	return New(ErrCodeBulkWrite, message, cause)
}

// Query creates a read-side store error.
func Query(message string, cause error) *CoverError {
	return New(ErrCodeQueryFailed, message, cause)
}

// Configuration creates a configuration error.
func Configuration(message string, cause error) *CoverError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IsKind reports whether err (or anything it wraps) is a CoverError of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var ce *CoverError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code string) bool {
	var ce *CoverError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// GetKind extracts the kind from a CoverError chain.
// Returns KindInternal for non-CoverError values.
func GetKind(err error) Kind {
	var ce *CoverError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// GetStatus extracts the store status code from a CoverError chain.
// Returns zero when no status was recorded.
func GetStatus(err error) int {
	var ce *CoverError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}
