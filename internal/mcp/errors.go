// Package mcp implements the Model Context Protocol server exposing the
// coverage index to AI clients.
package mcp

import (
	"errors"
	"fmt"

	cqerrors "github.com/coverquery/coverquery/internal/errors"
)

// Custom MCP error codes for CoverQuery.
const (
	// ErrCodeStoreUnavailable indicates the document store cannot be reached.
	ErrCodeStoreUnavailable = -32001

	// ErrCodeRunFailed indicates a coverage run could not be executed.
	ErrCodeRunFailed = -32002

	// ErrCodeIndexWriteFailed indicates the index could not be written.
	ErrCodeIndexWriteFailed = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-params MCP error.
func NewInvalidParamsError(message string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: message}
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var covErr *cqerrors.CoverError
	if errors.As(err, &covErr) {
		return mapCoverError(covErr)
	}

	return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
}

func mapCoverError(err *cqerrors.CoverError) *MCPError {
	switch err.Kind {
	case cqerrors.KindConfiguration:
		return &MCPError{Code: ErrCodeInvalidParams, Message: err.Error()}
	case cqerrors.KindMalformedReport:
		return &MCPError{Code: ErrCodeRunFailed, Message: err.Error()}
	case cqerrors.KindIndexCreation, cqerrors.KindIndexWrite, cqerrors.KindBulkWrite:
		return &MCPError{Code: ErrCodeIndexWriteFailed, Message: err.Error()}
	case cqerrors.KindQuery:
		if err.Code == cqerrors.ErrCodeStoreUnreachable {
			return &MCPError{Code: ErrCodeStoreUnavailable, Message: err.Error()}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
}
