// Package mcp exposes the query engine over the Model Context Protocol so
// AI clients can retrieve evidence and manage the result cache.
package mcp

import (
	"context"
	"errors"
	"fmt"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

// MCP error codes.
const (
	ErrCodeCorpusMissing = -32001
	ErrCodeTimeout       = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var se *sibylerr.SibylError
	if errors.As(err, &se) {
		return mapSibylError(se)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// mapSibylError converts a SibylError to an MCPError.
func mapSibylError(se *sibylerr.SibylError) *MCPError {
	message := se.Message
	if se.Suggestion != "" {
		message = fmt.Sprintf("%s %s", se.Message, se.Suggestion)
	}

	switch se.Category {
	case sibylerr.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case sibylerr.CategoryStorage:
		return &MCPError{Code: ErrCodeCorpusMissing, Message: message}
	case sibylerr.CategoryBackend:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	default:
		if se.Code == sibylerr.ErrCodePipelineDeadline {
			return &MCPError{Code: ErrCodeTimeout, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
