package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// AdapterError indicates a transport-level failure talking to a backend
	AdapterError ErrorCode = "ADAPTER_ERROR"
	// HTTPStatus indicates a non-2xx response from a backend
	HTTPStatus ErrorCode = "HTTP_STATUS"
	// MalformedResponse indicates a payload the adapter could not decode
	MalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	// DependencyTimeout indicates an upstream tile never reported in time
	DependencyTimeout ErrorCode = "DEPENDENCY_TIMEOUT"
	// DependencyFailed indicates an upstream tile reported an error
	DependencyFailed ErrorCode = "DEPENDENCY_FAILED"
	// ArgsMapping indicates request arguments could not be built from state
	ArgsMapping ErrorCode = "ARGS_MAPPING"
	// ConfigInvalid indicates a configuration problem
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// NotFound indicates an unknown tile, vendor or resource
	NotFound ErrorCode = "NOT_FOUND"
	// RateLimited indicates the local limiter refused to wait any longer
	RateLimited ErrorCode = "RATE_LIMITED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// MsgMissingDependency is shown in place of the raw upstream error.
const MsgMissingDependency = "failed to obtain required data"

// WagError represents a WaG error with a stable code
type WagError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	TileID  int         `json:"tileId,omitempty"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new WagError
func New(code ErrorCode, message string, cause error) *WagError {
	return &WagError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Newf creates a WagError with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *WagError {
	return &WagError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface
func (e *WagError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *WagError) Unwrap() error {
	return e.cause
}

// ForTile records the tile the error belongs to.
func (e *WagError) ForTile(tileID int) *WagError {
	e.TileID = tileID
	return e
}

// WithDetails adds details to the error
func (e *WagError) WithDetails(details interface{}) *WagError {
	e.Details = details
	return e
}

// Code extracts the error code of err, InternalError if err carries none.
func Code(err error) ErrorCode {
	var we *WagError
	if stderrors.As(err, &we) {
		return we.Code
	}
	return InternalError
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return Code(err) == code
}

// UserMessage returns the text a tile shows in place of its data. Upstream
// failures are not echoed verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var we *WagError
	if stderrors.As(err, &we) {
		if we.Code == DependencyFailed {
			return MsgMissingDependency
		}
		return we.Message
	}
	return err.Error()
}
