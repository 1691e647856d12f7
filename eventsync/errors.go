package eventsync

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	// Protocol Errors (from server error responses)
	ErrorUnknown ErrorCode = iota
	ErrorUnsupportedVersion
	ErrorUnauthorized
	ErrorInvalidMessage
	ErrorBadRequest
	ErrorRoomNotFound
	ErrorAccessDenied
	ErrorRateLimited
	ErrorInternalServer

	// Client-side Errors
	ErrorTransport
	ErrorAuth
	ErrorRoomOperation
	ErrorMutation
	ErrorCacheLoad
	ErrorTimeout
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorSerialization
)

// codeNames holds the wire name of every code. Protocol codes are what the
// server sends in error envelopes; client codes never cross the wire.
var codeNames = map[ErrorCode]string{
	ErrorUnknown:            "unknown",
	ErrorUnsupportedVersion: "unsupported_version",
	ErrorUnauthorized:       "unauthorized",
	ErrorInvalidMessage:     "invalid_message",
	ErrorBadRequest:         "bad_request",
	ErrorRoomNotFound:       "room_not_found",
	ErrorAccessDenied:       "access_denied",
	ErrorRateLimited:        "rate_limited",
	ErrorInternalServer:     "internal_error",

	ErrorTransport:     "transport_error",
	ErrorAuth:          "auth_error",
	ErrorRoomOperation: "room_operation_error",
	ErrorMutation:      "mutation_error",
	ErrorCacheLoad:     "cache_load_error",
	ErrorTimeout:       "timeout",
	ErrorInvalidConfig: "invalid_config",
	ErrorNotConnected:  "not_connected",
	ErrorSerialization: "serialization_error",
}

func (e ErrorCode) String() string {
	if name, ok := codeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("unknown_code_%d", e)
}

func (e ErrorCode) isProtocol() bool {
	return e >= ErrorUnsupportedVersion && e <= ErrorInternalServer
}

// ParseErrorCode maps a server error code to an ErrorCode. Unrecognized
// codes, and client-only names, map to ErrorUnknown.
func ParseErrorCode(code string) ErrorCode {
	for c, name := range codeNames {
		if name == code && c.isProtocol() {
			return c
		}
	}
	return ErrorUnknown
}

// SyncError is a structured error with code and context.
type SyncError struct {
	Code    ErrorCode
	Message string
	RoomID  string // set for room operation errors
	Wrapped error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := e.Message
	if e.RoomID != "" {
		msg = fmt.Sprintf("%s (room %s)", msg, e.RoomID)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, msg, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *SyncError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new SyncError with the given code and message.
func NewError(code ErrorCode, message string) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a SyncError.
func WrapError(code ErrorCode, message string, err error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// FromProtocolError converts a protocol error payload to SyncError.
func FromProtocolError(e *ErrorPayload) *SyncError {
	if e == nil {
		return nil
	}
	return &SyncError{
		Code:    ParseErrorCode(e.Code),
		Message: e.Message,
		RoomID:  e.RoomID,
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrTransport     = NewError(ErrorTransport, "transport")
	ErrAuth          = NewError(ErrorAuth, "re-authentication required")
	ErrRoomOperation = NewError(ErrorRoomOperation, "room operation")
	ErrMutation      = NewError(ErrorMutation, "mutation")
	ErrCacheLoad     = NewError(ErrorCacheLoad, "cache load")
	ErrNotConnected  = NewError(ErrorNotConnected, "not connected")
)

func codeOf(err error) (ErrorCode, bool) {
	var se *SyncError
	if !errors.As(err, &se) {
		return ErrorUnknown, false
	}
	return se.Code, true
}

// IsProtocolError reports whether err carries a code the server sent.
func IsProtocolError(err error) bool {
	code, ok := codeOf(err)
	return ok && code.isProtocol()
}

// IsAuthError reports whether err requires re-authentication.
func IsAuthError(err error) bool {
	code, ok := codeOf(err)
	return ok && (code == ErrorAuth || code == ErrorUnauthorized)
}

// IsTransportError checks if an error is a connection-related error.
func IsTransportError(err error) bool {
	code, ok := codeOf(err)
	return ok && (code == ErrorTransport || code == ErrorTimeout || code == ErrorNotConnected)
}

// IsRetryable reports whether the caller may retry the failed operation.
// Auth failures never are.
func IsRetryable(err error) bool {
	code, ok := codeOf(err)
	if !ok {
		return false
	}
	switch code {
	case ErrorTransport, ErrorTimeout, ErrorNotConnected, ErrorCacheLoad, ErrorRateLimited, ErrorMutation:
		return true
	default:
		return false
	}
}
