package client

import (
	"errors"
	"fmt"
)

// Code categorizes SDK errors. Server-side codes mirror the gateway's
// structured ack errors; the rest are produced locally.
type Code string

const (
	// From the server.
	CodeUnauthorized   Code = "unauthorized"
	CodeAccessDenied   Code = "access_denied"
	CodeNotFound       Code = "not_found"
	CodeInvalidMessage Code = "invalid_message"
	CodeInternal       Code = "internal_error"

	// Client-side.
	CodeConnection   Code = "connection_error"
	CodeTimeout      Code = "timeout"
	CodeNotConnected Code = "not_connected"
	CodeNetwork      Code = "network_error"
)

// Error is the structured error returned by every SDK operation.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func fromFrameError(fe *frameError) *Error {
	if fe == nil {
		return &Error{Code: CodeInternal, Message: "request failed"}
	}
	return &Error{Code: Code(fe.Code), Message: fe.Message}
}

// IsRecoverable reports whether the operation failed without affecting the
// connection: denied joins and sends fall here, connection loss does not.
func IsRecoverable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case CodeAccessDenied, CodeNotFound, CodeInvalidMessage:
		return true
	default:
		return false
	}
}
