// Package toolerr defines the error taxonomy shared by the registry, gateway,
// session manager, dispatcher and transport.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the wire and for HTTP status mapping.
type Kind string

const (
	KindUnknownTool      Kind = "UnknownTool"
	KindDuplicateTool    Kind = "DuplicateTool"
	KindInvalidArguments Kind = "InvalidArguments"
	KindSessionNotFound  Kind = "SessionNotFound"
	KindSessionClosed    Kind = "SessionClosed"
	KindUnreachable      Kind = "Unreachable"
	KindTimeout          Kind = "Timeout"
	KindBackendError     Kind = "BackendError"
	KindProtocolError    Kind = "ProtocolError"
	KindToolError        Kind = "ToolError"
)

// Error is a classified failure. Field names the offending argument for
// InvalidArguments; Code carries the backend status for BackendError.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Code    int
	Err     error
}

// Sentinels for errors.Is checks. Matching is by Kind only.
var (
	ErrUnknownTool      = &Error{Kind: KindUnknownTool, Message: "unknown tool"}
	ErrDuplicateTool    = &Error{Kind: KindDuplicateTool, Message: "tool already registered"}
	ErrInvalidArguments = &Error{Kind: KindInvalidArguments, Message: "invalid arguments"}
	ErrSessionNotFound  = &Error{Kind: KindSessionNotFound, Message: "session not found"}
	ErrSessionClosed    = &Error{Kind: KindSessionClosed, Message: "session closed"}
	ErrUnreachable      = &Error{Kind: KindUnreachable, Message: "backend unreachable"}
	ErrTimeout          = &Error{Kind: KindTimeout, Message: "backend call timed out"}
	ErrBackendError     = &Error{Kind: KindBackendError, Message: "backend error"}
	ErrProtocolError    = &Error{Kind: KindProtocolError, Message: "protocol error"}
	ErrToolError        = &Error{Kind: KindToolError, Message: "tool failed"}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Kind == KindBackendError && e.Code != 0:
		msg = fmt.Sprintf("%s: status %d: %s", e.Kind, e.Code, msg)
	case e.Field != "":
		msg = fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, msg)
	default:
		msg = fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// InvalidArgument reports a bad or missing parameter.
func InvalidArgument(field, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArguments, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Backend reports a non-success backend response.
func Backend(code int, message string) *Error {
	return &Error{Kind: KindBackendError, Code: code, Message: message}
}

// As extracts an *Error from err. Unclassified errors become ToolError.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: KindToolError, Message: err.Error(), Err: err}
}

// KindOf returns the Kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}
