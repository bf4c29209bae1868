package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Taxonomy
// --------------------------------------------------------------------------

// ErrorKind classifies every error the engine can surface to a caller.
type ErrorKind uint8

const (
	// KindUnknown is the zero value and never produced by the engine.
	KindUnknown ErrorKind = iota

	// KindProtocol marks a malformed wire frame. Fatal for the connection
	// that produced it: the stream cannot be resynchronized.
	KindProtocol

	// KindConnectionLost marks a transport failure. Recoverable via the
	// reconnection manager; surfaced to in-flight callers whose requests
	// are not retried.
	KindConnectionLost

	// KindRouting marks a command for which no slot owner is known.
	KindRouting

	// KindClusterState marks a discovery run that could not produce a
	// complete slot partition.
	KindClusterState

	// KindTimeout marks a command that exceeded its deadline. The server
	// may still have applied it.
	KindTimeout

	// KindRetriesExhausted wraps the last underlying error after the
	// retry policy has been used up.
	KindRetriesExhausted

	// KindCanceled marks a command abandoned during shutdown.
	KindCanceled

	// KindServer marks an error reply sent by the server itself
	// (e.g. WRONGTYPE, NOAUTH).
	KindServer
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol error"
	case KindConnectionLost:
		return "connection lost"
	case KindRouting:
		return "routing error"
	case KindClusterState:
		return "cluster state error"
	case KindTimeout:
		return "timeout"
	case KindRetriesExhausted:
		return "retries exhausted"
	case KindCanceled:
		return "canceled"
	case KindServer:
		return "server error"
	default:
		return "unknown error"
	}
}

// Error is the typed error produced by the engine. It carries the kind, an
// optional originating server and an optional wrapped cause.
type Error struct {
	Kind   ErrorKind
	Msg    string
	Server Server
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Msg != "" {
		s = fmt.Sprintf("%s: %s", s, e.Msg)
	}
	if !e.Server.IsZero() {
		s = fmt.Sprintf("%s (server %s)", s, e.Server)
	}
	if e.Cause != nil {
		s = fmt.Sprintf("%s: %v", s, e.Cause)
	}
	return s
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// --------------------------------------------------------------------------
// Factory Functions
// --------------------------------------------------------------------------

// NewError creates a typed error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError creates a typed error wrapping an underlying cause.
func WrapError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// KindOf returns the ErrorKind of err, or KindUnknown if err is not a typed
// engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a typed engine error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
