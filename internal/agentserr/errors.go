// Package agentserr defines AgentSmithy's error taxonomy: a single structured
// error type carrying one of a fixed set of kinds, used across the dialog
// store, tool executor, agent loop, and HTTP/SSE edges.
package agentserr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for retry logic, HTTP status mapping, and the
// wire-level error code carried on an SSE `error` event.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindPermission    Kind = "permission"
	KindTimeout       Kind = "timeout"
	KindCancelled     Kind = "cancelled"
	KindProviderError Kind = "provider_error"
	KindInternal      Kind = "internal"
	KindShutdown      Kind = "shutdown"
)

// Retryable reports whether an operation that failed with this kind may
// succeed if retried unchanged.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindProviderError:
		return true
	default:
		return false
	}
}

// Error is the structured error type returned by every AgentSmithy package.
type Error struct {
	Kind Kind
	// Code is a short machine-readable slug, e.g. "dialog_not_found",
	// distinct from Kind so the SSE wire layer can be specific without
	// inventing a new Kind per call site.
	Code string
	// Message is human-readable; may be empty, in which case Err.Error()
	// is used.
	Message string
	// Err is the wrapped cause, if any.
	Err error

	ToolCallID string
	DialogID   string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether this specific error should be retried.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// New constructs an Error of the given kind wrapping cause.
func New(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Err: cause}
}

// Newf constructs an Error of the given kind with a formatted message and no
// wrapped cause.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithToolCallID attaches a tool_call_id for correlation and returns e.
func (e *Error) WithToolCallID(id string) *Error {
	e.ToolCallID = id
	return e
}

// WithDialogID attaches a dialog_id for correlation and returns e.
func (e *Error) WithDialogID(id string) *Error {
	e.DialogID = id
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts the *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Sentinel errors for the few cases call sites want to match without
// constructing a Kind-specific message.
var (
	ErrShuttingDown  = &Error{Kind: KindShutdown, Code: "shutting_down", Message: "server is shutting down"}
	ErrCancelled     = &Error{Kind: KindCancelled, Code: "cancelled", Message: "operation was cancelled"}
	ErrDialogLocked  = &Error{Kind: KindConflict, Code: "dialog_locked", Message: "dialog has an in-flight turn"}
	ErrResultExpired = &Error{Kind: KindNotFound, Code: "result_expired", Message: "tool result is no longer available"}
)
