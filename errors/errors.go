// Package errors provides the wire-serializable error taxonomy used across
// kasocki sessions: a single wrapping error type carrying a retry Class,
// extended with a Kind enum that carries the client-facing vocabulary (see
// Kind).
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Class represents the retry/handling classification of an error.
type Class int

const (
	// ClassTransient represents temporary errors that may be retried.
	ClassTransient Class = iota
	// ClassInvalid represents errors due to invalid input or configuration.
	ClassInvalid
	// ClassFatal represents unrecoverable errors that should stop the session.
	ClassFatal
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind names one entry of the wire error taxonomy (spec.md §7).
type Kind string

// Wire error kinds. Kasocki is the generic parent for anything that does
// not fit a more specific kind.
const (
	KindInvalidAssignment Kind = "InvalidAssignment"
	KindTopicNotAvailable Kind = "TopicNotAvailable"
	KindAlreadySubscribed Kind = "AlreadySubscribed"
	KindNotSubscribed     Kind = "NotSubscribed"
	KindAlreadyStarted    Kind = "AlreadyStarted"
	KindAlreadyClosing    Kind = "AlreadyClosing"
	KindInvalidFilter     Kind = "InvalidFilter"
	KindDeserialization   Kind = "Deserialization"
	KindKasocki           Kind = "Kasocki"
)

// defaultClass maps each kind to its retry classification.
func (k Kind) defaultClass() Class {
	switch k {
	case KindDeserialization:
		return ClassTransient
	case KindKasocki:
		return ClassFatal
	default:
		return ClassInvalid
	}
}

// Error is the wire-serializable error type delivered via ack/err.
// It carries session and event context plus kind-specific fields, and is
// never serialized with a stack trace.
type Error struct {
	Kind      Kind           `json:"name"`
	Message   string         `json:"message"`
	Socket    string         `json:"socket,omitempty"`
	Event     string         `json:"event,omitempty"`
	Fields    map[string]any `json:"-"`
	class     Class
	wrapped   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.wrapped != nil {
		return e.wrapped.Error()
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Class returns the retry classification of this error.
func (e *Error) Class() Class {
	return e.class
}

// WithClass overrides the classification Kind.defaultClass assigned,
// for cases where the wrapped error's specifics — not just its Kind —
// determine whether it is retryable (e.g. a broker error that is
// sometimes transient, sometimes not, depending on which condition the
// broker reported).
func (e *Error) WithClass(class Class) *Error {
	e.class = class
	return e
}

// WithField attaches a kind-specific context field and returns e for chaining.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithSession annotates the error with the owning session id.
func (e *Error) WithSession(socketID string) *Error {
	e.Socket = socketID
	return e
}

// WithEvent annotates the error with the socket event being handled.
func (e *Error) WithEvent(event string) *Error {
	e.Event = event
	return e
}

// New creates a new *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		class:   kind.defaultClass(),
	}
}

// Wrap creates a new *Error of the given kind that wraps err, following the
// "component.method: action failed: %w" message pattern.
func Wrap(kind Kind, err error, component, method, action string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf("%s.%s: %s failed: %s", component, method, action, err.Error()),
		wrapped: err,
		class:   kind.defaultClass(),
	}
}

// AsError reports whether err is (or wraps) a *Error, returning it if so.
func AsError(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the wire kind of err, or KindKasocki if err is not a *Error.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindKasocki
}

// IsKind reports whether err's kind equals kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether err should be treated as retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := AsError(err); ok {
		return e.class == ClassTransient
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "temporary", "unavailable", "end of partition", "partition eof"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err should terminate the session.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := AsError(err); ok {
		return e.class == ClassFatal
	}
	return false
}
