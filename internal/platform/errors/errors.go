// Package errors provides the failure taxonomy shared by the catalog,
// artwork and session packages.
package errors

import stderrors "errors"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// CodeNotFound means the catalog has no matching card or printing.
	CodeNotFound Code = "NOT_FOUND"

	// CodeUnavailable means a transport or network failure.
	CodeUnavailable Code = "UNAVAILABLE"

	// CodeEmpty means a search succeeded but left no usable printing.
	CodeEmpty Code = "EMPTY"

	// CodeStale means work finished on a connection or open call that has
	// since been superseded.
	CodeStale Code = "STALE"
)

// Sentinels for errors.Is checks; matching is by code only.
var (
	ErrNotFound    = &Error{Code: CodeNotFound, Message: "not found"}
	ErrUnavailable = &Error{Code: CodeUnavailable, Message: "unavailable"}
	ErrEmpty       = &Error{Code: CodeEmpty, Message: "no usable result"}
	ErrStale       = &Error{Code: CodeStale, Message: "superseded"}
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Additional context, e.g. card name
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first domain error in err's chain, or
// CodeUnknown when there is none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
