package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors. Validation codes are caller
// mistakes and never retried; StaleOperation means the caller's view of
// the document is out of date and must be re-fetched; NotFound propagates
// as-is. Conflicts are not errors — they are reported in MergeResult.
type ErrorCode string

const (
	// ErrCodeInvalidInitialState indicates document creation was missing a
	// required field or supplied an undeclared one.
	ErrCodeInvalidInitialState ErrorCode = "INVALID_INITIAL_STATE"

	// ErrCodeUnknownField indicates the operation path does not resolve
	// against the document layout.
	ErrCodeUnknownField ErrorCode = "UNKNOWN_FIELD"

	// ErrCodeUnknownOperationKind indicates an unsupported operation kind.
	ErrCodeUnknownOperationKind ErrorCode = "UNKNOWN_OPERATION_KIND"

	// ErrCodeInvalidElement indicates an insert/update payload that does
	// not satisfy the collection's element schema.
	ErrCodeInvalidElement ErrorCode = "INVALID_ELEMENT"

	// ErrCodeStaleOperation indicates an operation whose implied
	// predecessor count does not match the document's recorded count for
	// its author (replay or gap).
	ErrCodeStaleOperation ErrorCode = "STALE_OPERATION"

	// ErrCodeNotFound indicates an unknown document ID.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is the structured error returned by the engine. Code and Path give
// the API layer enough to produce a meaningful user-facing message.
type Error struct {
	Code ErrorCode

	// Path is the offending operation path or field name, when one exists.
	Path string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, path, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the engine error code carried by err, or "" if err is not
// an engine error. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound returns true if the error is an unknown-document error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsStale returns true if the error is a stale-operation rejection.
func IsStale(err error) bool { return CodeOf(err) == ErrCodeStaleOperation }
