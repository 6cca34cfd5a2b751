package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies conversion errors
type ErrorKind string

const (
	KindSandboxViolation     ErrorKind = "sandbox_violation"
	KindInvalidRequest       ErrorKind = "invalid_request"
	KindNotFound             ErrorKind = "not_found"
	KindNotAPdf              ErrorKind = "not_a_pdf"
	KindNotADirectory        ErrorKind = "not_a_directory"
	KindUnknownCollection    ErrorKind = "unknown_collection"
	KindRenderFailed         ErrorKind = "render_failed"
	KindEmptyDocument        ErrorKind = "empty_document"
	KindCancelled            ErrorKind = "cancelled"
	KindAggregationInvariant ErrorKind = "aggregation_invariant"
)

// Sentinels for errors.Is, matched on kind only
var (
	ErrSandboxViolation  = &Error{Kind: KindSandboxViolation}
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrNotAPdf           = &Error{Kind: KindNotAPdf}
	ErrNotADirectory     = &Error{Kind: KindNotADirectory}
	ErrUnknownCollection = &Error{Kind: KindUnknownCollection}
)

// Error is a batch level failure with the caller supplied path it concerns
type Error struct {
	Kind    ErrorKind
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s]", e.Kind)
	if e.Message != "" {
		msg += " " + e.Message
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Public is the error text without the wrapped cause, which may name absolute paths
func (e *Error) Public() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg = e.Message
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	return msg
}

// PublicMessage returns text about err that is safe to hand to a caller
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Public()
	}
	var invariant *InvariantViolation
	if errors.As(err, &invariant) {
		return "internal error while aggregating results"
	}
	return err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError creates a new conversion error
func NewError(kind ErrorKind, path, message string, err error) *Error {
	return &Error{Kind: kind, Path: path, Message: message, Err: err}
}

func sandboxError(path, message string) *Error {
	return NewError(KindSandboxViolation, path, message, nil)
}

func invalidRequest(message string) *Error {
	return NewError(KindInvalidRequest, "", message, nil)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsExpansionError reports whether err rejects the request as a whole: bad shape, missing
// input, wrong file type or unknown collection
func IsExpansionError(err error) bool {
	switch KindOf(err) {
	case KindInvalidRequest, KindNotFound, KindNotAPdf, KindNotADirectory, KindUnknownCollection:
		return true
	}
	return false
}

// InvariantViolation signals a bug in the render stage, never a user error
type InvariantViolation struct {
	Missing []string
	Detail  string
}

func (e *InvariantViolation) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("aggregation invariant violated: no result for %d document(s): %v", len(e.Missing), e.Missing)
	}
	return "aggregation invariant violated: " + e.Detail
}

// Failure is a contained, per-document error recorded in the batch result
type Failure struct {
	Kind    ErrorKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func failure(kind ErrorKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
