package scan

import (
	"errors"
	"fmt"
)

// Kind categorizes failures so transports can map them to responses and
// callers can tell which stage of a request failed.
type Kind string

const (
	// KindInvalidInput covers bad content types, malformed pagination
	// parameters and missing fields. Always detected before any side effect.
	KindInvalidInput Kind = "INVALID_INPUT"

	// KindClassification covers classifier errors, undecodable images and
	// classifier output outside the label set or confidence range.
	KindClassification Kind = "CLASSIFICATION_FAILURE"

	// KindStorage covers an unreachable record store or a rejected write.
	KindStorage Kind = "STORAGE_FAILURE"

	// KindNotFound covers lookups of a single entity that does not exist.
	// Per-user queries return empty results instead.
	KindNotFound Kind = "NOT_FOUND"

	// KindInvariant marks a broken data-model invariant observed at read
	// time, such as a persisted confidence outside [0, 1].
	KindInvariant Kind = "INVARIANT_VIOLATION"
)

// Error is a failure tagged with a Kind and the operation that produced it.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the operation, e.g. "ingest.classify" or "history.page".
	Op string

	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error of the given kind.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain,
// or the empty Kind if there is none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
