// Package errors provides error handling for quadstore.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for callers
//
// On top of that it defines the error kinds every public operation reports,
// so callers can tell a malformed query from an unreadable file:
//
//	res, err := st.Query(ctx, text)
//	switch errors.KindOf(err) {
//	case errors.KindSyntax:
//	    var se *errors.SyntaxError
//	    errors.As(err, &se) // se.Line, se.Column
//	case errors.KindIO:
//	    // retry
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"context"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails

	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors, one per kind. Operations tag their failures with Mark so
// the original message and cause survive.
var (
	// ErrSyntax marks malformed query, update or document text.
	ErrSyntax = New("syntax error")

	// ErrIO marks unreadable input, failed fetches and storage failures.
	ErrIO = New("i/o error")

	// ErrConstraint marks requests rejected before any side effect.
	ErrConstraint = New("constraint violation")

	// ErrEvaluation marks failures while evaluating a query or update.
	ErrEvaluation = New("evaluation error")

	// ErrCorruption marks a store whose persisted state is inconsistent.
	ErrCorruption = New("store corruption")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrReadOnly is returned by writes on read-only and secondary handles.
	ErrReadOnly = Mark(New("store is read-only"), ErrConstraint)

	// ErrLocked is returned when another process holds the primary lock.
	ErrLocked = Mark(New("store is locked by another writer"), ErrConstraint)
)

// Kind classifies an error for programmatic recovery.
type Kind int

const (
	KindNone Kind = iota
	KindSyntax
	KindIO
	KindConstraint
	KindEvaluation
	KindCorruption
	KindCanceled
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSyntax:
		return "syntax"
	case KindIO:
		return "io"
	case KindConstraint:
		return "constraint"
	case KindEvaluation:
		return "evaluation"
	case KindCorruption:
		return "corruption"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// KindOf reports the kind of err. Errors that were never classified report
// KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *SyntaxError
	switch {
	case As(err, &se) || Is(err, ErrSyntax):
		return KindSyntax
	case Is(err, context.Canceled) || Is(err, context.DeadlineExceeded):
		return KindCanceled
	case Is(err, ErrConstraint):
		return KindConstraint
	case Is(err, ErrEvaluation):
		return KindEvaluation
	case Is(err, ErrCorruption):
		return KindCorruption
	case Is(err, ErrIO):
		return KindIO
	}
	return KindUnknown
}

// IsSyntaxError checks if an error is a syntax error
func IsSyntaxError(err error) bool { return KindOf(err) == KindSyntax }

// IsIOError checks if an error is or wraps ErrIO
func IsIOError(err error) bool { return err != nil && Is(err, ErrIO) }

// IsConstraintError checks if an error is or wraps ErrConstraint
func IsConstraintError(err error) bool { return err != nil && Is(err, ErrConstraint) }

// IsEvaluationError checks if an error is or wraps ErrEvaluation
func IsEvaluationError(err error) bool { return err != nil && Is(err, ErrEvaluation) }

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool { return err != nil && Is(err, ErrNotFound) }

// NewIOError wraps err as an I/O error with context. A nil err yields a new
// I/O error carrying only the message.
func NewIOError(err error, format string, args ...interface{}) error {
	if err == nil {
		return Mark(Newf(format, args...), ErrIO)
	}
	return Mark(Wrapf(err, format, args...), ErrIO)
}

// NewConstraintError creates a constraint error with a formatted message
func NewConstraintError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConstraint)
}

// NewEvaluationError creates an evaluation error with a formatted message
func NewEvaluationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrEvaluation)
}

// NewCorruptionError creates a corruption error with a formatted message
func NewCorruptionError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrCorruption)
}

// AsIO marks err as an I/O error unless it already carries a kind.
func AsIO(err error) error {
	if err == nil || KindOf(err) != KindUnknown {
		return err
	}
	return Mark(err, ErrIO)
}
