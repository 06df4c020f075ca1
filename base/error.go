package base

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure per the layer format's error taxonomy:
// structural metadata inconsistencies, on-disk format violations, I/O
// failures from the underlying substrate, and internal logic errors
// that must never occur in a correct implementation.
type Kind int

const (
	KindStructural Kind = iota
	KindFormat
	KindIO
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindFormat:
		return "format"
	case KindIO:
		return "io"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is returned by every operation in base/heap/coldb that detects
// a taxonomy-classified failure. It carries a stack trace to the point
// of detection via github.com/pkg/errors, so a corrupted or truncated
// layer file can be diagnosed without re-running with extra logging.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// NewError builds a Kind-tagged Error with a stack trace rooted here.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, err: errors.New(msg)}
}

// WrapError tags cause with kind and a stack trace, or returns nil if
// cause is nil.
func WrapError(kind Kind, cause error, msg string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, err: errors.Wrap(cause, msg)}
}

// Structural builds a KindStructural error, e.g. mismatched parallel
// array lengths in a footer or a count exceeding the 256/64k caps.
func Structural(format string, args ...any) *Error {
	return NewError(KindStructural, fmt.Sprintf(format, args...))
}

// Format builds a KindFormat error, e.g. bad magic or an unsupported
// future version.
func Format(format string, args ...any) *Error {
	return NewError(KindFormat, fmt.Sprintf(format, args...))
}

// Internal builds a KindInternal error for conditions that indicate a
// bug in this implementation rather than a malformed file, such as a
// dictionary lookup miss.
func Internal(format string, args ...any) *Error {
	return NewError(KindInternal, fmt.Sprintf(format, args...))
}

// IO wraps an I/O failure from the underlying substrate with context.
// With a nil cause it builds a new KindIO error from the message alone.
func IO(cause error, format string, args ...any) *Error {
	if cause == nil {
		return NewError(KindIO, fmt.Sprintf(format, args...))
	}
	return WrapError(KindIO, cause, fmt.Sprintf(format, args...))
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
