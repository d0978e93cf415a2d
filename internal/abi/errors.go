package abi

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Error kinds, used as stable identifiers when errors cross a process
// boundary.
const (
	KindNotFound        = "not_found"
	KindUnresolved      = "ambiguous_or_not_found"
	KindNoMatch         = "no_match"
	KindAmbiguous       = "ambiguous"
	KindNotInstantiated = "not_instantiated"
	KindConstruction    = "construction"
	KindInvocation      = "invocation"
	KindUseAfterFree    = "use_after_free"
	KindParse           = "parse"
	KindUnmarshalable   = "unmarshalable"
	KindUnsupported     = "unsupported"
	KindClosed          = "closed"
)

// Predefined errors (sentinel values).
var (
	ErrNotFound            = NewError(KindNotFound, "not found")
	ErrAmbiguousOrNotFound = NewError(KindUnresolved, "no unique template instantiation")
	ErrNoMatch             = ErrAmbiguousOrNotFound.sub(KindNoMatch, "no matching candidate")
	ErrAmbiguous           = ErrAmbiguousOrNotFound.sub(KindAmbiguous, "ambiguous candidates")
	ErrNotInstantiated     = ErrAmbiguousOrNotFound.sub(KindNotInstantiated, "template not instantiated")
	ErrConstruction        = NewError(KindConstruction, "construction failed")
	ErrInvocation          = NewError(KindInvocation, "invocation failed")
	ErrUseAfterFree        = NewError(KindUseAfterFree, "use of destroyed instance")
	ErrParse               = NewError(KindParse, "parse error")
	ErrUnmarshalable       = NewError(KindUnmarshalable, "value has no native representation")
	ErrUnsupported         = NewError(KindUnsupported, "unsupported")
	ErrClosed              = NewError(KindClosed, "session closed")
)

var sentinels sync.Map // kind -> *Error

// Error represents a bridge error with optional structured logging
// attributes. It implements both error and slog.LogValuer interfaces.
//
// Every Error derives from a sentinel; errors.Is reports true for that
// sentinel and for every broader sentinel it was declared under.
type Error struct {
	kind   string
	msg    string
	err    error       // Wrapped error (for errors.Unwrap)
	attrs  []slog.Attr // Attributes for structured logging
	base   *Error      // Sentinel this error was derived from
	parent *Error      // Broader sentinel (sentinels only)
}

// NewError creates a new sentinel Error of the given kind.
func NewError(kind, msg string) *Error {
	e := &Error{kind: kind, msg: msg}
	sentinels.LoadOrStore(kind, e)

	return e
}

func (e *Error) sub(kind, msg string) *Error {
	s := NewError(kind, msg)
	s.parent = e

	return s
}

// Sentinel returns the sentinel registered for kind, or nil.
func Sentinel(kind string) *Error {
	if v, ok := sentinels.Load(kind); ok {
		return v.(*Error)
	}

	return nil
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" if
// there is none.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}

	return ""
}

func (e *Error) root() *Error {
	if e.base != nil {
		return e.base
	}

	return e
}

// Kind returns the error kind.
func (e *Error) Kind() string { return e.kind }

// Error implements the error interface.
func (e *Error) Error() string {
	part := make([]string, 0, 2)

	if e.msg != "" {
		part = append(part, e.msg)
	}

	if e.err != nil {
		part = append(part, e.err.Error())
	}

	return strings.Join(part, ": ")
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is the sentinel e derives from, or one of the
// broader sentinels above it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	for s := e.root(); s != nil; s = s.parent {
		if s == t {
			return true
		}
	}

	return false
}

// LogValue implements slog.LogValuer for rich structured logging.
func (e *Error) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(e.attrs)+3)

	attrs = append(attrs, slog.String("kind", e.kind))

	if e.msg != "" {
		attrs = append(attrs, slog.String("error", e.msg))
	}

	if e.err != nil {
		attrs = append(attrs, slog.String("cause", e.err.Error()))
	}

	return slog.GroupValue(append(attrs, e.attrs...)...)
}

// Wrap creates a new Error of the same kind wrapping err.
func (e *Error) Wrap(err error) *Error {
	return &Error{
		kind:  e.kind,
		msg:   e.msg,
		err:   err,
		attrs: e.attrs,
		base:  e.root(),
	}
}

// Wrapf creates a new Error of the same kind wrapping a formatted message.
func (e *Error) Wrapf(format string, args ...any) *Error {
	return e.Wrap(fmt.Errorf(format, args...))
}

// With adds attributes to the error for structured logging.
// This creates a new Error instance to maintain immutability.
func (e *Error) With(attrs ...slog.Attr) *Error {
	newAttrs := make([]slog.Attr, len(e.attrs)+len(attrs))
	copy(newAttrs, e.attrs)
	copy(newAttrs[len(e.attrs):], attrs)

	return &Error{
		kind:  e.kind,
		msg:   e.msg,
		err:   e.err,
		attrs: newAttrs,
		base:  e.root(),
	}
}

// Attrs returns the structured attributes attached to e.
func (e *Error) Attrs() []slog.Attr { return e.attrs }
