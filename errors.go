package gsd

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind identifies the category of a GSD error, mirroring the error
// taxonomy of the file layer: callers switch on Kind rather than matching
// error strings.
type Kind int

const (
	// KindUnknown is the zero Kind; it should never be observed on an
	// error returned from this package.
	KindUnknown Kind = iota

	// KindIoFailed wraps a failure from the underlying OS I/O (including
	// file-not-found, permission-denied, and short writes to a full disk).
	KindIoFailed

	// KindNotAGsdFile indicates the magic number did not match on open.
	KindNotAGsdFile

	// KindUnsupportedVersion indicates gsd_version.major is outside {1, 2}.
	KindUnsupportedVersion

	// KindAlreadyExists indicates mode "x" was used on an existing file.
	KindAlreadyExists

	// KindNotFound indicates a read_chunk for an absent (frame, name) pair.
	KindNotFound

	// KindUnsupportedType indicates a type code outside 1..10 on write.
	KindUnsupportedType

	// KindTooManyNames indicates an attempt to add the 65536th distinct name.
	KindTooManyNames

	// KindCorrupt indicates an index entry points before the header,
	// beyond EOF, or declares an unknown type.
	KindCorrupt

	// KindReadOnly indicates a mutating operation on a read-only handle.
	KindReadOnly

	// KindInvalidArgument indicates a malformed mode string or a zero-size
	// buffer tuning value.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindIoFailed:
		return "IoFailed"
	case KindNotAGsdFile:
		return "NotAGsdFile"
	case KindUnsupportedVersion:
		return "UnsupportedVersion"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotFound:
		return "NotFound"
	case KindUnsupportedType:
		return "UnsupportedType"
	case KindTooManyNames:
		return "TooManyNames"
	case KindCorrupt:
		return "Corrupt"
	case KindReadOnly:
		return "ReadOnly"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error is the error type behind every error returned by an exported
// operation in this package: the returned error is an *Error or wraps
// one, so KindOf and errors.As always find it. Op names the failing operation (e.g. "gsd.Open",
// "Handle.WriteChunk") so a wrapped error chain reads like a call stack
// even without a debugger attached.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// wrapf constructs an *Error whose Err chain retains err for errors.Is/As,
// formatted in the teacher's xerrors.Errorf("...: %w", err) idiom.
func wrapf(op string, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Op: op, Kind: kind, Err: xerrors.Errorf(format, args...)}
}

// KindOf reports the Kind of err if it (or something it wraps) is a
// *Error, and KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
