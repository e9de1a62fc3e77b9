// Package errs enumerates the core's error kinds (spec §7) as a single
// structured type instead of the teacher's dozens of ad hoc package-level
// sentinels (see the original errors.go), because the core must carry a
// status_detail alongside the kind and that doesn't fit a bare
// errors.New() sentinel per case.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error kinds spec §7 defines.
type Kind uint8

const (
	InvalidArgument Kind = iota
	IoError
	FilterError
	MemoryBudget
	BufferOverflow
	Unsplittable
	Cancelled
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case IoError:
		return "IoError"
	case FilterError:
		return "FilterError"
	case MemoryBudget:
		return "MemoryBudget"
	case BufferOverflow:
		return "BufferOverflow"
	case Unsplittable:
		return "Unsplittable"
	case Cancelled:
		return "Cancelled"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// StatusDetail refines an Incomplete submit status (spec §6).
type StatusDetail uint8

const (
	NoDetail StatusDetail = iota
	DetailUserBufferSize
	DetailMemoryBudget
	DetailUnsplittable
)

// Error is the core's single error type. Kind drives propagation policy
// (spec §7: only BufferOverflow is recoverable inside dowork); Detail is
// surfaced to callers via Query.StatusDetail when the submit status is
// Incomplete.
type Error struct {
	Kind   Kind
	Detail StatusDetail
	msg    string
	cause  error
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

func (e *Error) WithDetail(d StatusDetail) *Error {
	e.Detail = d
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match two *Error values whose Kinds are equal; a
// target that is not an *Error never matches.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind from err, defaulting to Internal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Recoverable reports whether the propagation policy of spec §7 lets
// dowork recover from this error kind itself (BufferOverflow triggers a
// split; MemoryBudget is recoverable only if the partitioner can still
// split further, which the caller determines).
func Recoverable(kind Kind) bool {
	return kind == BufferOverflow || kind == MemoryBudget
}
