// Package a3errors defines the closed error taxonomy shared by every
// accelerator-scheduling component (HCS, DEA, KPR, SHS, EXC) and by the
// coordinator's request/response channel, where a Kind is carried back to
// the client as a negative integer code instead of a Go error value.
package a3errors

import "fmt"

// Kind is one member of the closed error taxonomy.
type Kind int

const (
	_ Kind = iota // zero value is never a valid error kind

	HwUnavailable
	DmaUnavailable
	ReconfigFailed

	NotFound
	DuplicateName
	DuplicatePort

	TooManyKernels
	TooManyUsers
	NoFreeBank
	NoFreeChannel

	SlotOutOfRange
	BadWorkSize
	NoAccelerators

	AlreadyRunning

	DmaTimeout
)

var kindNames = map[Kind]string{
	HwUnavailable:   "hardware control surface unavailable",
	DmaUnavailable:  "DMA engine unavailable",
	ReconfigFailed:  "reconfiguration failed",
	NotFound:        "not found",
	DuplicateName:   "duplicate name",
	DuplicatePort:   "duplicate port",
	TooManyKernels:  "too many kernels",
	TooManyUsers:    "too many users",
	NoFreeBank:      "no free bank",
	NoFreeChannel:   "no free channel",
	SlotOutOfRange:  "slot out of range",
	BadWorkSize:     "bad work size",
	NoAccelerators:  "no accelerators",
	AlreadyRunning:  "already running",
	DmaTimeout:      "DMA timeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("a3errors.Kind(%d)", int(k))
}

// Error is a Kind carrying a location-specific message and, optionally, the
// underlying cause. It implements Unwrap so callers can use errors.Is/As
// against both the Kind (via Is) and the wrapped cause.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so that
// `errors.Is(err, a3errors.New(NotFound, ""))` and the sentinel-free
// `KindOf(err) == NotFound` both work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error with no wrapped cause.
func New(k Kind, context string) *Error {
	return &Error{Kind: k, Context: context}
}

// Wrap builds an *Error that chains a lower-level cause.
func Wrap(k Kind, context string, cause error) *Error {
	return &Error{Kind: k, Context: context, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, returning ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}

// Code returns the wire-visible negative error code for err: operations
// return a negative code equal to the enumerated kind. Kinds are numbered
// from 1 so that 0 remains reserved for success.
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	if k, ok := KindOf(err); ok {
		return -int32(k)
	}
	return -1
}
