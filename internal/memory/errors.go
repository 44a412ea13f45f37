package memory

import (
	"errors"
	"fmt"
)

// Attach failure sentinels. An *AttachError matches exactly one of them
// under errors.Is.
var (
	ErrProcessNotFound        = errors.New("process not found")
	ErrAccessDenied           = errors.New("access denied")
	ErrBaseAddressUnavailable = errors.New("base address unavailable")
	ErrBaseAddressUnreadable  = errors.New("base address unreadable")
)

// ErrShortWrite reports that the OS accepted fewer bytes than requested.
var ErrShortWrite = errors.New("short write")

// ErrAddressNotMapped is returned by guarded writes outside the region map.
var ErrAddressNotMapped = errors.New("address not mapped")

// AttachErrorKind classifies attach failures.
type AttachErrorKind int

const (
	ProcessNotFound AttachErrorKind = iota + 1
	AccessDenied
	BaseAddressUnavailable
	BaseAddressUnreadable
)

func (k AttachErrorKind) String() string {
	switch k {
	case ProcessNotFound:
		return "ProcessNotFound"
	case AccessDenied:
		return "AccessDenied"
	case BaseAddressUnavailable:
		return "BaseAddressUnavailable"
	case BaseAddressUnreadable:
		return "BaseAddressUnreadable"
	default:
		return fmt.Sprintf("AttachErrorKind(%d)", int(k))
	}
}

func (k AttachErrorKind) sentinel() error {
	switch k {
	case ProcessNotFound:
		return ErrProcessNotFound
	case AccessDenied:
		return ErrAccessDenied
	case BaseAddressUnavailable:
		return ErrBaseAddressUnavailable
	case BaseAddressUnreadable:
		return ErrBaseAddressUnreadable
	default:
		return nil
	}
}

// AttachError is a fatal attach failure with a diagnostic meant for users.
type AttachError struct {
	Kind       AttachErrorKind
	PID        int
	Diagnostic string
	Err        error
}

func (e *AttachError) Error() string {
	msg := e.Diagnostic
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.PID != 0 {
		msg = fmt.Sprintf("%s (pid %d)", msg, e.PID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AttachError) Unwrap() []error {
	var errs []error
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// FormatError reports an executable header field that does not carry the
// expected magic bytes. It never aborts fingerprinting.
type FormatError struct {
	Field string
	Addr  uint64
	Want  string
	Got   []byte
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s at 0x%x: want %q, got %q", e.Field, e.Addr, e.Want, e.Got)
}

// WriteAnomaly reports a short remote write. Strict accessors return it;
// others only log it.
type WriteAnomaly struct {
	Addr      uint64
	Requested int
	Written   int
	Err       error
}

func (e *WriteAnomaly) Error() string {
	msg := fmt.Sprintf("wrote %d of %d bytes at 0x%x", e.Written, e.Requested, e.Addr)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteAnomaly) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrShortWrite, e.Err}
	}
	return []error{ErrShortWrite}
}

// InvariantViolation reports a dynamic array control block that fails a
// strict-mode check.
type InvariantViolation struct {
	Check string
	Addr  uint64
	Start uint64
	End   uint64
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("array at 0x%x violates %s (start=0x%x end=0x%x)", e.Addr, e.Check, e.Start, e.End)
}
