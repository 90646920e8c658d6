package central

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a transport failure so callers can decide on retry
// behavior from a structured code instead of matching message text.
type ErrorKind int

const (
	// KindTransient covers mid-flight disconnects, cancellations and
	// timeouts. Safe to retry; never surfaced to the user.
	KindTransient ErrorKind = iota

	// KindCapabilityAbsent means an expected service or characteristic is
	// missing on the device. Reported as "unsupported", never retried.
	KindCapabilityAbsent

	// KindFatal covers everything else (adapter failures, programming
	// errors). Surfaced for diagnostics.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindCapabilityAbsent:
		return "capability_absent"
	default:
		return "fatal"
	}
}

// TransportError wraps a failure from the wireless stack with its
// classification and the operation that produced it.
type TransportError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is allows errors.Is to compare TransportError values by kind.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Transient wraps err as a transient transport error.
func Transient(op string, err error) error {
	return &TransportError{Kind: KindTransient, Op: op, Err: err}
}

// Unsupported wraps err as a capability-absence error.
func Unsupported(op string, err error) error {
	return &TransportError{Kind: KindCapabilityAbsent, Op: op, Err: err}
}

// Fatal wraps err as a fatal transport error.
func Fatal(op string, err error) error {
	return &TransportError{Kind: KindFatal, Op: op, Err: err}
}

// KindOf returns the classification of err, defaulting to KindFatal for
// errors that did not come through the transport boundary.
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindFatal
}

// IsTransient reports whether err is a transient transport error.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindTransient
}

// IsUnsupported reports whether err is a capability-absence error.
func IsUnsupported(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindCapabilityAbsent
}
