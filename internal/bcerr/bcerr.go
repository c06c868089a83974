// Package bcerr defines the error taxonomy shared across the BC client:
// every component returns one of these kinds, wrapped with %w, so callers
// can classify a failure with errors.Is/errors.As without inspecting text.
package bcerr

import "fmt"

// Kind classifies a failure without carrying its detail; see spec §7.
type Kind int

const (
	// KindOther covers unexpected internal failures (task panic, logic error).
	KindOther Kind = iota
	KindAddressResolutionFailure
	KindCannotInitCamera
	KindDiscoveryTimeout
	KindAuthFailure
	KindProtocolError
	KindTransportError
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindAddressResolutionFailure:
		return "AddressResolutionFailure"
	case KindCannotInitCamera:
		return "CannotInitCamera"
	case KindDiscoveryTimeout:
		return "DiscoveryTimeout"
	case KindAuthFailure:
		return "AuthFailure"
	case KindProtocolError:
		return "ProtocolError"
	case KindTransportError:
		return "TransportError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Other"
	}
}

// Error is the concrete error type returned by every exported operation.
// Op names the failing operation ("discovery.local", "login.modern", ...)
// for logging; Err is the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("%s", msg)}
}

// Wrap attaches a Kind and Op to an existing error. Returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or something it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
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
	return e != nil && e.Kind == k
}
