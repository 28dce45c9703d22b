package serialmux

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

// ErrorKind enumerates the failure classes surfaced to the supervisor as
// connection-state transitions.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNotFound
	KindPermissionDenied
	KindOpenFailed
	KindIoError
	KindRetryExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindOpenFailed:
		return "open_failed"
	case KindIoError:
		return "io_error"
	case KindRetryExhausted:
		return "retry_exhausted"
	default:
		return "unknown"
	}
}

// LinkError wraps a port failure with its classified kind.
type LinkError struct {
	Kind ErrorKind
	Err  error
}

func (e *LinkError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// classifyOpenError maps go.bug.st/serial open failures onto ErrorKinds.
func classifyOpenError(err error) *LinkError {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound:
			return &LinkError{Kind: KindNotFound, Err: err}
		case serial.PermissionDenied:
			return &LinkError{Kind: KindPermissionDenied, Err: err}
		}
	}
	return &LinkError{Kind: KindOpenFailed, Err: err}
}
