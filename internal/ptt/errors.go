package ptt

import "fmt"

// ErrorKind categorizes controller failures.
type ErrorKind int

const (
	// KindNotConnected is an action attempted while the connection is not ready.
	KindNotConnected ErrorKind = iota + 1
	// KindTransport is a network or protocol failure reported by the transport.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotConnected:
		return "not_connected"
	case KindTransport:
		return "transport_error"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// Error is a controller failure. It is logged and surfaced on the status
// line; handlers never return it to their callers.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so ErrNotConnected and
// ErrTransport work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrNotConnected = &Error{Kind: KindNotConnected}
	ErrTransport    = &Error{Kind: KindTransport}
)

func notConnected(op string) *Error {
	return &Error{Kind: KindNotConnected, Op: op}
}

func transportErr(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}
