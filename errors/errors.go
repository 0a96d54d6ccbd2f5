package errors

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates which socket operation produced the error
type Phase string

const (
	PhaseCreate    Phase = "create"
	PhaseConnect   Phase = "connect"
	PhaseRead      Phase = "read"
	PhaseWrite     Phase = "write"
	PhaseClose     Phase = "close"
	PhaseDestroy   Phase = "destroy"
	PhaseListen    Phase = "listen"
	PhaseAccept    Phase = "accept"
	PhaseOpen      Phase = "open"
	PhaseHandshake Phase = "handshake"
	PhaseBinding   Phase = "binding" // guest <-> host marshalling
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidHandle   Kind = "invalid_handle"
	KindInvalidArgument Kind = "invalid_argument"
	KindNotConnected    Kind = "not_connected"
	KindClosed          Kind = "closed" // owning runtime shut down

	// Asynchronous failures reported by the I/O runtime
	KindConnectionRefused   Kind = "connection_refused"
	KindConnectionReset     Kind = "connection_reset"
	KindConnectionAborted   Kind = "connection_aborted"
	KindTimeout             Kind = "timeout"
	KindAddressInUse        Kind = "address_in_use"
	KindAddressNotAvailable Kind = "address_not_available"
	KindRemoteUnreachable   Kind = "remote_unreachable"
	KindAccessDenied        Kind = "access_denied"
	KindNameUnresolvable    Kind = "name_unresolvable"
	KindHandshakeFailed     Kind = "handshake_failed"
	KindUnknown             Kind = "unknown"
)

// Error is the structured error returned by every facade operation
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Handle uint32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Handle != 0 {
		b.WriteString(" handle=")
		b.WriteString(strconv.FormatUint(uint64(e.Handle), 10))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Sentinels for errors.Is checks that do not care about the phase.
var (
	ErrInvalidHandle   = &Error{Kind: KindInvalidHandle}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNotConnected    = &Error{Kind: KindNotConnected}
	ErrClosed          = &Error{Kind: KindClosed}
)

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Handle sets the handle the operation was called on
func (b *Builder) Handle(h uint32) *Builder {
	b.err.Handle = h
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// InvalidHandle creates an error for an operation on a destroyed or unknown handle
func InvalidHandle(phase Phase, handle uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidHandle,
		Handle: handle,
	}
}

// InvalidArgument creates an invalid argument error
func InvalidArgument(phase Phase, detail string, value any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Detail: detail,
		Value:  value,
	}
}

// InvalidPort creates an invalid argument error for a port outside 0..65535
func InvalidPort(phase Phase, port int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Detail: fmt.Sprintf("port %d out of range [0, 65535]", port),
		Value:  port,
	}
}

// NotConnected creates an error for I/O on a socket that is not connected
func NotConnected(phase Phase, handle uint32, state string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotConnected,
		Handle: handle,
		Detail: "socket is " + state,
	}
}

// Closed creates an error for operations after the runtime shut down
func Closed(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: "runtime closed",
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
