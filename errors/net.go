package errors

import (
	stderrors "errors"
	"net"
	"os"
	"syscall"
)

// FromNet converts an error from the net package into an *Error.
// The original error is kept as Cause. A nil err yields nil.
func FromNet(phase Phase, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return &Error{
		Phase: phase,
		Kind:  netKind(err),
		Cause: err,
	}
}

func netKind(err error) Kind {
	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		return errnoKind(errno)
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindNameUnresolvable
	}

	var addrErr *net.AddrError
	if stderrors.As(err, &addrErr) {
		return KindInvalidArgument
	}

	var parseErr *net.ParseError
	if stderrors.As(err, &parseErr) {
		return KindInvalidArgument
	}

	if os.IsTimeout(err) {
		return KindTimeout
	}
	if os.IsPermission(err) {
		return KindAccessDenied
	}
	if stderrors.Is(err, net.ErrClosed) {
		return KindConnectionAborted
	}

	return KindUnknown
}

func errnoKind(errno syscall.Errno) Kind {
	switch errno {
	case syscall.EACCES, syscall.EPERM:
		return KindAccessDenied
	case syscall.EADDRINUSE:
		return KindAddressInUse
	case syscall.EADDRNOTAVAIL:
		return KindAddressNotAvailable
	case syscall.ECONNREFUSED:
		return KindConnectionRefused
	case syscall.ECONNRESET, syscall.EPIPE:
		return KindConnectionReset
	case syscall.ECONNABORTED:
		return KindConnectionAborted
	case syscall.EHOSTUNREACH, syscall.ENETUNREACH:
		return KindRemoteUnreachable
	case syscall.ETIMEDOUT:
		return KindTimeout
	case syscall.EINVAL:
		return KindInvalidArgument
	case syscall.ENOTCONN:
		return KindNotConnected
	default:
		return KindUnknown
	}
}

// Is reports whether any error in err's chain matches target. See the standard errors.Is.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target. See the standard errors.As.
func As(err error, target any) bool { return stderrors.As(err, target) }
