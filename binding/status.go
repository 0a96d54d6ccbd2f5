package binding

import (
	"github.com/wippyai/netsock/errors"
)

// Status codes returned to the guest. Non-negative results carry data
// (a handle, a byte count, a state or a boolean).
const (
	StatusOK              int32 = 0
	StatusInvalidHandle   int32 = -1
	StatusInvalidArgument int32 = -2
	StatusNotConnected    int32 = -3
	StatusIO              int32 = -4
	StatusBufferTooSmall  int32 = -5
	StatusMemoryFault     int32 = -6
)

// statusOf maps a facade error to a guest status code.
func statusOf(err error) int32 {
	if err == nil {
		return StatusOK
	}
	switch errors.KindOf(err) {
	case errors.KindInvalidHandle:
		return StatusInvalidHandle
	case errors.KindInvalidArgument:
		return StatusInvalidArgument
	case errors.KindNotConnected:
		return StatusNotConnected
	default:
		return StatusIO
	}
}

// StatusText returns a short description of a status code.
func StatusText(code int32) string {
	switch code {
	case StatusOK:
		return "ok"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusNotConnected:
		return "not connected"
	case StatusIO:
		return "i/o failure"
	case StatusBufferTooSmall:
		return "buffer too small"
	case StatusMemoryFault:
		return "memory fault"
	default:
		if code > 0 {
			return "ok"
		}
		return "unknown status"
	}
}
