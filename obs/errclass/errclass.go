// Package errclass classifies OS-level socket errors into short labels
// usable as structured-log fields and for deciding retry-vs-abort behavior
// in the endpoint engine.
//
// Adapted from: https://github.com/bassosimone/nop errclass (unix.go/windows.go split).
package errclass

import (
	"errors"
	"net"
	"syscall"
)

// Classify maps err to a short OS-errno-derived label, or "" when err does
// not wrap a recognized errno.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var sysErr syscall.Errno
	if !errors.As(err, &sysErr) {
		var netErr *net.OpError
		if errors.As(err, &netErr) {
			if errors.As(netErr.Err, &sysErr) {
				// fall through with sysErr populated
			} else {
				return ""
			}
		} else {
			return ""
		}
	}
	switch sysErr {
	case errEADDRNOTAVAIL:
		return "EADDRNOTAVAIL"
	case errEADDRINUSE:
		return "EADDRINUSE"
	case errECONNABORTED:
		return "ECONNABORTED"
	case errECONNREFUSED:
		return "ECONNREFUSED"
	case errECONNRESET:
		return "ECONNRESET"
	case errEHOSTUNREACH:
		return "EHOSTUNREACH"
	case errEINVAL:
		return "EINVAL"
	case errEINTR:
		return "EINTR"
	case errENETDOWN:
		return "ENETDOWN"
	case errENETUNREACH:
		return "ENETUNREACH"
	case errENOBUFS:
		return "ENOBUFS"
	case errENOTCONN:
		return "ENOTCONN"
	case errEPROTONOSUPPORT:
		return "EPROTONOSUPPORT"
	case errETIMEDOUT:
		return "ETIMEDOUT"
	default:
		return ""
	}
}
