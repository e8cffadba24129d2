// Package someip implements bit-exact encoding and decoding of the SOME/IP
// wire header (Header Format v1) and its fixed-width identifier types.
package someip

import "fmt"

// ServiceID identifies a service interface. 16 bit, big-endian on the wire.
type ServiceID uint16

// InstanceID identifies one instance of a service. 16 bit, big-endian.
type InstanceID uint16

// MethodID identifies a method or event within a service. 16 bit. The top
// bit is clear for methods and set for events/notifications.
type MethodID uint16

// IsEvent reports whether the top bit of the method id is set.
func (m MethodID) IsEvent() bool { return m&0x8000 != 0 }

// ClientID identifies the application that originated a request. 16 bit.
type ClientID uint16

// SessionID distinguishes concurrent requests from the same client. 16 bit.
// Valid session ids run 1..0xFFFF; 0 is reserved and never assigned.
type SessionID uint16

// EventgroupID identifies a set of events clients subscribe to collectively.
type EventgroupID uint16

// MajorVersion is a service interface's major version. 8 bit.
type MajorVersion uint8

// MinorVersion is a service interface's minor version. 32 bit on the wire
// (SOME/IP encodes it as a full word inside SD entries).
type MinorVersion uint32

// TTL is an SD entry's time-to-live in seconds, a 24 bit wire quantity.
type TTL uint32

// Reserved sentinel values meaning "any" / "all" for the respective field.
const (
	AnyService    ServiceID    = 0xFFFF
	AnyInstance   InstanceID   = 0xFFFF
	AnyMethod     MethodID     = 0xFFFF
	AnyEvent      MethodID     = 0xFFFF
	AnyEventgroup EventgroupID = 0xFFFF
	AnyMajor      MajorVersion = 0xFF
	AnyMinor      MinorVersion = 0xFFFFFFFF
)

// MessageID aggregates a service and method/event id. Two messages with the
// same MessageID target the same interface member.
type MessageID struct {
	Service ServiceID
	Method  MethodID
}

func (m MessageID) String() string {
	return fmt.Sprintf("%#04x.%#04x", uint16(m.Service), uint16(m.Method))
}

// RequestID aggregates a client and session id. Responses are matched to
// pending requests by RequestID until the request's deadline expires.
type RequestID struct {
	Client  ClientID
	Session SessionID
}

func (r RequestID) String() string {
	return fmt.Sprintf("%#04x.%#04x", uint16(r.Client), uint16(r.Session))
}

// NextSession advances a session counter: it skips 0 and wraps from 0xFFFF
// back to 1. The bool result reports whether this call wrapped, which
// callers use to raise the SD reboot flag.
func NextSession(current SessionID) (next SessionID, wrapped bool) {
	if current == 0xFFFF {
		return 1, true
	}
	return current + 1, false
}
