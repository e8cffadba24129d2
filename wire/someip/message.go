package someip

// MessageType enumerates the SOME/IP message_type field.
type MessageType uint8

const (
	MessageTypeRequest           MessageType = 0x00
	MessageTypeRequestNoReturn   MessageType = 0x01
	MessageTypeNotification      MessageType = 0x02
	MessageTypeRequestAck        MessageType = 0x40
	MessageTypeResponse          MessageType = 0x80
	MessageTypeError             MessageType = 0x81
	MessageTypeTPRequest         MessageType = 0x20
	MessageTypeTPRequestNoReturn MessageType = 0x21
	MessageTypeTPNotification    MessageType = 0x22
	MessageTypeTPResponse        MessageType = 0xA0
	MessageTypeTPError           MessageType = 0xA1
)

// IsTP reports whether the message type is a TP (fragmented) variant.
func (t MessageType) IsTP() bool { return t&0x20 != 0 }

// ReturnCode enumerates the SOME/IP return_code field.
type ReturnCode uint8

const (
	ReturnCodeOK                      ReturnCode = 0x00
	ReturnCodeNotOK                   ReturnCode = 0x01
	ReturnCodeUnknownService          ReturnCode = 0x02
	ReturnCodeUnknownMethod           ReturnCode = 0x03
	ReturnCodeNotReady                ReturnCode = 0x04
	ReturnCodeNotReachable            ReturnCode = 0x05
	ReturnCodeTimeout                 ReturnCode = 0x06
	ReturnCodeWrongProtocolVersion    ReturnCode = 0x07
	ReturnCodeWrongInterfaceVersion   ReturnCode = 0x08
	ReturnCodeMalformedMessage        ReturnCode = 0x09
	ReturnCodeWrongMessageType        ReturnCode = 0x0A
	ReturnCodePermissionDenied        ReturnCode = 0x0B
)

// ProtocolVersion is always 1 for this implementation.
const ProtocolVersion uint8 = 1

// HeaderLength is the length in bytes of everything in the SOME/IP header
// that is included in the "length" field's count (client_id through
// return_code, i.e. everything after service_id/method_id/length itself).
const HeaderLength = 8

// Source/Target identify the endpoint a message arrived from or should be
// routed to. They are non-wire attributes attached by the routing core.
type Peer struct {
	Address string
	Port    uint16
	Proto   Protocol
}

// Protocol enumerates the endpoint transports a message can arrive over.
type Protocol uint8

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
	ProtocolLocal
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "UDP"
	case ProtocolTCP:
		return "TCP"
	case ProtocolLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// Message is a decoded SOME/IP frame plus the non-wire attributes the
// routing core attaches to it.
type Message struct {
	ServiceID        ServiceID
	MethodID         MethodID
	ClientID         ClientID
	SessionID        SessionID
	ProtocolVersion  uint8
	InterfaceVersion uint8
	MessageType      MessageType
	ReturnCode       ReturnCode
	Payload          []byte

	// Non-wire attributes.
	InstanceID InstanceID
	IsReliable bool
	IsInitial  bool
	Source     Peer
	Target     Peer
}

// MessageID returns the message's (service, method) aggregate id.
func (m *Message) MessageID() MessageID {
	return MessageID{Service: m.ServiceID, Method: m.MethodID}
}

// RequestID returns the message's (client, session) aggregate id.
func (m *Message) RequestID() RequestID {
	return RequestID{Client: m.ClientID, Session: m.SessionID}
}

// Length computes the wire "length" field: 8 bytes of header fields
// (client_id..return_code) plus the payload. Always equals
// HeaderLength + len(m.Payload).
func (m *Message) Length() uint32 {
	return HeaderLength + uint32(len(m.Payload))
}

// IsRequest reports whether the message expects (or may produce) a
// response.
func (m *Message) IsRequest() bool {
	switch m.MessageType {
	case MessageTypeRequest, MessageTypeTPRequest:
		return true
	default:
		return false
	}
}

// IsResponse reports whether the message is a RESPONSE or ERROR.
func (m *Message) IsResponse() bool {
	switch m.MessageType {
	case MessageTypeResponse, MessageTypeError, MessageTypeTPResponse, MessageTypeTPError:
		return true
	default:
		return false
	}
}

// IsFireAndForget reports whether no response is expected.
func (m *Message) IsFireAndForget() bool {
	switch m.MessageType {
	case MessageTypeRequestNoReturn, MessageTypeNotification,
		MessageTypeTPRequestNoReturn, MessageTypeTPNotification:
		return true
	default:
		return false
	}
}
