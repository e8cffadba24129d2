package someip

import (
	"encoding/binary"
	"fmt"

	"github.com/someip-go/vsomeip/obs"
)

// MaxMessageSize is the largest payload this implementation accepts for a
// single (non-TP) SOME/IP frame by default: payloads of exactly
// MaxMessageSize-8 bytes succeed, one byte more is rejected. Callers needing
// a different ceiling pass it explicitly to [Decode].
const MaxMessageSize = 1 << 17 // 128 KiB, matching vsomeip's historical default.

// Encode serializes m into its bit-exact wire representation.
//
// encode(decode(b)) == b and decode(encode(m)) == m both hold for any
// well-formed frame.
func Encode(m *Message) []byte {
	buf := make([]byte, HeaderLength+4+4+len(m.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.ServiceID))
	binary.BigEndian.PutUint16(buf[2:4], uint16(m.MethodID))
	binary.BigEndian.PutUint32(buf[4:8], m.Length())
	binary.BigEndian.PutUint16(buf[8:10], uint16(m.ClientID))
	binary.BigEndian.PutUint16(buf[10:12], uint16(m.SessionID))
	buf[12] = m.ProtocolVersion
	buf[13] = m.InterfaceVersion
	buf[14] = uint8(m.MessageType)
	buf[15] = uint8(m.ReturnCode)
	copy(buf[16:], m.Payload)
	return buf
}

// Decode parses one SOME/IP frame from the front of buf. It returns the
// decoded message, the number of bytes consumed, and an error if buf does
// not hold a complete, valid frame.
//
// maxSize bounds the accepted payload length (see [MaxMessageSize]); pass 0
// to use the default.
func Decode(buf []byte, maxSize uint32) (*Message, int, error) {
	if maxSize == 0 {
		maxSize = MaxMessageSize
	}
	if len(buf) < 8 {
		return nil, 0, obs.New(obs.KindMalformedWireData, "someip.Decode", fmt.Errorf("need at least 8 bytes for service/method/length, have %d", len(buf)))
	}
	length := binary.BigEndian.Uint32(buf[4:8])
	if length < HeaderLength {
		return nil, 0, obs.New(obs.KindMalformedWireData, "someip.Decode", fmt.Errorf("length field %d smaller than header length %d", length, HeaderLength))
	}
	payloadLen := length - HeaderLength
	if payloadLen > maxSize-HeaderLength {
		return nil, 0, obs.New(obs.KindMalformedWireData, "someip.Decode", fmt.Errorf("payload length %d exceeds max %d", payloadLen, maxSize-HeaderLength))
	}
	total := 8 + int(length)
	if len(buf) < total {
		return nil, 0, obs.New(obs.KindMalformedWireData, "someip.Decode", fmt.Errorf("need %d bytes, have %d", total, len(buf)))
	}

	m := &Message{
		ServiceID:        ServiceID(binary.BigEndian.Uint16(buf[0:2])),
		MethodID:         MethodID(binary.BigEndian.Uint16(buf[2:4])),
		ClientID:         ClientID(binary.BigEndian.Uint16(buf[8:10])),
		SessionID:        SessionID(binary.BigEndian.Uint16(buf[10:12])),
		ProtocolVersion:  buf[12],
		InterfaceVersion: buf[13],
		MessageType:      MessageType(buf[14]),
		ReturnCode:       ReturnCode(buf[15]),
	}
	if payloadLen > 0 {
		m.Payload = make([]byte, payloadLen)
		copy(m.Payload, buf[16:16+payloadLen])
	}
	if m.ProtocolVersion != ProtocolVersion {
		return nil, total, obs.New(obs.KindProtocolViolation, "someip.Decode", fmt.Errorf("protocol_version %d != %d", m.ProtocolVersion, ProtocolVersion))
	}
	return m, total, nil
}

// MagicCookieClient / MagicCookieServer are the fixed frames reliable
// transports scan for to resynchronize after a framing error: service=0xFFFF,
// method=0x0421, length=8, client=session=0xDEAD, version=1, iface=1,
// type=REQUEST_NO_RETURN (client) / RESPONSE (server), return=OK.
var (
	MagicCookieClient = Encode(&Message{
		ServiceID: 0xFFFF, MethodID: 0x0421, ClientID: 0xDEAD, SessionID: 0xDEAD,
		ProtocolVersion: 1, InterfaceVersion: 1, MessageType: MessageTypeRequestNoReturn, ReturnCode: ReturnCodeOK,
	})
	MagicCookieServer = Encode(&Message{
		ServiceID: 0xFFFF, MethodID: 0x0421, ClientID: 0xDEAD, SessionID: 0xDEAD,
		ProtocolVersion: 1, InterfaceVersion: 1, MessageType: MessageTypeResponse, ReturnCode: ReturnCodeOK,
	})
)

// IsSDMessage reports whether a decoded frame is a Service Discovery
// message: service_id == 0xFFFF and method_id == 0x8100.
func (m *Message) IsSDMessage() bool {
	return m.ServiceID == 0xFFFF && m.MethodID == 0x8100
}
