// Package ipc implements the local command framing used on the UNIX
// sequenced-packet bus between routing manager and applications: a tagged
// envelope wrapping the command byte, sender client id, and payload.
package ipc

import (
	"encoding/binary"
	"fmt"

	"github.com/someip-go/vsomeip/obs"
)

// StartTag / EndTag bracket every envelope so a peer resynchronizing after a
// framing error can scan forward for the next well-formed frame.
const (
	StartTag uint32 = 0xABABABAB
	EndTag   uint32 = 0xBABABABA
)

// Command enumerates the local bus's control and data messages.
type Command uint8

const (
	CommandRegisterApplication    Command = 0x01
	CommandRegisterApplicationAck Command = 0x02
	CommandDeregisterApplication  Command = 0x03
	CommandPing                   Command = 0x04
	CommandPong                   Command = 0x05
	CommandOfferService           Command = 0x10
	CommandStopOfferService       Command = 0x11
	CommandRequestService         Command = 0x12
	CommandReleaseService         Command = 0x13
	CommandSubscribe              Command = 0x14
	CommandUnsubscribe            Command = 0x15
	CommandSubscribeAck           Command = 0x16
	CommandSubscribeNack          Command = 0x17
	CommandSomeipMessage          Command = 0x20
	CommandSomeipField            Command = 0x21
	CommandSetRoutingState        Command = 0x22

	// CommandAvailabilityUpdate is a routing-host-to-application push
	// notifying that a (service, instance) became available or
	// unavailable, the Go rendition of the original daemon's
	// routing-info-update command (not enumerated by name in spec.md §4.A,
	// whose command list is introduced with "cover" rather than an
	// exhaustive "are"; availability push is how spec.md §2's "Routing...
	// relays availability/subscription callbacks to applications" is
	// actually delivered over the wire).
	CommandAvailabilityUpdate Command = 0x23
)

func (c Command) String() string {
	switch c {
	case CommandRegisterApplication:
		return "REGISTER_APPLICATION"
	case CommandRegisterApplicationAck:
		return "REGISTER_APPLICATION_ACK"
	case CommandDeregisterApplication:
		return "DEREGISTER_APPLICATION"
	case CommandPing:
		return "PING"
	case CommandPong:
		return "PONG"
	case CommandOfferService:
		return "OFFER_SERVICE"
	case CommandStopOfferService:
		return "STOP_OFFER_SERVICE"
	case CommandRequestService:
		return "REQUEST_SERVICE"
	case CommandReleaseService:
		return "RELEASE_SERVICE"
	case CommandSubscribe:
		return "SUBSCRIBE"
	case CommandUnsubscribe:
		return "UNSUBSCRIBE"
	case CommandSubscribeAck:
		return "SUBSCRIBE_ACK"
	case CommandSubscribeNack:
		return "SUBSCRIBE_NACK"
	case CommandSomeipMessage:
		return "SOMEIP_MESSAGE"
	case CommandSomeipField:
		return "SOMEIP_FIELD"
	case CommandSetRoutingState:
		return "SET_ROUTING_STATE"
	case CommandAvailabilityUpdate:
		return "AVAILABILITY_UPDATE"
	default:
		return fmt.Sprintf("COMMAND(%#02x)", uint8(c))
	}
}

// MaxCommandSize bounds an envelope's payload to stop one client from
// blocking the host queue with an unbounded write.
const MaxCommandSize = 1 << 20 // 1 MiB

// Envelope is one framed message on the local bus.
type Envelope struct {
	SenderClientID uint16
	Command        Command
	Payload        []byte
}

// Encode serializes e: START_TAG, sender_client_id, command,
// payload_size, payload, END_TAG.
func Encode(e *Envelope) []byte {
	buf := make([]byte, 4+2+1+4+len(e.Payload)+4)
	binary.BigEndian.PutUint32(buf[0:4], StartTag)
	binary.BigEndian.PutUint16(buf[4:6], e.SenderClientID)
	buf[6] = uint8(e.Command)
	binary.BigEndian.PutUint32(buf[7:11], uint32(len(e.Payload)))
	copy(buf[11:], e.Payload)
	binary.BigEndian.PutUint32(buf[11+len(e.Payload):], EndTag)
	return buf
}

// Decode parses one envelope from the front of buf, returning the envelope
// and the number of bytes consumed.
func Decode(buf []byte) (*Envelope, int, error) {
	const headerLen = 4 + 2 + 1 + 4
	if len(buf) < headerLen {
		return nil, 0, obs.New(obs.KindResourceExhaustion, "ipc.Decode", fmt.Errorf("need at least %d bytes, have %d", headerLen, len(buf)))
	}
	if tag := binary.BigEndian.Uint32(buf[0:4]); tag != StartTag {
		return nil, 0, obs.New(obs.KindMalformedWireData, "ipc.Decode", fmt.Errorf("bad start tag %#x", tag))
	}
	payloadSize := binary.BigEndian.Uint32(buf[7:11])
	if payloadSize > MaxCommandSize {
		return nil, 0, obs.New(obs.KindResourceExhaustion, "ipc.Decode", fmt.Errorf("payload_size %d exceeds max %d", payloadSize, MaxCommandSize))
	}
	total := headerLen + int(payloadSize) + 4
	if len(buf) < total {
		return nil, 0, obs.New(obs.KindResourceExhaustion, "ipc.Decode", fmt.Errorf("need %d bytes, have %d", total, len(buf)))
	}
	if tag := binary.BigEndian.Uint32(buf[total-4 : total]); tag != EndTag {
		return nil, 0, obs.New(obs.KindMalformedWireData, "ipc.Decode", fmt.Errorf("bad end tag %#x", tag))
	}
	e := &Envelope{
		SenderClientID: binary.BigEndian.Uint16(buf[4:6]),
		Command:        Command(buf[6]),
	}
	if payloadSize > 0 {
		e.Payload = make([]byte, payloadSize)
		copy(e.Payload, buf[11:11+payloadSize])
	}
	return e, total, nil
}

// ScanForStartTag advances past garbage bytes to the next START_TAG,
// mirroring how a reliable endpoint resynchronizes after a framing error. It
// returns the index of the tag, or -1 if none is found.
func ScanForStartTag(buf []byte) int {
	for i := 0; i+4 <= len(buf); i++ {
		if binary.BigEndian.Uint32(buf[i:i+4]) == StartTag {
			return i
		}
	}
	return -1
}
