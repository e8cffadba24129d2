package ipc

import (
	"encoding/binary"
	"fmt"

	"github.com/someip-go/vsomeip/obs"
)

// Per-command payload shapes carried inside an [Envelope]. The envelope
// framing (§4.A) only brackets an opaque payload; these are the routing
// core's own wire formats for that payload, analogous to how the original
// daemon's ipc_manager.cpp packs REGISTER_APPLICATION/OFFER_SERVICE/etc.
// bodies ahead of the shared START_TAG/END_TAG envelope.

// RegisterApplicationPayload carries the registering application's display
// name.
type RegisterApplicationPayload struct {
	Name string
}

func EncodeRegisterApplication(p RegisterApplicationPayload) []byte {
	return []byte(p.Name)
}

func DecodeRegisterApplication(buf []byte) RegisterApplicationPayload {
	return RegisterApplicationPayload{Name: string(buf)}
}

// EncodeRegisterApplicationAck/DecodeRegisterApplicationAck carry the
// allocated client id.
func EncodeRegisterApplicationAck(clientID uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, clientID)
	return buf
}

func DecodeRegisterApplicationAck(buf []byte) (uint16, error) {
	if len(buf) < 2 {
		return 0, obs.New(obs.KindMalformedWireData, "ipc.DecodeRegisterApplicationAck", fmt.Errorf("need 2 bytes, have %d", len(buf)))
	}
	return binary.BigEndian.Uint16(buf), nil
}

// ServiceInstancePayload is the common (service, instance, major, minor)
// shape shared by OFFER_SERVICE and REQUEST_SERVICE.
type ServiceInstancePayload struct {
	Service  uint16
	Instance uint16
	Major    uint8
	Minor    uint32
}

func EncodeOfferService(p ServiceInstancePayload, reliablePort, unreliablePort uint16) []byte {
	buf := make([]byte, 2+2+1+4+2+2)
	binary.BigEndian.PutUint16(buf[0:2], p.Service)
	binary.BigEndian.PutUint16(buf[2:4], p.Instance)
	buf[4] = p.Major
	binary.BigEndian.PutUint32(buf[5:9], p.Minor)
	binary.BigEndian.PutUint16(buf[9:11], reliablePort)
	binary.BigEndian.PutUint16(buf[11:13], unreliablePort)
	return buf
}

func DecodeOfferService(buf []byte) (p ServiceInstancePayload, reliablePort, unreliablePort uint16, err error) {
	if len(buf) < 13 {
		err = obs.New(obs.KindMalformedWireData, "ipc.DecodeOfferService", fmt.Errorf("need 13 bytes, have %d", len(buf)))
		return
	}
	p.Service = binary.BigEndian.Uint16(buf[0:2])
	p.Instance = binary.BigEndian.Uint16(buf[2:4])
	p.Major = buf[4]
	p.Minor = binary.BigEndian.Uint32(buf[5:9])
	reliablePort = binary.BigEndian.Uint16(buf[9:11])
	unreliablePort = binary.BigEndian.Uint16(buf[11:13])
	return
}

// EncodeServiceKey/DecodeServiceKey handle the bare (service, instance)
// shape used by STOP_OFFER_SERVICE and RELEASE_SERVICE.
func EncodeServiceKey(service, instance uint16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], service)
	binary.BigEndian.PutUint16(buf[2:4], instance)
	return buf
}

func DecodeServiceKey(buf []byte) (service, instance uint16, err error) {
	if len(buf) < 4 {
		err = obs.New(obs.KindMalformedWireData, "ipc.DecodeServiceKey", fmt.Errorf("need 4 bytes, have %d", len(buf)))
		return
	}
	return binary.BigEndian.Uint16(buf[0:2]), binary.BigEndian.Uint16(buf[2:4]), nil
}

func EncodeRequestService(p ServiceInstancePayload) []byte {
	buf := make([]byte, 2+2+1+4)
	binary.BigEndian.PutUint16(buf[0:2], p.Service)
	binary.BigEndian.PutUint16(buf[2:4], p.Instance)
	buf[4] = p.Major
	binary.BigEndian.PutUint32(buf[5:9], p.Minor)
	return buf
}

func DecodeRequestService(buf []byte) (ServiceInstancePayload, error) {
	if len(buf) < 9 {
		return ServiceInstancePayload{}, obs.New(obs.KindMalformedWireData, "ipc.DecodeRequestService", fmt.Errorf("need 9 bytes, have %d", len(buf)))
	}
	return ServiceInstancePayload{
		Service:  binary.BigEndian.Uint16(buf[0:2]),
		Instance: binary.BigEndian.Uint16(buf[2:4]),
		Major:    buf[4],
		Minor:    binary.BigEndian.Uint32(buf[5:9]),
	}, nil
}

// SubscribePayload carries a SUBSCRIBE/UNSUBSCRIBE command's target.
type SubscribePayload struct {
	Service    uint16
	Instance   uint16
	Eventgroup uint16
	Major      uint8
	TTL        uint32
}

func EncodeSubscribe(p SubscribePayload) []byte {
	buf := make([]byte, 2+2+2+1+4)
	binary.BigEndian.PutUint16(buf[0:2], p.Service)
	binary.BigEndian.PutUint16(buf[2:4], p.Instance)
	binary.BigEndian.PutUint16(buf[4:6], p.Eventgroup)
	buf[6] = p.Major
	binary.BigEndian.PutUint32(buf[7:11], p.TTL)
	return buf
}

func DecodeSubscribe(buf []byte) (SubscribePayload, error) {
	if len(buf) < 11 {
		return SubscribePayload{}, obs.New(obs.KindMalformedWireData, "ipc.DecodeSubscribe", fmt.Errorf("need 11 bytes, have %d", len(buf)))
	}
	return SubscribePayload{
		Service:    binary.BigEndian.Uint16(buf[0:2]),
		Instance:   binary.BigEndian.Uint16(buf[2:4]),
		Eventgroup: binary.BigEndian.Uint16(buf[4:6]),
		Major:      buf[6],
		TTL:        binary.BigEndian.Uint32(buf[7:11]),
	}, nil
}

func EncodeUnsubscribe(service, instance, eventgroup uint16) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], service)
	binary.BigEndian.PutUint16(buf[2:4], instance)
	binary.BigEndian.PutUint16(buf[4:6], eventgroup)
	return buf
}

func DecodeUnsubscribe(buf []byte) (service, instance, eventgroup uint16, err error) {
	if len(buf) < 6 {
		err = obs.New(obs.KindMalformedWireData, "ipc.DecodeUnsubscribe", fmt.Errorf("need 6 bytes, have %d", len(buf)))
		return
	}
	return binary.BigEndian.Uint16(buf[0:2]), binary.BigEndian.Uint16(buf[2:4]), binary.BigEndian.Uint16(buf[4:6]), nil
}

// SOMEIP_MESSAGE/SOMEIP_FIELD payload wraps an encoded SOME/IP frame with
// the non-wire attributes routing needs: the instance id (the wire frame
// itself carries no instance, only service/method) and a flags byte (bit 0
// = reliable, bit 1 = is_initial).
const (
	SomeipFlagReliable = 1 << 0
	SomeipFlagInitial  = 1 << 1
)

func EncodeSomeipEnvelope(instanceID uint16, flags uint8, frame []byte) []byte {
	buf := make([]byte, 2+1+len(frame))
	binary.BigEndian.PutUint16(buf[0:2], instanceID)
	buf[2] = flags
	copy(buf[3:], frame)
	return buf
}

func DecodeSomeipEnvelope(buf []byte) (instanceID uint16, flags uint8, frame []byte, err error) {
	if len(buf) < 3 {
		err = obs.New(obs.KindMalformedWireData, "ipc.DecodeSomeipEnvelope", fmt.Errorf("need at least 3 bytes, have %d", len(buf)))
		return
	}
	instanceID = binary.BigEndian.Uint16(buf[0:2])
	flags = buf[2]
	frame = buf[3:]
	return
}

// EncodeAvailabilityUpdate/DecodeAvailabilityUpdate carry a (service,
// instance, available) push from the routing host to a requesting
// application.
func EncodeAvailabilityUpdate(service, instance uint16, available bool) []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint16(buf[0:2], service)
	binary.BigEndian.PutUint16(buf[2:4], instance)
	if available {
		buf[4] = 1
	}
	return buf
}

func DecodeAvailabilityUpdate(buf []byte) (service, instance uint16, available bool, err error) {
	if len(buf) < 5 {
		err = obs.New(obs.KindMalformedWireData, "ipc.DecodeAvailabilityUpdate", fmt.Errorf("need 5 bytes, have %d", len(buf)))
		return
	}
	return binary.BigEndian.Uint16(buf[0:2]), binary.BigEndian.Uint16(buf[2:4]), buf[4] != 0, nil
}

func EncodeRoutingState(state uint8) []byte { return []byte{state} }

func DecodeRoutingState(buf []byte) (uint8, error) {
	if len(buf) < 1 {
		return 0, obs.New(obs.KindMalformedWireData, "ipc.DecodeRoutingState", fmt.Errorf("need 1 byte, have 0"))
	}
	return buf[0], nil
}
