package sd

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/someip"
)

// OptionType enumerates the SD option's type byte.
type OptionType uint8

const (
	OptionTypeConfiguration  OptionType = 0x01
	OptionTypeLoadBalancing  OptionType = 0x02
	OptionTypeIPv4Endpoint   OptionType = 0x04
	OptionTypeIPv6Endpoint   OptionType = 0x06
	OptionTypeIPv4Multicast  OptionType = 0x14
	OptionTypeIPv6Multicast  OptionType = 0x16
	OptionTypeIPv4SDEndpoint OptionType = 0x24
	OptionTypeIPv6SDEndpoint OptionType = 0x26
	OptionTypeProtection     OptionType = 0x07
)

// EndpointTransport enumerates the transport byte inside an endpoint option.
type EndpointTransport uint8

const (
	EndpointTransportTCP EndpointTransport = 0x06
	EndpointTransportUDP EndpointTransport = 0x11
)

// Option is a decoded SD option (TLV: 16 bit length, 8 bit type, 8 bit
// reserved, then type-specific data). Only the fields relevant to Type are
// meaningful.
type Option struct {
	Type OptionType

	// IPv4/IPv6 endpoint and multicast options.
	Address   net.IP
	Port      uint16
	Transport EndpointTransport

	// Configuration option: a sequence of "key=value" (or bare "key")
	// entries, each length-prefixed by one byte.
	ConfigEntries []string

	// Load-balancing option.
	Priority uint16
	Weight   uint16
}

// EncodeOption serializes one option to its TLV wire representation.
func EncodeOption(o *Option) []byte {
	switch o.Type {
	case OptionTypeIPv4Endpoint, OptionTypeIPv4Multicast, OptionTypeIPv4SDEndpoint:
		buf := make([]byte, 3+9)
		binary.BigEndian.PutUint16(buf[0:2], 9)
		buf[2] = uint8(o.Type)
		ip4 := o.Address.To4()
		copy(buf[4:8], ip4)
		buf[8] = 0 // reserved
		buf[9] = uint8(o.Transport)
		binary.BigEndian.PutUint16(buf[10:12], o.Port)
		return buf
	case OptionTypeIPv6Endpoint, OptionTypeIPv6Multicast, OptionTypeIPv6SDEndpoint:
		buf := make([]byte, 3+21)
		binary.BigEndian.PutUint16(buf[0:2], 21)
		buf[2] = uint8(o.Type)
		ip6 := o.Address.To16()
		copy(buf[4:20], ip6)
		buf[20] = 0
		buf[21] = uint8(o.Transport)
		binary.BigEndian.PutUint16(buf[22:24], o.Port)
		return buf
	case OptionTypeLoadBalancing:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint16(buf[0:2], 5)
		buf[2] = uint8(o.Type)
		binary.BigEndian.PutUint16(buf[4:6], o.Priority)
		binary.BigEndian.PutUint16(buf[6:8], o.Weight)
		return buf
	case OptionTypeConfiguration:
		var data []byte
		for _, e := range o.ConfigEntries {
			data = append(data, byte(len(e)))
			data = append(data, e...)
		}
		buf := make([]byte, 4+len(data))
		binary.BigEndian.PutUint16(buf[0:2], uint16(1+len(data)))
		buf[2] = uint8(o.Type)
		copy(buf[4:], data)
		return buf
	default:
		// Protection and unrecognized option types are encoded as a bare
		// header with an empty body; on decode their body bytes are skipped
		// and not kept.
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], 1)
		buf[2] = uint8(o.Type)
		return buf
	}
}

// DecodeOption parses one option from the front of buf, returning the
// option and the number of bytes consumed.
func DecodeOption(buf []byte) (*Option, int, error) {
	if len(buf) < 4 {
		return nil, 0, obs.New(obs.KindMalformedWireData, "sd.DecodeOption", fmt.Errorf("option header needs 4 bytes, have %d", len(buf)))
	}
	length := binary.BigEndian.Uint16(buf[0:2])
	total := 3 + int(length)
	if len(buf) < total {
		return nil, 0, obs.New(obs.KindMalformedWireData, "sd.DecodeOption", fmt.Errorf("option needs %d bytes, have %d", total, len(buf)))
	}
	o := &Option{Type: OptionType(buf[2])}
	body := buf[4:total]
	switch o.Type {
	case OptionTypeIPv4Endpoint, OptionTypeIPv4Multicast, OptionTypeIPv4SDEndpoint:
		if len(body) < 8 {
			return nil, 0, obs.New(obs.KindMalformedWireData, "sd.DecodeOption", fmt.Errorf("IPv4 option body too short"))
		}
		o.Address = net.IPv4(body[0], body[1], body[2], body[3])
		o.Transport = EndpointTransport(body[5])
		o.Port = binary.BigEndian.Uint16(body[6:8])
	case OptionTypeIPv6Endpoint, OptionTypeIPv6Multicast, OptionTypeIPv6SDEndpoint:
		if len(body) < 20 {
			return nil, 0, obs.New(obs.KindMalformedWireData, "sd.DecodeOption", fmt.Errorf("IPv6 option body too short"))
		}
		o.Address = net.IP(append([]byte(nil), body[0:16]...))
		o.Transport = EndpointTransport(body[17])
		o.Port = binary.BigEndian.Uint16(body[18:20])
	case OptionTypeLoadBalancing:
		if len(body) >= 4 {
			o.Priority = binary.BigEndian.Uint16(body[0:2])
			o.Weight = binary.BigEndian.Uint16(body[2:4])
		}
	case OptionTypeConfiguration:
		for i := 0; i < len(body); {
			n := int(body[i])
			i++
			if i+n > len(body) {
				break
			}
			o.ConfigEntries = append(o.ConfigEntries, string(body[i:i+n]))
			i += n
		}
	}
	return o, total, nil
}

// someipProtocol maps an [EndpointTransport] to the wire-level [someip.Protocol].
func (t EndpointTransport) someipProtocol() someip.Protocol {
	if t == EndpointTransportTCP {
		return someip.ProtocolTCP
	}
	return someip.ProtocolUDP
}
