// Package sd implements bit-exact encoding and decoding of SOME/IP-SD
// entries, options, and the SD payload wrapper, grounded on the entry/option
// layout of the original COVESA/vsomeip sources (someipsdentry.hpp/.cpp,
// someipsd.cpp) and on vsomeip's service-discovery FSM and subscription
// bookkeeping (offer_fsm.hpp, find_fsm.hpp, subscription.hpp).
package sd

import (
	"encoding/binary"
	"fmt"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/someip"
)

// EntryType enumerates the SD entry's type byte.
type EntryType uint8

const (
	EntryTypeFindService  EntryType = 0x00
	EntryTypeOfferService EntryType = 0x01
	EntryTypeSubscribe    EntryType = 0x06
	EntryTypeSubscribeAck EntryType = 0x07
)

// IsService reports whether the entry is a service-class entry
// (Find/OfferService) as opposed to an eventgroup-class entry
// (Subscribe/SubscribeAck).
func (t EntryType) IsService() bool {
	return t == EntryTypeFindService || t == EntryTypeOfferService
}

// EntryLength is the fixed wire size of one SD entry.
const EntryLength = 16

// Entry is one decoded SD entry. Service-class and eventgroup-class fields
// are both present; only the ones relevant to Type are meaningful, mirroring
// the C++ source's union-like SdEntryRaw_t layout (someipsdentry.hpp).
type Entry struct {
	Type EntryType

	// Option reference: each entry points at a contiguous slice of the
	// options array.
	Index1st    uint8
	Index2nd    uint8
	NumOptions1 uint8 // packed into the high nibble of OptsCount on the wire
	NumOptions2 uint8 // packed into the low nibble of OptsCount on the wire

	ServiceID someip.ServiceID
	Instance  someip.InstanceID
	Major     someip.MajorVersion
	TTL       someip.TTL

	// Service-class only (Find/OfferService).
	Minor someip.MinorVersion

	// Eventgroup-class only (Subscribe/SubscribeAck).
	Counter    uint8
	Eventgroup someip.EventgroupID
}

// EncodeEntry serializes one entry to its 16 byte wire representation.
func EncodeEntry(e *Entry) []byte {
	buf := make([]byte, EntryLength)
	buf[0] = uint8(e.Type)
	buf[1] = e.Index1st
	buf[2] = e.Index2nd
	buf[3] = e.NumOptions1<<4 | (e.NumOptions2 & 0x0F)
	binary.BigEndian.PutUint16(buf[4:6], uint16(e.ServiceID))
	binary.BigEndian.PutUint16(buf[6:8], uint16(e.Instance))
	buf[8] = uint8(e.Major)
	buf[9] = byte(e.TTL >> 16)
	buf[10] = byte(e.TTL >> 8)
	buf[11] = byte(e.TTL)
	if e.Type.IsService() {
		binary.BigEndian.PutUint32(buf[12:16], uint32(e.Minor))
	} else {
		buf[12] = 0
		buf[13] = e.Counter
		binary.BigEndian.PutUint16(buf[14:16], uint16(e.Eventgroup))
	}
	return buf
}

// DecodeEntry parses one 16 byte SD entry from the front of buf.
func DecodeEntry(buf []byte) (*Entry, error) {
	if len(buf) < EntryLength {
		return nil, obs.New(obs.KindMalformedWireData, "sd.DecodeEntry", fmt.Errorf("entry needs %d bytes, have %d", EntryLength, len(buf)))
	}
	e := &Entry{
		Type:        EntryType(buf[0]),
		Index1st:    buf[1],
		Index2nd:    buf[2],
		NumOptions1: buf[3] >> 4,
		NumOptions2: buf[3] & 0x0F,
		ServiceID:   someip.ServiceID(binary.BigEndian.Uint16(buf[4:6])),
		Instance:    someip.InstanceID(binary.BigEndian.Uint16(buf[6:8])),
		Major:       someip.MajorVersion(buf[8]),
		TTL:         someip.TTL(uint32(buf[9])<<16 | uint32(buf[10])<<8 | uint32(buf[11])),
	}
	if e.Type.IsService() {
		e.Minor = someip.MinorVersion(binary.BigEndian.Uint32(buf[12:16]))
	} else {
		e.Counter = buf[13]
		e.Eventgroup = someip.EventgroupID(binary.BigEndian.Uint16(buf[14:16]))
	}
	return e, nil
}
