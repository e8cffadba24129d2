package sd

import (
	"encoding/binary"
	"fmt"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/someip"
)

// ServiceID / MethodID identify SD messages on the wire.
const (
	ServiceID = someip.ServiceID(0xFFFF)
	MethodID  = someip.MethodID(0x8100)
)

// Flags holds the SD payload's 8 bit flags field.
type Flags struct {
	Reboot         bool // bit 7
	UnicastCapable bool // bit 6
}

func (f Flags) encode() byte {
	var b byte
	if f.Reboot {
		b |= 0x80
	}
	if f.UnicastCapable {
		b |= 0x40
	}
	return b
}

func decodeFlags(b byte) Flags {
	return Flags{Reboot: b&0x80 != 0, UnicastCapable: b&0x40 != 0}
}

// Message is a decoded SOME/IP-SD payload: flags, entries, and options.
type Message struct {
	Flags   Flags
	Entries []*Entry
	Options []*Option
}

// EncodeMessage serializes an SD [Message] into the SOME/IP payload bytes
// that follow the common SOME/IP header (service=0xFFFF, method=0x8100).
func EncodeMessage(m *Message) []byte {
	var entryBytes []byte
	for _, e := range m.Entries {
		entryBytes = append(entryBytes, EncodeEntry(e)...)
	}
	var optionBytes []byte
	for _, o := range m.Options {
		optionBytes = append(optionBytes, EncodeOption(o)...)
	}

	buf := make([]byte, 8+len(entryBytes)+4+len(optionBytes))
	buf[0] = m.Flags.encode()
	// bytes 1-3 reserved
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(entryBytes)))
	copy(buf[8:], entryBytes)
	off := 8 + len(entryBytes)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(optionBytes)))
	copy(buf[off+4:], optionBytes)
	return buf
}

// DecodeMessage parses an SD [Message] from the SOME/IP payload bytes that
// follow the common SOME/IP header.
func DecodeMessage(buf []byte) (*Message, error) {
	if len(buf) < 8 {
		return nil, obs.New(obs.KindMalformedWireData, "sd.DecodeMessage", fmt.Errorf("SD payload needs at least 8 bytes, have %d", len(buf)))
	}
	m := &Message{Flags: decodeFlags(buf[0])}
	entriesLen := binary.BigEndian.Uint32(buf[4:8])
	if uint32(len(buf)-8) < entriesLen {
		return nil, obs.New(obs.KindMalformedWireData, "sd.DecodeMessage", fmt.Errorf("entries_length %d exceeds remaining %d bytes", entriesLen, len(buf)-8))
	}
	if entriesLen%EntryLength != 0 {
		return nil, obs.New(obs.KindMalformedWireData, "sd.DecodeMessage", fmt.Errorf("entries_length %d is not a multiple of %d", entriesLen, EntryLength))
	}
	entryBuf := buf[8 : 8+entriesLen]
	for len(entryBuf) > 0 {
		e, err := DecodeEntry(entryBuf)
		if err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, e)
		entryBuf = entryBuf[EntryLength:]
	}

	rest := buf[8+entriesLen:]
	if len(rest) < 4 {
		return nil, obs.New(obs.KindMalformedWireData, "sd.DecodeMessage", fmt.Errorf("missing options_length field"))
	}
	optionsLen := binary.BigEndian.Uint32(rest[0:4])
	optionBuf := rest[4:]
	if uint32(len(optionBuf)) < optionsLen {
		return nil, obs.New(obs.KindMalformedWireData, "sd.DecodeMessage", fmt.Errorf("options_length %d exceeds remaining %d bytes", optionsLen, len(optionBuf)))
	}
	optionBuf = optionBuf[:optionsLen]
	for len(optionBuf) > 0 {
		o, n, err := DecodeOption(optionBuf)
		if err != nil {
			return nil, err
		}
		m.Options = append(m.Options, o)
		optionBuf = optionBuf[n:]
	}

	if err := validateOptionReferences(m); err != nil {
		return nil, err
	}
	return m, nil
}

// validateOptionReferences checks that every entry's option-index slices
// reference options that actually exist: a receiver must validate that
// every referenced option is in range before resolving it.
func validateOptionReferences(m *Message) error {
	for _, e := range m.Entries {
		if err := checkRun(m, int(e.Index1st), int(e.NumOptions1)); err != nil {
			return err
		}
		if e.NumOptions2 > 0 {
			if err := checkRun(m, int(e.Index2nd), int(e.NumOptions2)); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkRun(m *Message, index, count int) error {
	if count == 0 {
		return nil
	}
	if index < 0 || index+count > len(m.Options) {
		return obs.New(obs.KindMalformedWireData, "sd.validateOptionReferences", fmt.Errorf("option run [%d,%d) out of range (have %d options)", index, index+count, len(m.Options)))
	}
	return nil
}

// ResolveOptions returns the options an entry references: the first run at
// [Index1st, Index1st+NumOptions1), plus an optional second run at
// [Index2nd, Index2nd+NumOptions2).
func (m *Message) ResolveOptions(e *Entry) []*Option {
	var out []*Option
	out = append(out, m.Options[e.Index1st:int(e.Index1st)+int(e.NumOptions1)]...)
	if e.NumOptions2 > 0 {
		out = append(out, m.Options[e.Index2nd:int(e.Index2nd)+int(e.NumOptions2)]...)
	}
	return out
}
