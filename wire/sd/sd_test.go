package sd

import (
	"bytes"
	"net"
	"testing"

	"github.com/someip-go/vsomeip/wire/someip"
)

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	cases := []*Entry{
		{
			Type:        EntryTypeOfferService,
			ServiceID:   0x1234,
			Instance:    0x0001,
			Major:       1,
			TTL:         3,
			Minor:       someip.AnyMinor,
			NumOptions1: 1,
		},
		{
			Type:        EntryTypeSubscribe,
			ServiceID:   0x1234,
			Instance:    0x0001,
			Major:       1,
			TTL:         3,
			Counter:     2,
			Eventgroup:  0x0010,
			NumOptions1: 1,
			NumOptions2: 1,
			Index2nd:    1,
		},
	}
	for _, want := range cases {
		buf := EncodeEntry(want)
		if len(buf) != EntryLength {
			t.Fatalf("EncodeEntry length = %d, want %d", len(buf), EntryLength)
		}
		got, err := DecodeEntry(buf)
		if err != nil {
			t.Fatalf("DecodeEntry error = %v", err)
		}
		if *got != *want {
			t.Errorf("round trip mismatch: got %+v, want %+v", *got, *want)
		}
	}
}

func TestDecodeEntryTruncated(t *testing.T) {
	if _, err := DecodeEntry(make([]byte, EntryLength-1)); err == nil {
		t.Fatal("expected error decoding truncated entry")
	}
}

func TestOptionEncodeDecodeRoundTrip(t *testing.T) {
	cases := []*Option{
		{Type: OptionTypeIPv4Endpoint, Address: net.IPv4(192, 168, 1, 1), Port: 30509, Transport: EndpointTransportUDP},
		{Type: OptionTypeIPv6Endpoint, Address: net.ParseIP("fe80::1"), Port: 30509, Transport: EndpointTransportTCP},
		{Type: OptionTypeIPv4Multicast, Address: net.IPv4(224, 0, 0, 1), Port: 30490, Transport: EndpointTransportUDP},
		{Type: OptionTypeLoadBalancing, Priority: 1, Weight: 100},
		{Type: OptionTypeConfiguration, ConfigEntries: []string{"protocol=tcp", "clientport"}},
	}
	for _, want := range cases {
		buf := EncodeOption(want)
		got, n, err := DecodeOption(buf)
		if err != nil {
			t.Fatalf("DecodeOption(%v) error = %v", want.Type, err)
		}
		if n != len(buf) {
			t.Errorf("DecodeOption consumed %d bytes, want %d", n, len(buf))
		}
		switch want.Type {
		case OptionTypeIPv4Endpoint, OptionTypeIPv4Multicast:
			if !got.Address.Equal(want.Address) || got.Port != want.Port || got.Transport != want.Transport {
				t.Errorf("IPv4 option mismatch: got %+v, want %+v", got, want)
			}
		case OptionTypeIPv6Endpoint:
			if !got.Address.Equal(want.Address) || got.Port != want.Port || got.Transport != want.Transport {
				t.Errorf("IPv6 option mismatch: got %+v, want %+v", got, want)
			}
		case OptionTypeLoadBalancing:
			if got.Priority != want.Priority || got.Weight != want.Weight {
				t.Errorf("load-balancing option mismatch: got %+v, want %+v", got, want)
			}
		case OptionTypeConfiguration:
			if len(got.ConfigEntries) != len(want.ConfigEntries) {
				t.Fatalf("config entries count = %d, want %d", len(got.ConfigEntries), len(want.ConfigEntries))
			}
			for i := range want.ConfigEntries {
				if got.ConfigEntries[i] != want.ConfigEntries[i] {
					t.Errorf("config entry %d = %q, want %q", i, got.ConfigEntries[i], want.ConfigEntries[i])
				}
			}
		}
	}
}

func TestDecodeOptionTruncated(t *testing.T) {
	if _, _, err := DecodeOption([]byte{0x00, 0x09, 0x04}); err == nil {
		t.Fatal("expected error decoding truncated option")
	}
}

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	offer := &Entry{
		Type:        EntryTypeOfferService,
		ServiceID:   0x1234,
		Instance:    0x0001,
		Major:       1,
		TTL:         3,
		Minor:       0,
		NumOptions1: 1,
	}
	endpoint := &Option{Type: OptionTypeIPv4Endpoint, Address: net.IPv4(10, 0, 0, 1), Port: 30509, Transport: EndpointTransportUDP}

	want := &Message{
		Flags:   Flags{Reboot: true, UnicastCapable: true},
		Entries: []*Entry{offer},
		Options: []*Option{endpoint},
	}

	buf := EncodeMessage(want)
	got, err := DecodeMessage(buf)
	if err != nil {
		t.Fatalf("DecodeMessage error = %v", err)
	}
	if got.Flags != want.Flags {
		t.Errorf("flags = %+v, want %+v", got.Flags, want.Flags)
	}
	if len(got.Entries) != 1 || *got.Entries[0] != *offer {
		t.Errorf("entries = %+v, want [%+v]", got.Entries, offer)
	}
	if len(got.Options) != 1 || !got.Options[0].Address.Equal(endpoint.Address) {
		t.Errorf("options = %+v, want [%+v]", got.Options, endpoint)
	}

	resolved := got.ResolveOptions(got.Entries[0])
	if len(resolved) != 1 || !resolved[0].Address.Equal(endpoint.Address) {
		t.Errorf("ResolveOptions = %+v, want [%+v]", resolved, endpoint)
	}
}

func TestMessageRejectsOutOfRangeOptionIndex(t *testing.T) {
	offer := &Entry{Type: EntryTypeOfferService, ServiceID: 1, Instance: 1, Major: 1, TTL: 3, NumOptions1: 2}
	m := &Message{Entries: []*Entry{offer}}
	buf := EncodeMessage(m)
	if _, err := DecodeMessage(buf); err == nil {
		t.Fatal("expected error decoding entry referencing out-of-range options")
	}
}

func TestDecodeMessageTruncated(t *testing.T) {
	if _, err := DecodeMessage([]byte{0x00, 0x00, 0x00}); err == nil {
		t.Fatal("expected error decoding truncated SD message")
	}
}

func TestMessageEmpty(t *testing.T) {
	m := &Message{}
	buf := EncodeMessage(m)
	got, err := DecodeMessage(buf)
	if err != nil {
		t.Fatalf("DecodeMessage error = %v", err)
	}
	if len(got.Entries) != 0 || len(got.Options) != 0 {
		t.Errorf("expected empty message, got %+v", got)
	}
	if !bytes.Equal(buf, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}) {
		t.Errorf("empty message encoding = %x, want 12 zero bytes", buf)
	}
}
