package someip

import (
	"bytes"
	"testing"

	"github.com/someip-go/vsomeip/obs"
)

// TestEncodeDecodeRoundTrip verifies encode(decode(b)) == b and
// decode(encode(m)) == m for a well-formed frame.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "hello request",
			msg: &Message{
				ServiceID: 0x1111, MethodID: 0x3333, ClientID: 0x0010, SessionID: 0x0001,
				ProtocolVersion: 1, InterfaceVersion: 1, MessageType: MessageTypeRequest, ReturnCode: ReturnCodeOK,
				Payload: []byte("World"),
			},
		},
		{
			name: "empty payload notification",
			msg: &Message{
				ServiceID: 0x0001, MethodID: 0x8001, ClientID: 0, SessionID: 0,
				ProtocolVersion: 1, InterfaceVersion: 1, MessageType: MessageTypeNotification, ReturnCode: ReturnCodeOK,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.msg)
			decoded, n, err := Decode(encoded, 0)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if n != len(encoded) {
				t.Errorf("Decode() consumed = %d, want %d", n, len(encoded))
			}
			if decoded.ServiceID != tt.msg.ServiceID || decoded.MethodID != tt.msg.MethodID {
				t.Errorf("Decode() service/method = %#x/%#x, want %#x/%#x", decoded.ServiceID, decoded.MethodID, tt.msg.ServiceID, tt.msg.MethodID)
			}
			if !bytes.Equal(decoded.Payload, tt.msg.Payload) {
				t.Errorf("Decode() payload = %q, want %q", decoded.Payload, tt.msg.Payload)
			}
			reencoded := Encode(decoded)
			if !bytes.Equal(reencoded, encoded) {
				t.Errorf("Encode(Decode(b)) != b")
			}
		})
	}
}

// TestLengthInvariant checks that m.Length() == 8 + len(m.Payload).
func TestLengthInvariant(t *testing.T) {
	m := &Message{Payload: make([]byte, 42), ProtocolVersion: 1}
	if got, want := m.Length(), uint32(8+42); got != want {
		t.Errorf("Length() = %d, want %d", got, want)
	}
}

// TestDecodeBoundary verifies the max size boundary: a payload of exactly
// max-8 bytes succeeds, one byte more is rejected.
func TestDecodeBoundary(t *testing.T) {
	const max = 64
	ok := &Message{ProtocolVersion: 1, MessageType: MessageTypeRequest, Payload: make([]byte, max-HeaderLength)}
	if _, _, err := Decode(Encode(ok), max); err != nil {
		t.Fatalf("boundary payload rejected: %v", err)
	}

	tooBig := &Message{ProtocolVersion: 1, MessageType: MessageTypeRequest, Payload: make([]byte, max-HeaderLength+1)}
	if _, _, err := Decode(Encode(tooBig), max); err == nil {
		t.Fatalf("expected rejection for payload one byte over max")
	}
}

// TestDecodeTruncated verifies a truncated frame is rejected as malformed
// wire data.
func TestDecodeTruncated(t *testing.T) {
	full := Encode(&Message{ProtocolVersion: 1, MessageType: MessageTypeRequest, Payload: []byte("hello")})
	_, _, err := Decode(full[:10], 0)
	if err == nil {
		t.Fatal("expected error decoding truncated frame")
	}
	if got := obs.AsKind(err); got != obs.KindMalformedWireData {
		t.Errorf("truncated frame error kind = %v, want %v", got, obs.KindMalformedWireData)
	}
}

// TestDecodeWrongProtocolVersion verifies non-v1 frames are flagged as a
// protocol violation.
func TestDecodeWrongProtocolVersion(t *testing.T) {
	m := &Message{ProtocolVersion: 2, MessageType: MessageTypeRequest}
	_, _, err := Decode(Encode(m), 0)
	if err == nil {
		t.Fatal("expected protocol violation error")
	}
	if got := obs.AsKind(err); got != obs.KindProtocolViolation {
		t.Errorf("wrong protocol version error kind = %v, want %v", got, obs.KindProtocolViolation)
	}
}

// TestMagicCookiesAreWellFormed verifies the magic cookie frames decode
// cleanly, since the endpoint engine scans for their exact byte pattern
// during resync.
func TestMagicCookiesAreWellFormed(t *testing.T) {
	for name, cookie := range map[string][]byte{"client": MagicCookieClient, "server": MagicCookieServer} {
		if len(cookie) != 16 {
			t.Errorf("%s cookie length = %d, want 16", name, len(cookie))
		}
		if _, _, err := Decode(cookie, 0); err != nil {
			t.Errorf("%s cookie does not decode: %v", name, err)
		}
	}
}
