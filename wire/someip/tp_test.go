package someip

import (
	"bytes"
	"testing"
	"time"
)

// TestReassemblerOutOfOrder verifies reassembly completes when all offsets
// are covered, regardless of arrival order.
func TestReassemblerOutOfOrder(t *testing.T) {
	r := NewReassembler(1<<20, time.Second)
	hdr := Message{ServiceID: 1, MethodID: 2, ClientID: 3, SessionID: 4, MessageType: MessageTypeTPRequest}

	seg0 := &TPSegment{Header: hdr, Offset: 0, More: true, Payload: bytes.Repeat([]byte{0xAA}, 16)}
	seg1 := &TPSegment{Header: hdr, Offset: 1, More: false, Payload: bytes.Repeat([]byte{0xBB}, 8)}

	// Feed the final segment first.
	msg, err := r.Feed("peer-1", seg1)
	if err != nil {
		t.Fatalf("Feed(seg1) error = %v", err)
	}
	if msg != nil {
		t.Fatalf("Feed(seg1) returned a message before all segments arrived")
	}

	msg, err = r.Feed("peer-1", seg0)
	if err != nil {
		t.Fatalf("Feed(seg0) error = %v", err)
	}
	if msg == nil {
		t.Fatal("Feed(seg0) did not complete the message")
	}
	want := append(bytes.Repeat([]byte{0xAA}, 16), bytes.Repeat([]byte{0xBB}, 8)...)
	if !bytes.Equal(msg.Payload, want) {
		t.Errorf("reassembled payload = %x, want %x", msg.Payload, want)
	}
	if msg.MessageType != MessageTypeRequest {
		t.Errorf("reassembled message type = %v, want MessageTypeRequest (TP bit cleared)", msg.MessageType)
	}
}

// TestReassemblerPerPeerCap verifies segments exceeding the per-peer byte
// budget are rejected.
func TestReassemblerPerPeerCap(t *testing.T) {
	r := NewReassembler(10, time.Second)
	hdr := Message{ServiceID: 1, MethodID: 2, MessageType: MessageTypeTPRequest}
	seg := &TPSegment{Header: hdr, Offset: 0, More: true, Payload: make([]byte, 20)}
	if _, err := r.Feed("peer-1", seg); err == nil {
		t.Fatal("expected resource exhaustion error for over-budget segment")
	}
}

// TestReassemblerSweepDropsStale verifies that missing segments after the
// configured inactivity timeout drop the partial message.
func TestReassemblerSweepDropsStale(t *testing.T) {
	r := NewReassembler(1<<20, time.Millisecond)
	hdr := Message{ServiceID: 1, MethodID: 2, MessageType: MessageTypeTPRequest}
	seg := &TPSegment{Header: hdr, Offset: 0, More: true, Payload: make([]byte, 4)}
	if _, err := r.Feed("peer-1", seg); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if dropped := r.Sweep(time.Now()); dropped != 1 {
		t.Errorf("Sweep() dropped = %d, want 1", dropped)
	}
}
