package someip

import (
	"fmt"
	"sync"
	"time"

	"github.com/someip-go/vsomeip/obs"
)

// TPSegment is one fragment of a TP (Transport Protocol) message, carrying
// the 32 bit offset (in units of 16 bytes, per SOME/IP-TP) and the "more
// segments follow" flag packed into the first 4 payload bytes.
type TPSegment struct {
	Header  Message // header fields with MessageType one of the TP* variants
	Offset  uint32  // position of Payload within the reassembled message, in 16-byte units
	More    bool
	Payload []byte
}

// EncodeTPSegment serializes one TP segment: the first 4 payload bytes hold
// offset<<4 | reserved(3) | more(1), followed by this segment's chunk.
func EncodeTPSegment(seg *TPSegment) []byte {
	hdr := seg.Header
	hdr.Payload = make([]byte, 4+len(seg.Payload))
	word := seg.Offset << 4
	if seg.More {
		word |= 1
	}
	hdr.Payload[0] = byte(word >> 24)
	hdr.Payload[1] = byte(word >> 16)
	hdr.Payload[2] = byte(word >> 8)
	hdr.Payload[3] = byte(word)
	copy(hdr.Payload[4:], seg.Payload)
	return Encode(&hdr)
}

// DecodeTPSegment extracts offset/more/payload from a decoded TP message.
func DecodeTPSegment(m *Message) (*TPSegment, error) {
	if len(m.Payload) < 4 {
		return nil, obs.New(obs.KindMalformedWireData, "someip.DecodeTPSegment", fmt.Errorf("TP segment payload shorter than 4 bytes"))
	}
	word := uint32(m.Payload[0])<<24 | uint32(m.Payload[1])<<16 | uint32(m.Payload[2])<<8 | uint32(m.Payload[3])
	seg := &TPSegment{
		Header:  *m,
		Offset:  word >> 4,
		More:    word&1 != 0,
		Payload: m.Payload[4:],
	}
	return seg, nil
}

// tpKey identifies one reassembly target: a peer plus the (message_id,
// request_id) pair its segments share.
type tpKey struct {
	peer      string
	messageID MessageID
	requestID RequestID
}

type tpPartial struct {
	chunks map[uint32][]byte
	total  int // total bytes seen so far, used against the per-peer cap
	lastAt time.Time
	done   bool
	header Message
}

// Reassembler bounds TP reassembly state per peer, to prevent a hostile or
// malfunctioning peer from exhausting memory with abandoned fragments.
type Reassembler struct {
	mu             sync.Mutex
	perPeerMaxBytes int
	inactivity      time.Duration
	partial         map[tpKey]*tpPartial
	peerTotals      map[string]int
}

// NewReassembler builds a [Reassembler] with the given per-peer byte budget
// and inactivity timeout.
func NewReassembler(perPeerMaxBytes int, inactivity time.Duration) *Reassembler {
	return &Reassembler{
		perPeerMaxBytes: perPeerMaxBytes,
		inactivity:      inactivity,
		partial:         make(map[tpKey]*tpPartial),
		peerTotals:      make(map[string]int),
	}
}

// Feed adds one segment to the reassembler. When the segment completes the
// message (no gaps between offset 0 and the final "more=false" segment), it
// returns the reassembled Message. Segments may arrive out of order;
// completion is detected by byte coverage rather than arrival sequence.
func (r *Reassembler) Feed(peer string, seg *TPSegment) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tpKey{peer: peer, messageID: MessageID{Service: seg.Header.ServiceID, Method: seg.Header.MethodID}, requestID: RequestID{Client: seg.Header.ClientID, Session: seg.Header.SessionID}}
	p, ok := r.partial[key]
	if !ok {
		p = &tpPartial{chunks: make(map[uint32][]byte), header: seg.Header}
		r.partial[key] = p
	}
	if _, dup := p.chunks[seg.Offset]; !dup {
		if r.peerTotals[peer]+len(seg.Payload) > r.perPeerMaxBytes {
			return nil, obs.New(obs.KindResourceExhaustion, "someip.Reassembler.Feed", fmt.Errorf("per-peer TP reassembly budget exceeded for %s", peer))
		}
		p.chunks[seg.Offset] = seg.Payload
		p.total += len(seg.Payload)
		r.peerTotals[peer] += len(seg.Payload)
	}
	p.lastAt = time.Now()
	if !seg.More {
		p.done = true
	}

	if !p.done {
		return nil, nil
	}
	// Verify contiguous byte coverage starting at offset 0. TP offsets are
	// counted in 16-byte units on the wire, so the next chunk is looked up
	// at the byte length assembled so far divided by 16; out-of-order
	// segments are stitched by position.
	assembled := make([]byte, 0, p.total)
	for len(assembled) < p.total {
		chunk, ok := p.chunks[uint32(len(assembled)/16)]
		if len(assembled)%16 != 0 || !ok || len(chunk) == 0 {
			// A hole remains. Wait for more segments or let Sweep drop
			// this entry after the inactivity timeout.
			return nil, nil
		}
		assembled = append(assembled, chunk...)
	}
	delete(r.partial, key)
	r.peerTotals[peer] -= p.total
	out := p.header
	out.Payload = assembled
	switch out.MessageType {
	case MessageTypeTPRequest:
		out.MessageType = MessageTypeRequest
	case MessageTypeTPRequestNoReturn:
		out.MessageType = MessageTypeRequestNoReturn
	case MessageTypeTPNotification:
		out.MessageType = MessageTypeNotification
	case MessageTypeTPResponse:
		out.MessageType = MessageTypeResponse
	case MessageTypeTPError:
		out.MessageType = MessageTypeError
	}
	return &out, nil
}

// Sweep drops partial messages that have been inactive longer than the
// configured inactivity timeout.
func (r *Reassembler) Sweep(now time.Time) (dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, p := range r.partial {
		if now.Sub(p.lastAt) > r.inactivity {
			r.peerTotals[key.peer] -= p.total
			delete(r.partial, key)
			dropped++
		}
	}
	return dropped
}
