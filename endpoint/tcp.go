package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/someip"
)

// TCPState enumerates a reliable endpoint's connection lifecycle.
type TCPState uint8

const (
	TCPStateClosed TCPState = iota
	TCPStateConnecting
	TCPStateConnected
	TCPStateReconnectWait
)

func (s TCPState) String() string {
	switch s {
	case TCPStateClosed:
		return "CLOSED"
	case TCPStateConnecting:
		return "CONNECTING"
	case TCPStateConnected:
		return "CONNECTED"
	case TCPStateReconnectWait:
		return "RECONNECT_WAIT"
	default:
		return "UNKNOWN"
	}
}

// TCPTransport is a reliable stream [Transport] with magic-cookie resync
// (a framing error scans forward for the next client/server magic cookie)
// and exponential backoff reconnection.
type TCPTransport struct {
	remote string
	dialer net.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration

	mu      sync.Mutex
	state   TCPState
	conn    net.Conn
	backoff time.Duration
	inbuf   []byte
}

// NewTCPTransport returns a [TCPTransport] in state CLOSED that will dial
// remote on first use, backing off between minBackoff and maxBackoff on
// repeated connection failures.
func NewTCPTransport(remote string, minBackoff, maxBackoff time.Duration) *TCPTransport {
	return &TCPTransport{remote: remote, minBackoff: minBackoff, maxBackoff: maxBackoff, backoff: minBackoff}
}

// State reports the transport's current connection state.
func (t *TCPTransport) State() TCPState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *TCPTransport) ensureConnected(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TCPStateConnected {
		return nil
	}
	t.state = TCPStateConnecting
	conn, err := t.dialer.DialContext(ctx, "tcp", t.remote)
	if err != nil {
		t.state = TCPStateReconnectWait
		t.backoff = nextBackoff(t.backoff, t.maxBackoff)
		return obs.New(obs.KindTransportFailure, "endpoint.TCPTransport.ensureConnected", fmt.Errorf("dial %s: %w", t.remote, err))
	}
	t.conn = conn
	t.state = TCPStateConnected
	t.backoff = t.minBackoff
	t.inbuf = nil
	return nil
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// Backoff reports the delay a caller should wait before the next reconnect
// attempt, per the exponential backoff schedule.
func (t *TCPTransport) Backoff() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backoff
}

func (t *TCPTransport) Send(ctx context.Context, packet []byte, _ net.Addr) error {
	if err := t.ensureConnected(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(packet); err != nil {
		t.markDisconnected()
		return obs.New(obs.KindTransportFailure, "endpoint.TCPTransport.Send", err)
	}
	return nil
}

// Receive reads one framed SOME/IP message from the stream, scanning past
// the stream for a resync point (a magic cookie) whenever the byte stream
// stops decoding as well-formed frames.
func (t *TCPTransport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	if err := t.ensureConnected(ctx); err != nil {
		return nil, nil, err
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	buf := getBuffer()
	defer putBuffer(buf)
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	n, err := conn.Read(*buf)
	if err != nil {
		t.markDisconnected()
		return nil, nil, obs.New(obs.KindTransportFailure, "endpoint.TCPTransport.Receive", err)
	}

	t.mu.Lock()
	t.inbuf = append(t.inbuf, (*buf)[:n]...)
	data := t.inbuf
	t.mu.Unlock()

	msg, consumed, err := someip.Decode(data, 0)
	if err != nil {
		// Resync: scan forward for the next magic cookie rather than
		// dropping the whole connection on one bad frame.
		if idx := findCookie(data); idx >= 0 && idx > 0 {
			t.mu.Lock()
			t.inbuf = data[idx:]
			t.mu.Unlock()
		}
		return nil, nil, obs.New(obs.KindMalformedWireData, "endpoint.TCPTransport.Receive", err)
	}
	t.mu.Lock()
	t.inbuf = data[consumed:]
	t.mu.Unlock()
	return someip.Encode(msg), conn.RemoteAddr(), nil
}

func findCookie(data []byte) int {
	if i := bytes.Index(data[1:], someip.MagicCookieClient); i >= 0 {
		return i + 1
	}
	if i := bytes.Index(data[1:], someip.MagicCookieServer); i >= 0 {
		return i + 1
	}
	return -1
}

func (t *TCPTransport) markDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = nil
	t.state = TCPStateReconnectWait
	t.backoff = nextBackoff(t.backoff, t.maxBackoff)
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TCPStateClosed
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		return obs.New(obs.KindTransportFailure, "endpoint.TCPTransport.Close", err)
	}
	return nil
}

func (t *TCPTransport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}
