package endpoint

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/someip-go/vsomeip/obs"
)

// DefaultUnreliableMTU bounds a single UDP datagram's payload before the
// wire codec's TP fragmentation layer must split a message across several
// packets.
const DefaultUnreliableMTU = 1400

// UDPTransport is an unreliable datagram [Transport], generalized from a
// single multicast-only socket into point-to-point unicast plus optional
// multicast group membership for Service Discovery traffic.
type UDPTransport struct {
	conn     *net.UDPConn
	ipv4Conn *ipv4.PacketConn // non-nil once a multicast group has been joined
}

// NewUDPTransport binds a UDP socket at addr (host:port, port 0 for an
// ephemeral port).
func NewUDPTransport(addr string) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, obs.New(obs.KindConfigurationError, "endpoint.NewUDPTransport", fmt.Errorf("resolve %q: %w", addr, err))
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, obs.New(obs.KindTransportFailure, "endpoint.NewUDPTransport", fmt.Errorf("bind %q: %w", addr, err))
	}
	if err := conn.SetReadBuffer(1 << 20); err != nil {
		_ = conn.Close()
		return nil, obs.New(obs.KindTransportFailure, "endpoint.NewUDPTransport", fmt.Errorf("set read buffer: %w", err))
	}
	return &UDPTransport{conn: conn}, nil
}

// JoinMulticast joins the multicast group at groupAddr on the network
// interface selected by ifaceName (empty leaves the choice of interface to
// the system's default), enabling
// Service Discovery's cyclic offer/find multicast traffic.
func (t *UDPTransport) JoinMulticast(groupAddr string, ifaceName string) error {
	group, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return obs.New(obs.KindConfigurationError, "endpoint.JoinMulticast", fmt.Errorf("resolve group %q: %w", groupAddr, err))
	}
	var iface *net.Interface
	if ifaceName != "" {
		iface, err = net.InterfaceByName(ifaceName)
		if err != nil {
			return obs.New(obs.KindConfigurationError, "endpoint.JoinMulticast", fmt.Errorf("interface %q: %w", ifaceName, err))
		}
	}
	p := ipv4.NewPacketConn(t.conn)
	if err := p.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err != nil {
		return obs.New(obs.KindTransportFailure, "endpoint.JoinMulticast", fmt.Errorf("join group %s: %w", groupAddr, err))
	}
	if err := p.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		// Control messages are best-effort; interface index degrades to 0.
	}
	t.ipv4Conn = p
	return nil
}

func (t *UDPTransport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return obs.New(obs.KindTransportFailure, "endpoint.UDPTransport.Send", ctx.Err())
	default:
	}
	n, err := t.conn.WriteTo(packet, dest)
	if err != nil {
		return obs.New(obs.KindTransportFailure, "endpoint.UDPTransport.Send", err)
	}
	if n != len(packet) {
		return obs.New(obs.KindTransportFailure, "endpoint.UDPTransport.Send", fmt.Errorf("partial write: %d/%d bytes", n, len(packet)))
	}
	return nil
}

func (t *UDPTransport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, nil, obs.New(obs.KindTransportFailure, "endpoint.UDPTransport.Receive", ctx.Err())
	default:
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, obs.New(obs.KindTransportFailure, "endpoint.UDPTransport.Receive", err)
		}
	}

	buf := getBuffer()
	defer putBuffer(buf)

	var n int
	var src net.Addr
	var err error
	if t.ipv4Conn != nil {
		var cm *ipv4.ControlMessage
		n, cm, src, err = t.ipv4Conn.ReadFrom(*buf)
		_ = cm // interface index not surfaced further up the stack yet
	} else {
		n, src, err = t.conn.ReadFrom(*buf)
	}
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, obs.New(obs.KindTransportFailure, "endpoint.UDPTransport.Receive", fmt.Errorf("timeout: %w", err))
		}
		return nil, nil, obs.New(obs.KindTransportFailure, "endpoint.UDPTransport.Receive", err)
	}
	out := make([]byte, n)
	copy(out, (*buf)[:n])
	return out, src, nil
}

func (t *UDPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return obs.New(obs.KindTransportFailure, "endpoint.UDPTransport.Close", err)
	}
	return nil
}

func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
