// Package endpoint implements the reliable and unreliable network
// transports (UDP, TCP, and the local UNIX bus) that carry SOME/IP frames
// between routing manager and peers, generalized from a single UDP
// multicast transport into the three transport kinds a routing core needs.
package endpoint

import (
	"context"
	"net"
	"strconv"
)

// Transport abstracts one network endpoint's send/receive/close operations,
// independent of whether the underlying socket is UDP, TCP, or a local
// sequenced-packet socket.
type Transport interface {
	// Send transmits a packet to dest. For connection-oriented transports
	// dest may be nil, meaning "the peer this Transport is already
	// connected to".
	Send(ctx context.Context, packet []byte, dest net.Addr) error

	// Receive waits for one incoming packet, respecting ctx's cancellation
	// and deadline.
	Receive(ctx context.Context) (packet []byte, src net.Addr, err error)

	// Close releases the underlying socket. Safe to call more than once.
	Close() error

	// LocalAddr reports the address this transport is bound to.
	LocalAddr() net.Addr
}

// Peer identifies a remote endpoint by address, port, and reliability.
type Peer struct {
	Address    string
	Port       uint16
	IsReliable bool
}

func (p Peer) String() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(int(p.Port)))
}
