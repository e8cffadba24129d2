package endpoint

import (
	"context"
	"fmt"
	"net"

	"github.com/someip-go/vsomeip/obs"
)

// Credentials identifies the process on the other end of a local bus
// connection, extracted from the socket's peer-credential control data.
type Credentials struct {
	UID uint32
	GID uint32
	PID int32
}

// LocalPeer identifies a connection on the local bus by its listen path.
type LocalPeer struct {
	Path string
}

func (p LocalPeer) Network() string { return "unixpacket" }
func (p LocalPeer) String() string  { return p.Path }

// LocalTransport is the local bus [Transport]: a UNIX sequenced-packet
// socket carrying whole ipc.Envelope frames with preserved message
// boundaries (no length-prefix framing needed, unlike TCP).
type LocalTransport struct {
	path string
	conn net.Conn
	ln   net.Listener
}

// DialLocal connects to the local bus endpoint listening at path (for
// example /vsomeip-0 for the routing host, /vsomeip-<pid>.<seq> for a
// client).
func DialLocal(ctx context.Context, path string) (*LocalTransport, error) {
	conn, err := dialSeqpacket(ctx, path)
	if err != nil {
		return nil, obs.New(obs.KindTransportFailure, "endpoint.DialLocal", fmt.Errorf("dial %s: %w", path, err))
	}
	return &LocalTransport{path: path, conn: conn}, nil
}

// ListenLocal binds a sequenced-packet listener at path, used by the
// routing manager host to accept application connections.
func ListenLocal(path string) (net.Listener, error) {
	ln, err := listenSeqpacket(path)
	if err != nil {
		return nil, obs.New(obs.KindTransportFailure, "endpoint.ListenLocal", fmt.Errorf("listen %s: %w", path, err))
	}
	return ln, nil
}

// NewLocalTransport wraps an already-accepted connection (from a
// [net.Listener] returned by [ListenLocal]).
func NewLocalTransport(path string, conn net.Conn) *LocalTransport {
	return &LocalTransport{path: path, conn: conn}
}

func (t *LocalTransport) Send(ctx context.Context, packet []byte, _ net.Addr) error {
	select {
	case <-ctx.Done():
		return obs.New(obs.KindTransportFailure, "endpoint.LocalTransport.Send", ctx.Err())
	default:
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	if _, err := t.conn.Write(packet); err != nil {
		return obs.New(obs.KindTransportFailure, "endpoint.LocalTransport.Send", err)
	}
	return nil
}

func (t *LocalTransport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, nil, obs.New(obs.KindTransportFailure, "endpoint.LocalTransport.Receive", ctx.Err())
	default:
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	}
	buf := getBuffer()
	defer putBuffer(buf)
	n, err := t.conn.Read(*buf)
	if err != nil {
		return nil, nil, obs.New(obs.KindTransportFailure, "endpoint.LocalTransport.Receive", err)
	}
	out := make([]byte, n)
	copy(out, (*buf)[:n])
	return out, LocalPeer{Path: t.path}, nil
}

func (t *LocalTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return obs.New(obs.KindTransportFailure, "endpoint.LocalTransport.Close", err)
	}
	return nil
}

func (t *LocalTransport) LocalAddr() net.Addr { return LocalPeer{Path: t.path} }

// PeerCredentials returns the credentials of the process on the other end
// of the connection, read with a getsockopt(SO_PEERCRED) lookup on the
// socket; no other credential mechanism is tried. Used by the policy gateway's
// authenticate_router and is_member_allowed predicates.
func (t *LocalTransport) PeerCredentials() (Credentials, error) {
	return peerCredentials(t.conn)
}
