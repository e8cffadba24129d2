//go:build windows

package endpoint

import (
	"context"
	"fmt"
	"net"
)

// Windows has no SOCK_SEQPACKET UNIX domain sockets; the local bus falls
// back to a plain "unix" stream socket with no added message framing (a
// best-effort approximation kept for cross-platform builds rather than a
// production Windows transport).

func dialSeqpacket(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

func listenSeqpacket(path string) (net.Listener, error) {
	return net.Listen("unix", path)
}

func peerCredentials(conn net.Conn) (Credentials, error) {
	return Credentials{}, fmt.Errorf("peer credentials are not available on windows")
}
