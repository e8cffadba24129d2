package endpoint

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/someip-go/vsomeip/wire/someip"
)

func TestTCPTransportReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	msg := &someip.Message{
		ServiceID: 1, MethodID: 1, ProtocolVersion: 1, InterfaceVersion: 1,
		MessageType: someip.MessageTypeRequest, ReturnCode: someip.ReturnCodeOK,
		Payload: []byte("ping"),
	}
	encoded := someip.Encode(msg)

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		if _, err := conn.Write(encoded); err != nil {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	client := NewTCPTransport(ln.Addr().String(), 10*time.Millisecond, time.Second)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, _, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !bytes.Equal(got, encoded) {
		t.Errorf("Receive() = %x, want %x", got, encoded)
	}
	if client.State() != TCPStateConnected {
		t.Errorf("State() = %v, want CONNECTED", client.State())
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server goroutine error = %v", err)
	}
}

func TestTCPTransportBackoffGrows(t *testing.T) {
	client := NewTCPTransport("127.0.0.1:1", time.Millisecond, 100*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	first := client.Backoff()
	_, _ = client.Receive(ctx)
	if client.State() != TCPStateReconnectWait {
		t.Fatalf("State() = %v, want RECONNECT_WAIT", client.State())
	}
	if client.Backoff() <= first {
		t.Errorf("Backoff() did not grow after a failed dial")
	}
}
