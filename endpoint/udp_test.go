package endpoint

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestUDPTransportSendReceive(t *testing.T) {
	a, err := NewUDPTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPTransport(a) error = %v", err)
	}
	defer a.Close()
	b, err := NewUDPTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPTransport(b) error = %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := []byte("hello over udp")
	if err := a.Send(ctx, want, b.LocalAddr()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got, _, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Receive() = %q, want %q", got, want)
	}
}

func TestUDPTransportReceiveTimeout(t *testing.T) {
	a, err := NewUDPTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPTransport() error = %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := a.Receive(ctx); err == nil {
		t.Fatal("expected timeout error")
	}
}
