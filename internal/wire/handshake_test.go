package wire

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestHandshake_OK(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	errCh := make(chan error, 1)
	go func() { errCh <- Handshake(context.Background(), b, time.Second) }()
	if err := Handshake(context.Background(), a, time.Second); err != nil {
		t.Fatalf("side a: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("side b: %v", err)
	}
}

func TestHandshake_BadHello(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go func() {
		buf := make([]byte, len(hello))
		_, _ = b.Read(buf)
		_, _ = b.Write([]byte("NOTTHISPROTO"))
	}()
	if err := Handshake(context.Background(), a, time.Second); err == nil {
		t.Fatal("expected handshake failure")
	}
}
