package transport

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func TestNewAdvertiser(t *testing.T) {
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: DefaultPort}

	t.Run("with handler", func(t *testing.T) {
		a, err := NewAdvertiser(AdvertiserConfig{
			ListenAddr: "127.0.0.1:0",
			PeerAddr:   peer,
			Handler:    func([]byte) {},
		})
		if err != nil {
			t.Fatalf("NewAdvertiser() error = %v", err)
		}
		defer a.Stop()

		if a.conn == nil {
			t.Error("NewAdvertiser() conn is nil")
		}
	})

	t.Run("without handler", func(t *testing.T) {
		_, err := NewAdvertiser(AdvertiserConfig{PeerAddr: peer})
		if err != ErrNoHandler {
			t.Errorf("NewAdvertiser() error = %v, want %v", err, ErrNoHandler)
		}
	})

	t.Run("without peer", func(t *testing.T) {
		_, err := NewAdvertiser(AdvertiserConfig{Handler: func([]byte) {}})
		if err != ErrInvalidAddress {
			t.Errorf("NewAdvertiser() error = %v, want %v", err, ErrInvalidAddress)
		}
	})

	t.Run("with injected conn", func(t *testing.T) {
		conn, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("ListenPacket() error = %v", err)
		}
		a, err := NewAdvertiser(AdvertiserConfig{
			Conn:     conn,
			PeerAddr: peer,
			Handler:  func([]byte) {},
		})
		if err != nil {
			t.Fatalf("NewAdvertiser() error = %v", err)
		}
		defer a.Stop()

		if a.conn != conn {
			t.Error("NewAdvertiser() did not use injected conn")
		}
	})
}

func TestAdvertiserStartStop(t *testing.T) {
	a, err := NewAdvertiser(AdvertiserConfig{
		ListenAddr: "127.0.0.1:0",
		PeerAddr:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: DefaultPort},
		Handler:    func([]byte) {},
	})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}

	if err := a.Start(); err != nil {
		t.Errorf("Start() error = %v", err)
	}
	if err := a.Start(); err != ErrAlreadyStarted {
		t.Errorf("Start() second call error = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := a.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := a.Stop(); err != ErrClosed {
		t.Errorf("Stop() second call error = %v, want %v", err, ErrClosed)
	}
	if err := a.Start(); err != ErrClosed {
		t.Errorf("Start() after Stop() error = %v, want %v", err, ErrClosed)
	}
	if err := a.Transmit(context.Background(), []byte{0x01}); err != ErrClosed {
		t.Errorf("Transmit() after Stop() error = %v, want %v", err, ErrClosed)
	}
}

func TestAdvertiserPipeExchange(t *testing.T) {
	rx0 := make(chan []byte, 4)
	rx1 := make(chan []byte, 4)

	pipe, a0, a1, err := NewPipeAdvertiserPair(DefaultPipeConfig(),
		func(b []byte) { rx0 <- b },
		func(b []byte) { rx1 <- b },
	)
	if err != nil {
		t.Fatalf("NewPipeAdvertiserPair() error = %v", err)
	}
	defer pipe.Close()

	if err := a0.Start(); err != nil {
		t.Fatal(err)
	}
	defer a0.Stop()
	if err := a1.Start(); err != nil {
		t.Fatal(err)
	}
	defer a1.Stop()

	ctx := context.Background()
	linkAck := []byte{0x07, 0x29, 0x12, 0x34, 0x56, 0x78, 0x00, 0x07}
	if err := a0.Transmit(ctx, linkAck); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	select {
	case got := <-rx1:
		if !bytes.Equal(got, linkAck) {
			t.Errorf("received %x, want %x", got, linkAck)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
	}

	if err := a1.Transmit(ctx, []byte{0x02, 0x29}); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	select {
	case got := <-rx0:
		if !bytes.Equal(got, []byte{0x02, 0x29}) {
			t.Errorf("received %x", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for reply")
	}
}

func TestAdvertiserTransmitValidation(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	a, err := NewAdvertiser(AdvertiserConfig{
		Conn:     p.PacketConn(0),
		PeerAddr: p.PacketConn(0).PeerAddr(),
		Handler:  func([]byte) {},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	if err := a.Transmit(context.Background(), make([]byte, 32)); err != ErrFrameTooLarge {
		t.Errorf("Transmit(32 bytes) error = %v, want %v", err, ErrFrameTooLarge)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Transmit(ctx, []byte{0x01}); err != context.Canceled {
		t.Errorf("Transmit(cancelled) error = %v, want %v", err, context.Canceled)
	}
}

func TestAdvertiserFactory(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	factory := NewAdvertiserFactory(AdvertiserConfig{
		Conn:     p.PacketConn(0),
		PeerAddr: p.PacketConn(0).PeerAddr(),
	})

	got := make(chan []byte, 1)
	tr, err := factory(func(b []byte) { got <- b })
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	p.PacketConn(1).WriteTo([]byte{0x03, 0x2b, 0x00, 0x01}, nil)

	select {
	case b := <-got:
		if !bytes.Equal(b, []byte{0x03, 0x2b, 0x00, 0x01}) {
			t.Errorf("handler got %x", b)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handler")
	}
}

func TestAdvertiserDropsOversizedDatagrams(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	got := make(chan []byte, 2)
	a, err := NewAdvertiser(AdvertiserConfig{
		Conn:     p.PacketConn(0),
		PeerAddr: p.PacketConn(0).PeerAddr(),
		Handler:  func(b []byte) { got <- b },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	p.PacketConn(1).WriteTo(make([]byte, 40), nil)
	p.PacketConn(1).WriteTo([]byte{0x01, 0x2b}, nil)

	select {
	case b := <-got:
		if len(b) != 2 {
			t.Errorf("handler got %d bytes, want the small frame", len(b))
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handler")
	}
}
