// Package transport carries raw advertising frames between a mesh device
// and its peers.
//
// The radio is out of scope: an Advertiser emulates the advertising
// channel over a net.PacketConn, one datagram per advertisement, and Pipe
// provides an in-memory PacketConn pair with configurable loss and
// duplication for tests.
package transport

import "context"

// Transmitter sends one advertising frame.
type Transmitter interface {
	// Transmit may block until the frame is on the air; it honors ctx.
	Transmit(ctx context.Context, frame []byte) error
}

// Handler receives inbound frames. The frame is owned by the handler.
type Handler func(frame []byte)

// Transport is a Transmitter with a receive loop.
type Transport interface {
	Transmitter

	// Start begins delivering inbound frames to the handler.
	Start() error

	// Stop ends the receive loop and releases the connection.
	Stop() error
}

// Factory creates a Transport that delivers inbound frames to handler.
type Factory func(handler Handler) (Transport, error)
