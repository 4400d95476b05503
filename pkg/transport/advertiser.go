package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/pion/logging"
)

// DefaultPort is the UDP port used to emulate the advertising channel.
const DefaultPort = 5541

// readBufferSize leaves room to detect oversized datagrams.
const readBufferSize = 2 * bearer.MaxFrameSize

// Advertiser emulates the advertising bearer over a PacketConn. Every
// datagram is one advertisement; outbound frames go to PeerAddr, which
// is typically a broadcast or multicast address.
type Advertiser struct {
	conn    net.PacketConn
	peer    net.Addr
	handler Handler
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu      sync.RWMutex
	started bool
	closed  bool
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Conn is an optional pre-existing PacketConn to use.
	// If nil, a new UDP connection is created on ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g., ":5541").
	// Ignored if Conn is provided.
	ListenAddr string

	// PeerAddr is where outbound frames are written. Required.
	PeerAddr net.Addr

	// Handler is called for each received frame. Required.
	Handler Handler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewAdvertiser creates an Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	if config.PeerAddr == nil {
		return nil, ErrInvalidAddress
	}

	a := &Advertiser{
		conn:    config.Conn,
		peer:    config.PeerAddr,
		handler: config.Handler,
		closeCh: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("transport")
	}

	if a.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		a.conn = conn
	}
	return a, nil
}

// NewAdvertiserFactory returns a Factory that builds Advertisers from
// config, filling in the handler.
func NewAdvertiserFactory(config AdvertiserConfig) Factory {
	return func(handler Handler) (Transport, error) {
		c := config
		c.Handler = handler
		a, err := NewAdvertiser(c)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// Start begins the read loop.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	if a.log != nil {
		a.log.Infof("advertising on %s, peer %s", a.conn.LocalAddr(), a.peer)
	}

	a.wg.Add(1)
	go a.readLoop()
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	a.mu.Unlock()

	close(a.closeCh)

	// Unblock any pending read.
	a.conn.SetReadDeadline(time.Now())
	err := a.conn.Close()
	a.wg.Wait()
	return err
}

// Transmit writes one frame to the peer address.
func (a *Advertiser) Transmit(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if len(frame) > bearer.MaxFrameSize {
		return ErrFrameTooLarge
	}

	if deadline, ok := ctx.Deadline(); ok {
		a.conn.SetWriteDeadline(deadline)
		defer a.conn.SetWriteDeadline(time.Time{})
	}

	if a.log != nil {
		a.log.Tracef("tx %x", frame)
	}
	if _, err := a.conn.WriteTo(frame, a.peer); err != nil {
		if a.log != nil {
			a.log.Warnf("transmit failed: %v", err)
		}
		return err
	}
	return nil
}

// LocalAddr returns the local address of the connection.
func (a *Advertiser) LocalAddr() net.Addr {
	return a.conn.LocalAddr()
}

func (a *Advertiser) readLoop() {
	defer a.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-a.closeCh:
			return
		default:
		}

		n, addr, err := a.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-a.closeCh:
				return
			default:
				if a.log != nil {
					a.log.Warnf("read error: %v", err)
				}
				continue
			}
		}
		if n == 0 {
			continue
		}
		if n > bearer.MaxFrameSize {
			if a.log != nil {
				a.log.Debugf("dropping %d byte datagram from %v", n, addr)
			}
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		if a.log != nil {
			a.log.Tracef("rx %x from %v", frame, addr)
		}
		a.handler(frame)
	}
}

var _ Transport = (*Advertiser)(nil)
