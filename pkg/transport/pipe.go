package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures radio behavior simulation.
// Use this to test retransmission and duplicate handling.
type NetworkCondition struct {
	// DropRate is the probability of dropping a frame (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay to add to each frame.
	DelayMin time.Duration

	// DelayMax is the maximum delay to add to each frame.
	// Actual delay is uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration

	// DuplicateRate is the probability of delivering a frame twice (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic frame delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor checks for frames.
	// Default: 1ms
	ProcessInterval time.Duration

	// Seed seeds the condition simulator. Zero uses the current time.
	Seed int64
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe provides bidirectional in-memory frame delivery between two
// endpoints, standing in for the advertising channel between a device
// and a provisioner. It wraps pion's test.Bridge and adds loss, delay and
// duplication.
//
// By default, Pipe automatically delivers frames in a background goroutine.
// Use SetAutoProcess(false) or NewPipeWithConfig for manual control.
type Pipe struct {
	bridge *test.Bridge

	mu              sync.RWMutex
	condition       NetworkCondition
	stats           PipeStats
	closed          bool
	rng             *rand.Rand
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup

	connMu sync.Mutex
	conns  [2]*PipePacketConn
}

// NewPipe creates a new bidirectional pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a new pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(seed)),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}

	if config.ProcessInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	if p.autoProcess {
		p.startAutoProcess()
	}

	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetAutoProcess enables or disables automatic frame delivery.
// When disabled, you must call Tick() or Process() manually.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}

	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// SetCondition configures the condition simulation.
// The conditions apply to frames in both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current condition configuration.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

// PacketConn returns the PacketConn for endpoint id (0 or 1). Repeated
// calls return the same connection.
func (p *Pipe) PacketConn(id int) *PipePacketConn {
	if id != 0 && id != 1 {
		panic(fmt.Sprintf("transport: invalid pipe endpoint %d", id))
	}

	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.conns[id] == nil {
		conn := p.bridge.GetConn0()
		if id == 1 {
			conn = p.bridge.GetConn1()
		}
		p.conns[id] = &PipePacketConn{
			conn:     conn,
			localID:  id,
			peerAddr: PipeAddr{ID: 1 - id},
			pipe:     p,
		}
	}
	return p.conns[id]
}

// Tick delivers one frame in each direction (if available).
// Returns the number of frames delivered (0, 1, or 2).
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued frames.
// Returns the number of frames delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// Close closes both endpoints of the pipe and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	var errs []error
	if err := p.bridge.GetConn0().Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.bridge.GetConn1().Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// PipeStats counts frames written to a Pipe in both directions.
type PipeStats struct {
	Sent       int // frames handed to WriteTo
	Dropped    int
	Duplicated int
	Delayed    int
}

// Stats returns the frame counters.
func (p *Pipe) Stats() PipeStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// fate is what the simulated channel does to one frame.
type fate struct {
	drop      bool
	duplicate bool
	delay     time.Duration
}

// impair samples the current condition for one frame.
func (p *Pipe) impair() fate {
	p.mu.Lock()
	defer p.mu.Unlock()

	cond := p.condition
	p.stats.Sent++

	var f fate
	if cond.DropRate > 0 && p.rng.Float64() < cond.DropRate {
		f.drop = true
		p.stats.Dropped++
		return f
	}
	if cond.DuplicateRate > 0 && p.rng.Float64() < cond.DuplicateRate {
		f.duplicate = true
		p.stats.Duplicated++
	}
	if cond.DelayMax > 0 {
		f.delay = cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			f.delay += time.Duration(p.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
		p.stats.Delayed++
	}
	return f
}

// PipeAddr implements net.Addr for pipe endpoints.
type PipeAddr struct {
	ID int // Endpoint ID (0 or 1)
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

// String returns a string representation of the address.
func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d", a.ID) }

// PipePacketConn wraps a Pipe endpoint to implement net.PacketConn, so a
// pipe can back an Advertiser.
type PipePacketConn struct {
	conn     net.Conn
	localID  int
	peerAddr net.Addr
	pipe     *Pipe
}

// ReadFrom reads a frame from the pipe.
// The returned address is the peer's address.
func (c *PipePacketConn) ReadFrom(b []byte) (n int, addr net.Addr, err error) {
	n, err = c.conn.Read(b)
	return n, c.peerAddr, err
}

// WriteTo writes a frame to the pipe, subject to the pipe's
// NetworkCondition. A dropped frame reports success.
// The addr parameter is ignored since the pipe has only one peer.
func (c *PipePacketConn) WriteTo(b []byte, addr net.Addr) (n int, err error) {
	fate := c.pipe.impair()
	switch {
	case fate.drop:
		return len(b), nil
	case fate.delay > 0:
		time.Sleep(fate.delay)
	}
	if fate.duplicate {
		if _, err := c.conn.Write(b); err != nil {
			return 0, err
		}
	}
	return c.conn.Write(b)
}

// Close closes the pipe connection.
func (c *PipePacketConn) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the local address.
func (c *PipePacketConn) LocalAddr() net.Addr {
	return PipeAddr{ID: c.localID}
}

// PeerAddr returns the address of the other endpoint.
func (c *PipePacketConn) PeerAddr() net.Addr {
	return c.peerAddr
}

// SetDeadline sets the read and write deadlines.
func (c *PipePacketConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (c *PipePacketConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (c *PipePacketConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

var _ net.PacketConn = (*PipePacketConn)(nil)

// NewPipeAdvertiserPair returns two Advertisers joined by a new Pipe.
// The caller owns the pipe and must close it after stopping both ends.
func NewPipeAdvertiserPair(config PipeConfig, h0, h1 Handler) (*Pipe, *Advertiser, *Advertiser, error) {
	pipe := NewPipeWithConfig(config)

	a0, err := NewAdvertiser(AdvertiserConfig{
		Conn:     pipe.PacketConn(0),
		PeerAddr: pipe.PacketConn(0).PeerAddr(),
		Handler:  h0,
	})
	if err != nil {
		pipe.Close()
		return nil, nil, nil, err
	}
	a1, err := NewAdvertiser(AdvertiserConfig{
		Conn:     pipe.PacketConn(1),
		PeerAddr: pipe.PacketConn(1).PeerAddr(),
		Handler:  h1,
	})
	if err != nil {
		pipe.Close()
		return nil, nil, nil, err
	}
	return pipe, a0, a1, nil
}
