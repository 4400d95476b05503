// Package node runs an unprovisioned Bluetooth Mesh device.
//
// A Node owns the provisioning pipeline, the key vault and the transport.
// A single goroutine serializes inbound frames, retransmission ticks and
// unprovisioned device beacons, so the pipeline never sees concurrent
// calls. Errors from individual frames are logged and processing
// continues; a device that fails to provision returns to beaconing.
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/generic"
	"github.com/backkem/btmesh/pkg/pipeline"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/backkem/btmesh/pkg/transport"
	"github.com/backkem/btmesh/pkg/vault"
	"github.com/pion/logging"
)

// inboundQueueSize bounds frames waiting for the event loop.
const inboundQueueSize = 32

// Node represents a running mesh device.
type Node struct {
	config Config
	vault  Vault
	log    logging.LeveledLogger

	pipeline  *pipeline.Pipeline
	transport transport.Transport
	beacon    []byte

	inbound chan []byte

	// Owned by the event loop.
	linkOpen bool

	mu       sync.RWMutex
	state    State
	started  bool
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Node with the given configuration.
// The node is created but not started. Call Start() to begin operation.
func New(config Config) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	n := &Node{
		config:  config,
		vault:   config.Vault,
		inbound: make(chan []byte, inboundQueueSize),
		stopCh:  make(chan struct{}),
		state:   StateStopped,
	}
	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("node")
	}

	if n.vault == nil {
		mem, err := vault.New(vault.Config{
			Rand:          config.Rand,
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		n.vault = mem
	}

	beacon := &bearer.UnprovisionedBeacon{UUID: config.UUID, OOBInfo: config.OOBInfo}
	n.beacon = beacon.Encode()

	return n, nil
}

// State returns the current state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Vault returns the key store of the node.
func (n *Node) Vault() Vault {
	return n.vault
}

// Start creates the transport and begins the event loop.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()

	if n.stopped {
		n.mu.Unlock()
		return ErrAlreadyStopped
	}
	if n.started {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}

	if err := n.startPipeline(); err != nil {
		n.mu.Unlock()
		return err
	}
	n.started = true

	if n.vault.Provisioned() {
		n.state = StateProvisioned
	} else {
		n.state = StateUnprovisioned
	}
	state := n.state

	loopCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.wg.Add(1)
	go n.run(loopCtx)
	n.mu.Unlock()

	if n.log != nil {
		n.log.Infof("node %s started, state=%s", n.config.UUID, state)
	}
	if n.config.OnStateChanged != nil {
		n.config.OnStateChanged(state)
	}
	return nil
}

// startPipeline creates and starts the transport and wires the pipeline
// to it.
func (n *Node) startPipeline() error {
	tr, err := n.config.TransportFactory(n.onFrame)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Config{
		UUID:          n.config.UUID,
		Capabilities:  n.config.Capabilities,
		StaticOOB:     n.config.StaticOOB,
		Vault:         n.vault,
		Transmitter:   tr,
		Rand:          n.config.Rand,
		LinkTimeout:   n.config.LinkTimeout,
		OnAuthValue:   n.config.OnAuthValue,
		OnStateChange: n.onProvisioningState,
		OnLinkOpened:  n.onLinkOpened,
		OnLinkClosed:  n.onLinkClosed,
		LoggerFactory: n.config.LoggerFactory,
	})
	if err != nil {
		tr.Stop()
		return err
	}

	if err := tr.Start(); err != nil {
		return err
	}
	n.transport = tr
	n.pipeline = p
	return nil
}

// Stop ends the event loop and stops the transport.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return ErrAlreadyStopped
	}
	if !n.started {
		n.mu.Unlock()
		return ErrNotStarted
	}
	n.stopped = true
	n.mu.Unlock()

	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.cancel()
	})
	n.wg.Wait()

	err := n.transport.Stop()
	if errors.Is(err, transport.ErrClosed) {
		err = nil
	}

	n.setState(StateStopped)
	if n.log != nil {
		n.log.Info("node stopped")
	}
	return err
}

// Run starts the node and blocks until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return n.Stop()
}

// onFrame is the transport handler. It runs on the transport goroutine.
func (n *Node) onFrame(frame []byte) {
	select {
	case n.inbound <- frame:
	case <-n.stopCh:
	}
}

func (n *Node) run(ctx context.Context) {
	defer n.wg.Done()

	retransmit := time.NewTicker(n.config.RetransmitInterval)
	defer retransmit.Stop()
	beacon := time.NewTicker(n.config.BeaconInterval)
	defer beacon.Stop()

	n.sendBeacon(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-n.inbound:
			if n.State() == StateProvisioned && !n.linkOpen {
				continue
			}
			n.handle(ctx, pipeline.Event{Kind: pipeline.EventInbound, Data: frame})
		case <-retransmit.C:
			n.handle(ctx, pipeline.Event{Kind: pipeline.EventTick})
		case <-beacon.C:
			n.sendBeacon(ctx)
		}
	}
}

func (n *Node) handle(ctx context.Context, ev pipeline.Event) {
	err := n.pipeline.Handle(ctx, ev)
	if err == nil || n.log == nil {
		return
	}
	switch {
	case errors.Is(err, pipeline.ErrInvalidPacket):
		// Other advertisers share the channel.
		n.log.Tracef("dropped frame: %v", err)
	case errors.Is(err, context.Canceled):
	default:
		n.log.Debugf("%s: %v", ev.Kind, err)
	}
}

// sendBeacon advertises the device while it is waiting for a provisioner.
func (n *Node) sendBeacon(ctx context.Context) {
	if n.State() != StateUnprovisioned {
		return
	}
	if err := n.transport.Transmit(ctx, n.beacon); err != nil && n.log != nil {
		n.log.Debugf("beacon: %v", err)
	}
}

func (n *Node) onLinkOpened(linkID uint32) {
	n.linkOpen = true
	if n.State() == StateUnprovisioned {
		n.setState(StateProvisioning)
	}
}

func (n *Node) onLinkClosed(linkID uint32, reason generic.CloseReason) {
	n.linkOpen = false
	if n.State() == StateProvisioning {
		n.setState(StateUnprovisioned)
	}
}

func (n *Node) onProvisioningState(from, to provisioning.State) {
	if to != provisioning.StateComplete {
		return
	}
	n.setState(StateProvisioned)

	if n.config.OnProvisioned == nil {
		return
	}
	data, err := n.vault.ProvisioningData()
	if err != nil {
		if n.log != nil {
			n.log.Warnf("provisioning data unavailable: %v", err)
		}
		return
	}
	n.config.OnProvisioned(data)
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	if n.state == s {
		n.mu.Unlock()
		return
	}
	old := n.state
	n.state = s
	n.mu.Unlock()

	if n.log != nil {
		n.log.Infof("state %s -> %s", old, s)
	}
	if n.config.OnStateChanged != nil {
		n.config.OnStateChanged(s)
	}
}
