// Package integration provides test infrastructure for end-to-end
// provisioning tests.
//
// A TestPair runs a real node.Node against a scripted provisioner over an
// in-memory advertising channel. The channel can drop, delay and duplicate
// frames, so the pair exercises the bearer, link, transaction and
// provisioning layers together, including retransmission.
package integration

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/generic"
	"github.com/backkem/btmesh/pkg/node"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/backkem/btmesh/pkg/provisioning/provisioningtest"
	"github.com/backkem/btmesh/pkg/transport"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// TestPairConfig configures a TestPair.
type TestPairConfig struct {
	// Device settings.
	UUID         uuid.UUID
	Capabilities provisioning.Capabilities
	StaticOOB    *[provisioning.AuthValueSize]byte
	Vault        node.Vault

	// Provisioner settings.
	Start      provisioning.Start
	Data       provisioning.ProvisioningData
	AuthValue  [provisioning.AuthValueSize]byte
	CorruptMIC bool

	// Channel settings, applied once the device is running.
	Condition transport.NetworkCondition
	Seed      int64

	// Timing.
	RetransmitInterval time.Duration
	BeaconInterval     time.Duration
	LinkTimeout        time.Duration
	ProvisionTimeout   time.Duration

	// LoggerFactory for debug output (nil for default).
	LoggerFactory logging.LoggerFactory
}

// DefaultTestPairConfig returns a config for a No OOB provisioning over a
// clean channel.
func DefaultTestPairConfig() TestPairConfig {
	return TestPairConfig{
		UUID: uuid.MustParse("70cf7c97-32a3-45b6-9149-4810d2e9cbf4"),
		Capabilities: provisioning.Capabilities{
			NumberOfElements: 1,
			Algorithms:       provisioning.AlgorithmFIPSP256,
		},
		Data: provisioning.ProvisioningData{
			NetworkKey:     [16]byte{0x7d, 0xd7, 0x36, 0x4c, 0xd8, 0x42, 0xad, 0x18, 0xc1, 0x7c, 0x2b, 0x82, 0x0c, 0x84, 0xc3, 0xd6},
			KeyIndex:       0x0000,
			IVIndex:        0x12345678,
			UnicastAddress: 0x0b0c,
		},
		Seed:               1,
		RetransmitInterval: 20 * time.Millisecond,
		BeaconInterval:     50 * time.Millisecond,
		LinkTimeout:        5 * time.Second,
		ProvisionTimeout:   10 * time.Second,
	}
}

// Result summarizes one provisioning attempt as seen by the provisioner.
type Result struct {
	// Complete is true when the device replied Complete.
	Complete bool

	// Failed is the Failed PDU sent by the device, if any.
	Failed *provisioning.Failed

	// CloseReason is set when the device closed the link.
	CloseReason *generic.CloseReason

	// AuthValue is the value the device reported through OnAuthValue.
	AuthValue *provisioning.AuthValue

	// Replies lists the device PDUs in delivery order.
	Replies []provisioning.PDU
}

// TestPair holds a running device and the provisioner side of the channel.
type TestPair struct {
	// Device is the node under test.
	Device *node.Node

	// Pipe is the advertising channel between the two sides.
	Pipe *transport.Pipe

	// Radio is the provisioner's advertiser, on pipe endpoint 1.
	Radio *transport.Advertiser

	config     TestPairConfig
	t          *testing.T
	frames     chan []byte
	authValues chan *provisioning.AuthValue
	states     chan node.State
	nextLinkID uint32
}

// NewTestPair starts a device on pipe endpoint 0 and an advertiser for the
// provisioner on endpoint 1. The device is not provisioned; call Provision.
func NewTestPair(t *testing.T, config TestPairConfig) *TestPair {
	t.Helper()

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		lf := logging.NewDefaultLoggerFactory()
		lf.DefaultLogLevel = logging.LogLevelWarn
		loggerFactory = lf
	}

	pipe := transport.NewPipeWithConfig(transport.PipeConfig{
		AutoProcess: true,
		Seed:        config.Seed,
	})

	p := &TestPair{
		Pipe:       pipe,
		config:     config,
		t:          t,
		frames:     make(chan []byte, 256),
		authValues: make(chan *provisioning.AuthValue, 4),
		states:     make(chan node.State, 32),
		nextLinkID: 0x5ca1ab1e,
	}

	radio, err := transport.NewAdvertiser(transport.AdvertiserConfig{
		Conn:     pipe.PacketConn(1),
		PeerAddr: pipe.PacketConn(1).PeerAddr(),
		Handler: func(b []byte) {
			select {
			case p.frames <- b:
			default:
			}
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		pipe.Close()
		t.Fatalf("Failed to create radio: %v", err)
	}
	p.Radio = radio

	device, err := node.New(node.Config{
		UUID:         config.UUID,
		Capabilities: config.Capabilities,
		StaticOOB:    config.StaticOOB,
		Vault:        config.Vault,
		TransportFactory: transport.NewAdvertiserFactory(transport.AdvertiserConfig{
			Conn:          pipe.PacketConn(0),
			PeerAddr:      pipe.PacketConn(0).PeerAddr(),
			LoggerFactory: loggerFactory,
		}),
		RetransmitInterval: config.RetransmitInterval,
		BeaconInterval:     config.BeaconInterval,
		LinkTimeout:        config.LinkTimeout,
		OnAuthValue: func(av *provisioning.AuthValue) {
			select {
			case p.authValues <- av:
			default:
			}
		},
		OnStateChanged: func(s node.State) {
			select {
			case p.states <- s:
			default:
			}
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		pipe.Close()
		t.Fatalf("Failed to create device: %v", err)
	}
	p.Device = device

	if err := radio.Start(); err != nil {
		pipe.Close()
		t.Fatalf("Failed to start radio: %v", err)
	}
	if err := device.Start(context.Background()); err != nil {
		radio.Stop()
		pipe.Close()
		t.Fatalf("Failed to start device: %v", err)
	}
	pipe.SetCondition(config.Condition)

	return p
}

// Close stops both sides and the channel.
// Should be called with defer after creating the pair.
func (p *TestPair) Close() {
	p.Device.Stop()
	p.Radio.Stop()
	p.Pipe.Close()
}

// Context returns a context bounded by the configured provisioning timeout.
func (p *TestPair) Context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.config.ProvisionTimeout)
}

// WaitForBeacon blocks until the device advertises its unprovisioned
// device beacon. Frames received while waiting are discarded.
func (p *TestPair) WaitForBeacon(ctx context.Context) (*bearer.UnprovisionedBeacon, error) {
	for {
		select {
		case frame := <-p.frames:
			beacon, err := bearer.ParseUnprovisionedBeacon(frame)
			if err != nil || beacon.UUID != p.config.UUID {
				continue
			}
			return beacon, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for beacon: %w", ctx.Err())
		}
	}
}

// WaitForState blocks until the device reports state s.
func (p *TestPair) WaitForState(ctx context.Context, s node.State) error {
	if p.Device.State() == s {
		return nil
	}
	for {
		select {
		case got := <-p.states:
			if got == s {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for state %s (now %s): %w", s, p.Device.State(), ctx.Err())
		}
	}
}

// Provision runs one provisioning attempt over a fresh link. It returns
// when the device replies Complete, when the device closes the link, or
// when ctx is done. A Failed reply does not end the attempt: the link stays
// open until the device times it out.
func (p *TestPair) Provision(ctx context.Context) (*Result, error) {
	if _, err := p.WaitForBeacon(ctx); err != nil {
		return nil, err
	}

	prov, err := provisioningtest.New(rand.Reader, p.config.Data)
	if err != nil {
		return nil, err
	}
	prov.Start = p.config.Start
	prov.AuthValue = p.config.AuthValue
	prov.CorruptMIC = p.config.CorruptMIC

	linkID := p.nextLinkID
	p.nextLinkID++
	remote := provisioningtest.NewBearer(prov, p.config.UUID, linkID)
	res := &Result{}

	finish := func() *Result {
		res.Complete = prov.Complete()
		res.Failed = prov.Failed()
		res.CloseReason = remote.CloseReason
		res.Replies = remote.Replies
		return res
	}

	if err := p.send(ctx, [][]byte{remote.Open()}); err != nil {
		return finish(), err
	}

	retransmit := time.NewTicker(p.config.RetransmitInterval)
	defer retransmit.Stop()

	for {
		if prov.Complete() || remote.CloseReason != nil {
			return finish(), nil
		}

		select {
		case frame := <-p.frames:
			p.drainAuthValues(prov, res)
			out, err := remote.Receive(frame)
			if err != nil && prov.Failed() == nil {
				return finish(), err
			}
			if err := p.send(ctx, out); err != nil {
				return finish(), err
			}
		case av := <-p.authValues:
			p.setAuthValue(prov, res, av)
		case <-retransmit.C:
			if err := p.send(ctx, remote.Pending()); err != nil {
				return finish(), err
			}
		case <-ctx.Done():
			return finish(), ctx.Err()
		}
	}
}

// drainAuthValues applies an AuthValue the device reported before the
// frame that depends on it.
func (p *TestPair) drainAuthValues(prov *provisioningtest.Provisioner, res *Result) {
	for {
		select {
		case av := <-p.authValues:
			p.setAuthValue(prov, res, av)
		default:
			return
		}
	}
}

// setAuthValue copies an output OOB value into the provisioner, as a user
// reading the device display would. Other methods keep the configured value.
func (p *TestPair) setAuthValue(prov *provisioningtest.Provisioner, res *Result, av *provisioning.AuthValue) {
	res.AuthValue = av
	if av.Method == provisioning.AuthOutputOOB {
		prov.AuthValue = av.Bytes()
	}
}

func (p *TestPair) send(ctx context.Context, frames [][]byte) error {
	for _, f := range frames {
		if err := p.Radio.Transmit(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
