package node

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/backkem/btmesh/pkg/provisioning/provisioningtest"
	"github.com/backkem/btmesh/pkg/transport"
	"github.com/backkem/btmesh/pkg/vault"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testUUID = uuid.MustParse("dddd0000-1111-2222-3333-444455556666")

	testCapabilities = provisioning.Capabilities{
		NumberOfElements: 1,
		Algorithms:       provisioning.AlgorithmFIPSP256,
	}
)

// radio is the far end of a pipe: it records what the node transmits.
type radio struct {
	pipe   *transport.Pipe
	adv    *transport.Advertiser
	frames chan []byte
}

func newRadio(t *testing.T) *radio {
	t.Helper()
	r := &radio{
		pipe:   transport.NewPipe(),
		frames: make(chan []byte, 64),
	}
	adv, err := transport.NewAdvertiser(transport.AdvertiserConfig{
		Conn:     r.pipe.PacketConn(1),
		PeerAddr: r.pipe.PacketConn(1).PeerAddr(),
		Handler: func(b []byte) {
			select {
			case r.frames <- b:
			default:
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, adv.Start())
	r.adv = adv
	t.Cleanup(func() {
		adv.Stop()
		r.pipe.Close()
	})
	return r
}

func (r *radio) factory() transport.Factory {
	return transport.NewAdvertiserFactory(transport.AdvertiserConfig{
		Conn:     r.pipe.PacketConn(0),
		PeerAddr: r.pipe.PacketConn(0).PeerAddr(),
	})
}

func (r *radio) next(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(timeout):
		return nil
	}
}

func testConfig(r *radio) Config {
	return Config{
		UUID:               testUUID,
		Capabilities:       testCapabilities,
		TransportFactory:   r.factory(),
		RetransmitInterval: 10 * time.Millisecond,
		BeaconInterval:     20 * time.Millisecond,
	}
}

func TestConfigValidate(t *testing.T) {
	factory := transport.Factory(func(transport.Handler) (transport.Transport, error) { return nil, nil })

	tests := []struct {
		name   string
		config Config
		want   error
	}{
		{"missing uuid", Config{Capabilities: testCapabilities, TransportFactory: factory}, ErrUUIDRequired},
		{"missing transport", Config{UUID: testUUID, Capabilities: testCapabilities}, ErrTransportRequired},
		{"invalid capabilities", Config{UUID: testUUID, TransportFactory: factory}, provisioning.ErrInvalidValue},
		{"valid", Config{UUID: testUUID, Capabilities: testCapabilities, TransportFactory: factory}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	assert.Equal(t, DefaultRetransmitInterval, c.RetransmitInterval)
	assert.Equal(t, DefaultBeaconInterval, c.BeaconInterval)
	assert.Equal(t, DefaultLinkTimeout, c.LinkTimeout)

	c = Config{RetransmitInterval: time.Second}
	c.applyDefaults()
	assert.Equal(t, time.Second, c.RetransmitInterval)
}

func TestNodeLifecycle(t *testing.T) {
	r := newRadio(t)
	var (
		mu     sync.Mutex
		states []State
	)
	config := testConfig(r)
	config.OnStateChanged = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	n, err := New(config)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, n.State())
	assert.ErrorIs(t, n.Stop(), ErrNotStarted)

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, StateUnprovisioned, n.State())
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, n.Stop())
	assert.Equal(t, StateStopped, n.State())
	assert.ErrorIs(t, n.Stop(), ErrAlreadyStopped)
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStopped)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateUnprovisioned, StateStopped}, states)
}

func TestNodeBeacons(t *testing.T) {
	r := newRadio(t)
	config := testConfig(r)
	config.OOBInfo = bearer.OOBInfoNumber

	n, err := New(config)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	for i := 0; i < 3; i++ {
		frame := r.next(t, time.Second)
		require.NotNil(t, frame, "beacon %d", i)
		beacon, err := bearer.ParseUnprovisionedBeacon(frame)
		require.NoError(t, err)
		assert.Equal(t, testUUID, beacon.UUID)
		assert.Equal(t, bearer.OOBInfoNumber, beacon.OOBInfo)
	}
}

func TestNodeProvisions(t *testing.T) {
	r := newRadio(t)
	provisioned := make(chan *provisioning.ProvisioningData, 1)
	config := testConfig(r)
	config.OnProvisioned = func(d *provisioning.ProvisioningData) { provisioned <- d }

	n, err := New(config)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	data := provisioning.ProvisioningData{
		NetworkKey:     [16]byte{0x7d, 0xd7, 0x36, 0x4c, 0xd8, 0x42, 0xad, 0x18, 0xc1, 0x7c, 0x2b, 0x82, 0x0c, 0x84, 0xc3, 0xd6},
		IVIndex:        0x12345678,
		UnicastAddress: 0x1201,
	}
	prov, err := provisioningtest.New(rand.Reader, data)
	require.NoError(t, err)
	remote := provisioningtest.NewBearer(prov, testUUID, 0xa1b2c3d4)

	ctx := context.Background()
	require.NoError(t, r.adv.Transmit(ctx, remote.Open()))

	deadline := time.After(5 * time.Second)
	for !prov.Complete() {
		select {
		case frame := <-r.frames:
			out, err := remote.Receive(frame)
			require.NoError(t, err)
			for _, f := range out {
				require.NoError(t, r.adv.Transmit(ctx, f))
			}
		case <-deadline:
			t.Fatalf("provisioning did not complete, node state %s", n.State())
		}
	}

	select {
	case got := <-provisioned:
		assert.Equal(t, data, *got)
	case <-time.After(time.Second):
		t.Fatal("OnProvisioned not called")
	}
	assert.Equal(t, StateProvisioned, n.State())
	assert.True(t, n.Vault().Provisioned())

	// A provisioned device no longer beacons or accepts links.
	time.Sleep(50 * time.Millisecond)
	for len(r.frames) > 0 {
		<-r.frames
	}
	again := provisioningtest.NewBearer(prov, testUUID, 0x01020304)
	require.NoError(t, r.adv.Transmit(ctx, again.Open()))
	assert.Nil(t, r.next(t, 100*time.Millisecond))
}

func TestNodeRestoredVaultIsProvisioned(t *testing.T) {
	mem, err := vault.New(vault.Config{})
	require.NoError(t, err)
	require.NoError(t, mem.SetProvisioningData(context.Background(), &provisioning.ProvisioningData{UnicastAddress: 0x0001}, [16]byte{1}))

	r := newRadio(t)
	config := testConfig(r)
	config.Vault = mem

	n, err := New(config)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	assert.Equal(t, StateProvisioned, n.State())
	assert.Nil(t, r.next(t, 100*time.Millisecond), "provisioned node must not beacon")
}

func TestNodeRunStopsWithContext(t *testing.T) {
	r := newRadio(t)
	n, err := New(testConfig(r))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.NotNil(t, r.next(t, time.Second), "expected a beacon while running")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, n.State())
}
