package node

import (
	"io"
	"time"

	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/backkem/btmesh/pkg/transport"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

const (
	// DefaultRetransmitInterval is how often an unacknowledged outbound
	// transaction is sent again.
	DefaultRetransmitInterval = 500 * time.Millisecond

	// DefaultBeaconInterval is the unprovisioned device beacon period.
	DefaultBeaconInterval = 3 * time.Second

	// DefaultLinkTimeout is the provisioning protocol timeout
	// (Mesh Profile Section 5.4.4).
	DefaultLinkTimeout = 60 * time.Second
)

// Vault is the key store used by a Node.
type Vault interface {
	provisioning.Vault

	// Provisioned reports whether provisioning data has been stored.
	Provisioned() bool

	// ProvisioningData returns the stored provisioning data.
	ProvisioningData() (*provisioning.ProvisioningData, error)
}

// Config holds all configuration for a mesh device.
type Config struct {
	// Identity - Required
	UUID         uuid.UUID                 // Device UUID advertised in beacons and matched against LinkOpen
	Capabilities provisioning.Capabilities // Sent in reply to Invite

	// Authentication - Optional
	StaticOOB *[provisioning.AuthValueSize]byte // Static OOB value (zeros when nil)
	OOBInfo   uint16                            // OOB information advertised in the beacon

	// Keys - Optional (in-memory vault with a fresh key pair when nil)
	Vault Vault

	// Transport - Required
	TransportFactory transport.Factory

	// Timing - Optional (uses defaults if zero)
	RetransmitInterval time.Duration // default: 500ms
	BeaconInterval     time.Duration // default: 3s
	LinkTimeout        time.Duration // default: 60s

	// Rand is the source of randomness. Defaults to crypto/rand.Reader.
	Rand io.Reader

	// Callbacks - Optional
	OnStateChanged func(state State)
	OnAuthValue    func(av *provisioning.AuthValue)
	OnProvisioned  func(data *provisioning.ProvisioningData)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.UUID == uuid.Nil {
		return ErrUUIDRequired
	}

	if c.TransportFactory == nil {
		return ErrTransportRequired
	}

	return c.Capabilities.Validate()
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.RetransmitInterval == 0 {
		c.RetransmitInterval = DefaultRetransmitInterval
	}

	if c.BeaconInterval == 0 {
		c.BeaconInterval = DefaultBeaconInterval
	}

	if c.LinkTimeout == 0 {
		c.LinkTimeout = DefaultLinkTimeout
	}
}
