// Package vault provides an in-memory provisioning.Vault.
//
// The vault owns the device ECDH key pair and the attempt-scoped shared
// secret. Once provisioning completes it also holds the device key, the
// provisioning data and the network credentials derived from the
// network key.
package vault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/pion/logging"
)

// ErrNotProvisioned is returned when credentials are requested before
// provisioning data was stored.
var ErrNotProvisioned = errors.New("vault: not provisioned")

// Config configures a Memory vault.
type Config struct {
	// PrivateKey is the 32-byte P-256 scalar. A fresh key is generated
	// from Rand when empty.
	PrivateKey []byte

	// Rand is used for key generation. Defaults to crypto/rand.Reader.
	Rand io.Reader

	// OnProvisioned is called after provisioning data is stored. Optional.
	OnProvisioned func(*provisioning.ProvisioningData)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Memory is a provisioning.Vault backed by process memory.
//
// Thread Safety: All methods are safe for concurrent use.
type Memory struct {
	mu  sync.RWMutex
	key *crypto.P256KeyPair

	peer   *[provisioning.PublicKeySize]byte
	secret []byte

	data        *provisioning.ProvisioningData
	deviceKey   [16]byte
	credentials *NetworkCredentials

	onProvisioned func(*provisioning.ProvisioningData)
	log           logging.LeveledLogger
}

var _ provisioning.Vault = (*Memory)(nil)

// New returns a Memory vault.
func New(config Config) (*Memory, error) {
	var (
		key *crypto.P256KeyPair
		err error
	)
	if len(config.PrivateKey) > 0 {
		key, err = crypto.P256KeyPairFromPrivateKey(config.PrivateKey)
	} else {
		r := config.Rand
		if r == nil {
			r = rand.Reader
		}
		key, err = crypto.P256GenerateKeyPair(r)
	}
	if err != nil {
		return nil, fmt.Errorf("vault: device key: %w", err)
	}

	m := &Memory{
		key:           key,
		onProvisioned: config.OnProvisioned,
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("vault")
	}
	return m, nil
}

// PublicKey returns the device public key as X || Y.
func (m *Memory) PublicKey() ([provisioning.PublicKeySize]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key.PublicKeyXY(), nil
}

// SetPeerPublicKey computes the ECDH secret with the provisioner key.
// An invalid point leaves any previous session untouched.
func (m *Memory) SetPeerPublicKey(ctx context.Context, pk [provisioning.PublicKeySize]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	secret, err := crypto.P256ECDH(m.key, pk)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	crypto.Wipe(m.secret)
	m.peer = &pk
	m.secret = secret
	return nil
}

// PRCK returns the confirmation key for salt.
func (m *Memory) PRCK(salt []byte) ([16]byte, error) {
	return m.derive(salt, crypto.LabelConfirmationKey)
}

// PRSK returns the session key for salt.
func (m *Memory) PRSK(salt []byte) ([16]byte, error) {
	return m.derive(salt, crypto.LabelSessionKey)
}

// PRSN returns the 16-byte session nonce derivation; the nonce is its
// last 13 bytes.
func (m *Memory) PRSN(salt []byte) ([16]byte, error) {
	return m.derive(salt, crypto.LabelSessionNonce)
}

// PRDK returns the device key for salt.
func (m *Memory) PRDK(salt []byte) ([16]byte, error) {
	return m.derive(salt, crypto.LabelDeviceKey)
}

func (m *Memory) derive(salt, label []byte) ([16]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.secret == nil {
		return [16]byte{}, provisioning.ErrNoSharedSecret
	}
	return crypto.K1(m.secret, salt, label)
}

// SetProvisioningData stores the credentials and derives the network
// credentials from the network key.
func (m *Memory) SetProvisioningData(ctx context.Context, data *provisioning.ProvisioningData, deviceKey [16]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	creds, err := DeriveNetworkCredentials(data.NetworkKey)
	if err != nil {
		return err
	}

	stored := *data
	m.mu.Lock()
	m.data = &stored
	m.deviceKey = deviceKey
	m.credentials = creds
	m.mu.Unlock()

	if m.log != nil {
		m.log.Infof("stored provisioning data: address 0x%04x, NID 0x%02x", data.UnicastAddress, creds.NID)
	}
	if m.onProvisioned != nil {
		m.onProvisioned(&stored)
	}
	return nil
}

// ClearSession drops the peer key and shared secret.
func (m *Memory) ClearSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	crypto.Wipe(m.secret)
	m.secret = nil
	m.peer = nil
}

// PeerPublicKey returns the provisioner key of the current attempt.
func (m *Memory) PeerPublicKey() ([provisioning.PublicKeySize]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.peer == nil {
		return [provisioning.PublicKeySize]byte{}, false
	}
	return *m.peer, true
}

// Provisioned reports whether provisioning data has been stored.
func (m *Memory) Provisioned() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data != nil
}

// ProvisioningData returns a copy of the stored provisioning data.
func (m *Memory) ProvisioningData() (*provisioning.ProvisioningData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, ErrNotProvisioned
	}
	d := *m.data
	return &d, nil
}

// DeviceKey returns the device key derived during provisioning.
func (m *Memory) DeviceKey() ([16]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return [16]byte{}, ErrNotProvisioned
	}
	return m.deviceKey, nil
}

// NetworkCredentials returns the credentials derived from the network key.
func (m *Memory) NetworkCredentials() (*NetworkCredentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.credentials == nil {
		return nil, ErrNotProvisioned
	}
	c := *m.credentials
	return &c, nil
}
