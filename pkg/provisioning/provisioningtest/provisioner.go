// Package provisioningtest provides a provisioner-side implementation of
// the provisioning handshake for exercising devices in tests.
package provisioningtest

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/provisioning"
)

// Errors returned by the Provisioner.
var (
	ErrUnexpectedReply    = errors.New("provisioningtest: unexpected reply")
	ErrDeviceConfirmation = errors.New("provisioningtest: device confirmation mismatch")
)

// Provisioner drives a device through the handshake, one reply at a time.
type Provisioner struct {
	// Start is sent after Capabilities. Defaults to No OOB.
	Start provisioning.Start

	// AuthValue must match the device's value for the selected method.
	AuthValue [provisioning.AuthValueSize]byte

	// DevicePublicKey must be set when Start selects an OOB public key.
	DevicePublicKey *[provisioning.PublicKeySize]byte

	// Data is encrypted into the Data PDU.
	Data provisioning.ProvisioningData

	// CorruptMIC flips a MIC bit in the Data PDU.
	CorruptMIC bool

	rand         io.Reader
	key          *crypto.P256KeyPair
	transcript   *provisioning.Transcript
	capabilities *provisioning.Capabilities
	secret       []byte
	confSalt     [16]byte
	random       [provisioning.RandomSize]byte
	deviceConf   [provisioning.ConfirmationSize]byte
	deviceRandom [provisioning.RandomSize]byte
	complete     bool
	failed       *provisioning.Failed
}

// New returns a Provisioner that will deliver data. A nil r uses
// crypto/rand.
func New(r io.Reader, data provisioning.ProvisioningData) (*Provisioner, error) {
	if r == nil {
		r = rand.Reader
	}
	key, err := crypto.P256GenerateKeyPair(r)
	if err != nil {
		return nil, err
	}
	p := &Provisioner{
		Data:       data,
		rand:       r,
		key:        key,
		transcript: provisioning.NewTranscript(),
	}
	if _, err := io.ReadFull(r, p.random[:]); err != nil {
		return nil, err
	}
	return p, nil
}

// PublicKey returns the provisioner public key as X || Y.
func (p *Provisioner) PublicKey() [provisioning.PublicKeySize]byte {
	return p.key.PublicKeyXY()
}

// Complete reports whether the device replied Complete.
func (p *Provisioner) Complete() bool { return p.complete }

// Failed returns the Failed PDU sent by the device, if any.
func (p *Provisioner) Failed() *provisioning.Failed { return p.failed }

// Begin returns the Invite that opens the handshake.
func (p *Provisioner) Begin() provisioning.PDU {
	invite := &provisioning.Invite{AttentionDuration: 0}
	p.transcript.AddInvite(invite)
	return invite
}

// Next consumes a device reply and returns the PDUs to send next. It
// returns nil once the device has replied Complete.
func (p *Provisioner) Next(reply provisioning.PDU) ([]provisioning.PDU, error) {
	switch v := reply.(type) {
	case *provisioning.Capabilities:
		return p.onCapabilities(v)
	case *provisioning.PublicKey:
		if err := p.onDeviceKey(v.Bytes()); err != nil {
			return nil, err
		}
		conf, err := p.confirmation()
		if err != nil {
			return nil, err
		}
		return []provisioning.PDU{conf}, nil
	case *provisioning.Confirmation:
		p.deviceConf = v.Confirmation
		return []provisioning.PDU{&provisioning.Random{Random: p.random}}, nil
	case *provisioning.Random:
		p.deviceRandom = v.Random
		if err := p.verifyDevice(); err != nil {
			return nil, err
		}
		data, err := p.dataPDU()
		if err != nil {
			return nil, err
		}
		return []provisioning.PDU{data}, nil
	case *provisioning.Complete:
		p.complete = true
		return nil, nil
	case *provisioning.Failed:
		p.failed = v
		return nil, fmt.Errorf("%w: device failed with %s", ErrUnexpectedReply, v.ErrorCode)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedReply, reply)
	}
}

func (p *Provisioner) onCapabilities(c *provisioning.Capabilities) ([]provisioning.PDU, error) {
	p.capabilities = c
	p.transcript.AddCapabilities(c)

	start := p.Start
	p.transcript.AddStart(&start)
	pk := provisioning.PublicKeyFromBytes(p.PublicKey())
	p.transcript.AddProvisionerKey(pk)

	out := []provisioning.PDU{&start, pk}
	if start.PublicKey == provisioning.PublicKeyOOB {
		if p.DevicePublicKey == nil {
			return nil, errors.New("provisioningtest: OOB public key requires DevicePublicKey")
		}
		if err := p.onDeviceKey(*p.DevicePublicKey); err != nil {
			return nil, err
		}
		conf, err := p.confirmation()
		if err != nil {
			return nil, err
		}
		out = append(out, conf)
	}
	return out, nil
}

func (p *Provisioner) onDeviceKey(xy [provisioning.PublicKeySize]byte) error {
	p.transcript.AddDeviceKey(provisioning.PublicKeyFromBytes(xy))
	secret, err := crypto.P256ECDH(p.key, xy)
	if err != nil {
		return err
	}
	p.secret = secret
	p.confSalt = p.transcript.ConfirmationSalt()
	return nil
}

func (p *Provisioner) confirmationValue(random [provisioning.RandomSize]byte) ([16]byte, error) {
	key, err := crypto.K1(p.secret, p.confSalt[:], crypto.LabelConfirmationKey)
	if err != nil {
		return [16]byte{}, err
	}
	return crypto.AESCMAC(key[:], append(random[:], p.AuthValue[:]...))
}

func (p *Provisioner) confirmation() (*provisioning.Confirmation, error) {
	c, err := p.confirmationValue(p.random)
	if err != nil {
		return nil, err
	}
	return &provisioning.Confirmation{Confirmation: c}, nil
}

func (p *Provisioner) verifyDevice() error {
	want, err := p.confirmationValue(p.deviceRandom)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want[:], p.deviceConf[:]) != 1 {
		return ErrDeviceConfirmation
	}
	return nil
}

// SessionKeys returns the session key, the 13-byte session nonce and the
// device key of the current attempt.
func (p *Provisioner) SessionKeys() (key [16]byte, nonce []byte, deviceKey [16]byte, err error) {
	in := make([]byte, 0, 48)
	in = append(in, p.confSalt[:]...)
	in = append(in, p.random[:]...)
	in = append(in, p.deviceRandom[:]...)
	salt := crypto.S1(in)

	if key, err = crypto.K1(p.secret, salt[:], crypto.LabelSessionKey); err != nil {
		return
	}
	n, err := crypto.K1(p.secret, salt[:], crypto.LabelSessionNonce)
	if err != nil {
		return
	}
	nonce = n[16-crypto.SessionNonceSize:]
	deviceKey, err = crypto.K1(p.secret, salt[:], crypto.LabelDeviceKey)
	return
}

func (p *Provisioner) dataPDU() (*provisioning.Data, error) {
	key, nonce, _, err := p.SessionKeys()
	if err != nil {
		return nil, err
	}
	plaintext, err := p.Data.Marshal()
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.AESCCMEncrypt(key[:], nonce, plaintext, crypto.MICSize64)
	if err != nil {
		return nil, err
	}

	d := &provisioning.Data{}
	copy(d.Encrypted[:], sealed[:provisioning.EncryptedDataSize])
	copy(d.MIC[:], sealed[provisioning.EncryptedDataSize:])
	if p.CorruptMIC {
		d.MIC[0] ^= 0x01
	}
	return d, nil
}
