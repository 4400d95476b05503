package provisioning

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/pion/logging"

	"github.com/backkem/btmesh/pkg/crypto"
)

// State is the position of the Provisionable in the handshake.
type State int

const (
	StateIdle State = iota
	StateInvited
	StateStarted
	StatePublicKeyExchanged
	StateConfirmed
	StateRandomExchanged
	StateDataReceived
	StateComplete
	StateFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInvited:
		return "Invited"
	case StateStarted:
		return "Started"
	case StatePublicKeyExchanged:
		return "PublicKeyExchanged"
	case StateConfirmed:
		return "Confirmed"
	case StateRandomExchanged:
		return "RandomExchanged"
	case StateDataReceived:
		return "DataReceived"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config configures a Provisionable.
type Config struct {
	// Capabilities are sent in reply to Invite. Required.
	Capabilities Capabilities

	// Vault holds the device keys. Required.
	Vault Vault

	// StaticOOB is the static OOB value. Optional; zeros when nil.
	StaticOOB *[AuthValueSize]byte

	// Rand is the source of the device random and OOB values.
	// Defaults to crypto/rand.Reader.
	Rand io.Reader

	// OnAuthValue is called when the Start PDU selects an OOB value, so
	// the application can output it or prompt for it. Optional.
	OnAuthValue func(*AuthValue)

	// OnStateChange is called after every transition. Optional.
	OnStateChange func(from, to State)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Provisionable runs the device side of the provisioning handshake. It
// is not safe for concurrent use; the pipeline serializes access.
type Provisionable struct {
	capabilities  Capabilities
	vault         Vault
	staticOOB     *[AuthValueSize]byte
	rand          io.Reader
	onAuthValue   func(*AuthValue)
	onStateChange func(from, to State)
	log           logging.LeveledLogger

	state      State
	transcript *Transcript
	start      *Start
	authValue  *AuthValue

	confirmationSalt        [16]byte
	confirmationDevice      [ConfirmationSize]byte
	confirmationProvisioner [ConfirmationSize]byte
	randomDevice            [RandomSize]byte
	randomProvisioner       [RandomSize]byte

	data *ProvisioningData
}

// NewProvisionable returns a Provisionable in StateIdle.
func NewProvisionable(config Config) (*Provisionable, error) {
	if config.Vault == nil {
		return nil, errors.New("provisioning: vault is required")
	}
	if err := config.Capabilities.validate(); err != nil {
		return nil, err
	}
	r := config.Rand
	if r == nil {
		r = rand.Reader
	}

	p := &Provisionable{
		capabilities:  config.Capabilities,
		vault:         config.Vault,
		staticOOB:     config.StaticOOB,
		rand:          r,
		onAuthValue:   config.OnAuthValue,
		onStateChange: config.OnStateChange,
		transcript:    NewTranscript(),
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("provisionable")
	}
	return p, nil
}

// State returns the current state.
func (p *Provisionable) State() State {
	return p.state
}

// ProvisioningData returns the credentials received in this attempt, or
// nil before a Data PDU was accepted.
func (p *Provisionable) ProvisioningData() *ProvisioningData {
	return p.data
}

// Process handles one reassembled provisioning PDU and returns the reply
// to send, if any. A non-nil error may accompany a Failed reply; the
// reply must still be sent.
func (p *Provisionable) Process(ctx context.Context, pdu PDU) (PDU, error) {
	if p.log != nil {
		p.log.Tracef(">> %s in state %s", pdu.Type(), p.state)
	}

	if p.state == StateFailed || p.state == StateComplete {
		return nil, fmt.Errorf("%w: %s in state %s", ErrUnexpectedPDU, pdu.Type(), p.state)
	}

	switch v := pdu.(type) {
	case *Invite:
		if p.state != StateIdle {
			return p.unexpected(v)
		}
		return p.handleInvite(v)
	case *Start:
		if p.state != StateInvited {
			return p.unexpected(v)
		}
		return p.handleStart(v)
	case *PublicKey:
		if p.state != StateStarted {
			return p.unexpected(v)
		}
		return p.handlePublicKey(ctx, v)
	case *InputComplete:
		if p.state != StateStarted && p.state != StatePublicKeyExchanged {
			return p.unexpected(v)
		}
		return nil, nil
	case *Confirmation:
		if p.state != StatePublicKeyExchanged {
			return p.unexpected(v)
		}
		return p.handleConfirmation(v)
	case *Random:
		if p.state != StateConfirmed {
			return p.unexpected(v)
		}
		return p.handleRandom(v)
	case *Data:
		if p.state != StateRandomExchanged {
			return p.unexpected(v)
		}
		return p.handleData(ctx, v)
	case *Failed:
		p.setState(StateFailed)
		return nil, fmt.Errorf("%w: %s", ErrRemoteFailed, v.ErrorCode)
	default:
		// Capabilities and Complete only travel towards the provisioner.
		return p.unexpected(pdu)
	}
}

// Sent records that reply has been handed to the transaction layer.
// Sending Complete ends the handshake.
func (p *Provisionable) Sent(reply PDU) {
	if _, ok := reply.(*Complete); ok && p.state == StateDataReceived {
		p.setState(StateComplete)
	}
}

// Reject fails the attempt for an inbound payload that could not be
// parsed. An unknown PDU type maps to Invalid PDU, anything else to
// Invalid Format. Once the attempt has ended no reply is produced.
func (p *Provisionable) Reject(cause error) (PDU, error) {
	if p.state == StateFailed || p.state == StateComplete {
		return nil, cause
	}
	if errors.Is(cause, ErrUnknownType) {
		return p.fail(ErrorInvalidPDU, cause)
	}
	return p.fail(ErrorInvalidFormat, cause)
}

// Reset abandons the attempt: the transcript, AuthValue, randoms and the
// Vault session secrets are cleared and the state returns to Idle.
func (p *Provisionable) Reset() {
	p.transcript.Reset()
	p.start = nil
	p.authValue = nil
	crypto.Wipe(p.confirmationSalt[:])
	crypto.Wipe(p.confirmationDevice[:])
	crypto.Wipe(p.confirmationProvisioner[:])
	crypto.Wipe(p.randomDevice[:])
	crypto.Wipe(p.randomProvisioner[:])
	p.vault.ClearSession()
	p.data = nil
	p.setState(StateIdle)
}

func (p *Provisionable) handleInvite(invite *Invite) (PDU, error) {
	p.transcript.AddInvite(invite)
	caps := p.capabilities
	p.transcript.AddCapabilities(&caps)
	p.setState(StateInvited)
	return &caps, nil
}

func (p *Provisionable) handleStart(start *Start) (PDU, error) {
	if !p.capabilities.Supports(start) {
		return p.fail(ErrorInvalidFormat, fmt.Errorf("%w: start %+v outside capabilities", ErrInvalidValue, *start))
	}
	p.transcript.AddStart(start)

	av, err := DetermineAuthValue(p.rand, start, p.staticOOB)
	if err != nil {
		return p.fail(ErrorUnexpectedError, err)
	}
	p.start = start
	p.authValue = av
	if p.log != nil {
		p.log.Debugf("auth method %s, value %s", start.AuthMethod, av.Kind)
	}
	if p.onAuthValue != nil && av.Kind != AuthKindNone {
		p.onAuthValue(av)
	}

	p.setState(StateStarted)
	return nil, nil
}

func (p *Provisionable) handlePublicKey(ctx context.Context, pk *PublicKey) (PDU, error) {
	p.transcript.AddProvisionerKey(pk)

	if err := p.vault.SetPeerPublicKey(ctx, pk.Bytes()); err != nil {
		if errors.Is(err, crypto.ErrInvalidPublicKey) {
			return p.fail(ErrorInvalidFormat, err)
		}
		return p.fail(ErrorUnexpectedError, err)
	}

	own, err := p.vault.PublicKey()
	if err != nil {
		return p.fail(ErrorUnexpectedError, err)
	}
	devicePK := PublicKeyFromBytes(own)
	p.transcript.AddDeviceKey(devicePK)
	p.setState(StatePublicKeyExchanged)

	if p.start.PublicKey == PublicKeyOOB {
		return nil, nil
	}
	return devicePK, nil
}

func (p *Provisionable) handleConfirmation(c *Confirmation) (PDU, error) {
	p.confirmationProvisioner = c.Confirmation
	p.confirmationSalt = p.transcript.ConfirmationSalt()

	if _, err := io.ReadFull(p.rand, p.randomDevice[:]); err != nil {
		return p.fail(ErrorOutOfResources, fmt.Errorf("provisioning: device random: %w", err))
	}

	conf, err := p.confirmation(p.randomDevice)
	if err != nil {
		return p.fail(ErrorUnexpectedError, err)
	}
	p.confirmationDevice = conf

	// A provisioner must not echo the device confirmation.
	if subtle.ConstantTimeCompare(conf[:], c.Confirmation[:]) == 1 {
		return p.fail(ErrorConfirmationFailed, fmt.Errorf("%w: reflected confirmation", ErrConfirmationFailed))
	}

	p.setState(StateConfirmed)
	return &Confirmation{Confirmation: conf}, nil
}

func (p *Provisionable) handleRandom(r *Random) (PDU, error) {
	expected, err := p.confirmation(r.Random)
	if err != nil {
		return p.fail(ErrorUnexpectedError, err)
	}
	if subtle.ConstantTimeCompare(expected[:], p.confirmationProvisioner[:]) != 1 {
		return p.fail(ErrorConfirmationFailed, ErrConfirmationFailed)
	}

	p.randomProvisioner = r.Random
	p.setState(StateRandomExchanged)
	return &Random{Random: p.randomDevice}, nil
}

// confirmation computes AES-CMAC_ConfirmationKey(random || AuthValue).
func (p *Provisionable) confirmation(random [RandomSize]byte) ([ConfirmationSize]byte, error) {
	key, err := p.vault.PRCK(p.confirmationSalt[:])
	if err != nil {
		return [ConfirmationSize]byte{}, err
	}
	defer crypto.Wipe(key[:])

	auth := p.authValue.Bytes()
	in := make([]byte, 0, RandomSize+AuthValueSize)
	in = append(in, random[:]...)
	in = append(in, auth[:]...)
	return crypto.AESCMAC(key[:], in)
}

// provisioningSalt returns s1(ConfirmationSalt || RandomProvisioner ||
// RandomDevice).
func (p *Provisionable) provisioningSalt() [16]byte {
	in := make([]byte, 0, 48)
	in = append(in, p.confirmationSalt[:]...)
	in = append(in, p.randomProvisioner[:]...)
	in = append(in, p.randomDevice[:]...)
	return crypto.S1(in)
}

func (p *Provisionable) handleData(ctx context.Context, d *Data) (PDU, error) {
	salt := p.provisioningSalt()

	sessionKey, err := p.vault.PRSK(salt[:])
	if err != nil {
		return p.fail(ErrorUnexpectedError, err)
	}
	defer crypto.Wipe(sessionKey[:])
	nonce, err := p.vault.PRSN(salt[:])
	if err != nil {
		return p.fail(ErrorUnexpectedError, err)
	}

	plaintext, err := crypto.AESCCMDecryptDetached(sessionKey[:], nonce[16-crypto.SessionNonceSize:], d.Encrypted[:], d.MIC[:])
	if err != nil {
		// Stall: no Complete and no Failed. The provisioner times out.
		if p.log != nil {
			p.log.Warnf("provisioning data rejected: %v", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	defer crypto.Wipe(plaintext)

	data, err := ParseProvisioningData(plaintext)
	if err != nil {
		return p.fail(ErrorInvalidFormat, err)
	}

	deviceKey, err := p.vault.PRDK(salt[:])
	if err != nil {
		return p.fail(ErrorUnexpectedError, err)
	}
	if err := p.vault.SetProvisioningData(ctx, data, deviceKey); err != nil {
		return p.fail(ErrorUnexpectedError, err)
	}
	p.data = data
	if p.log != nil {
		p.log.Infof("provisioned: %s", data)
	}

	p.setState(StateDataReceived)
	return &Complete{}, nil
}

func (p *Provisionable) unexpected(pdu PDU) (PDU, error) {
	return p.fail(ErrorUnexpectedPDU, fmt.Errorf("%w: %s in state %s", ErrUnexpectedPDU, pdu.Type(), p.state))
}

func (p *Provisionable) fail(code ErrorCode, err error) (PDU, error) {
	if p.log != nil {
		p.log.Warnf("provisioning failed (%s): %v", code, err)
	}
	p.setState(StateFailed)
	return &Failed{ErrorCode: code}, err
}

func (p *Provisionable) setState(s State) {
	if s == p.state {
		return
	}
	old := p.state
	p.state = s
	if p.log != nil {
		p.log.Debugf("state %s -> %s", old, s)
	}
	if p.onStateChange != nil {
		p.onStateChange(old, s)
	}
}
