// Package pipeline composes the PB-ADV layers of a provisionable device
// into one inbound path and one outbound path.
//
// Inbound frames pass through the advertising bearer codec, the link
// layer, the transaction layer and the Provisionable state machine. A
// reply is segmented by the transaction layer, framed on the open link
// and handed to the Transmitter. The pipeline owns every layer; callers
// serialize ProcessInbound and Tick, usually through Handle from a single
// goroutine.
//
// Spec References:
//   - Mesh Profile Section 5.2.1: PB-ADV
//   - Mesh Profile Section 5.3: Generic Provisioning layer
//   - Mesh Profile Section 5.4: Provisioning protocol
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/generic"
	"github.com/backkem/btmesh/pkg/link"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/backkem/btmesh/pkg/transaction"
	"github.com/backkem/btmesh/pkg/transport"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

var (
	// ErrInvalidPacket is returned for inbound frames that fail to decode.
	// The frame is dropped and the pipeline state is unchanged.
	ErrInvalidPacket = errors.New("pipeline: invalid packet")

	// ErrUnknownEvent is returned by Handle for an unknown event kind.
	ErrUnknownEvent = errors.New("pipeline: unknown event")
)

// EventKind selects the work an Event carries.
type EventKind int

const (
	// EventInbound carries one received frame in Data.
	EventInbound EventKind = iota

	// EventTick drives retransmission and the link timeout.
	EventTick
)

func (k EventKind) String() string {
	switch k {
	case EventInbound:
		return "Inbound"
	case EventTick:
		return "Tick"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one unit of work for Handle.
type Event struct {
	Kind EventKind
	Data []byte
}

// Config configures a Pipeline.
type Config struct {
	// UUID is the device UUID. Required.
	UUID uuid.UUID

	// Capabilities are advertised in reply to Invite. Required.
	Capabilities provisioning.Capabilities

	// StaticOOB is the static OOB value, if the device has one.
	StaticOOB *[provisioning.AuthValueSize]byte

	// Vault holds the device keys. Required.
	Vault provisioning.Vault

	// Transmitter sends outbound frames. Required.
	Transmitter transport.Transmitter

	// Rand is the source of randomness. Defaults to crypto/rand.Reader.
	Rand io.Reader

	// LinkTimeout closes an open link with reason Timeout when no
	// transaction traffic arrived for this long. Zero disables it.
	LinkTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// OnAuthValue is called when the provisioner selects an OOB method.
	OnAuthValue func(*provisioning.AuthValue)

	// OnStateChange is called after every Provisionable transition.
	OnStateChange func(from, to provisioning.State)

	// OnLinkOpened and OnLinkClosed observe the link layer.
	OnLinkOpened func(linkID uint32)
	OnLinkClosed func(linkID uint32, reason generic.CloseReason)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Pipeline owns the protocol layers of one device.
type Pipeline struct {
	link         *link.Link
	transactions *transaction.Layer
	provisioner  *provisioning.Provisionable
	tx           transport.Transmitter
	log          logging.LeveledLogger

	linkTimeout  time.Duration
	now          func() time.Time
	lastActivity time.Time
}

// New creates a Pipeline with no open link.
func New(config Config) (*Pipeline, error) {
	if config.Transmitter == nil {
		return nil, errors.New("pipeline: transmitter is required")
	}

	l, err := link.New(link.Config{
		UUID:          config.UUID,
		OnLinkOpened:  config.OnLinkOpened,
		OnLinkClosed:  config.OnLinkClosed,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	prov, err := provisioning.NewProvisionable(provisioning.Config{
		Capabilities:  config.Capabilities,
		Vault:         config.Vault,
		StaticOOB:     config.StaticOOB,
		Rand:          config.Rand,
		OnAuthValue:   config.OnAuthValue,
		OnStateChange: config.OnStateChange,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		link: l,
		transactions: transaction.New(transaction.Config{
			LoggerFactory: config.LoggerFactory,
		}),
		provisioner: prov,
		tx:          config.Transmitter,
		linkTimeout: config.LinkTimeout,
		now:         config.Now,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("pipeline")
	}
	return p, nil
}

// State returns the Provisionable state.
func (p *Pipeline) State() provisioning.State {
	return p.provisioner.State()
}

// LinkID returns the id of the open link.
func (p *Pipeline) LinkID() (uint32, bool) {
	return p.link.LinkID()
}

// Handle dispatches one event.
func (p *Pipeline) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventInbound:
		return p.ProcessInbound(ctx, ev.Data)
	case EventTick:
		return p.Tick(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind)
	}
}

// ProcessInbound handles one received frame. Every returned error is
// recoverable; the next frame may be processed regardless.
func (p *Pipeline) ProcessInbound(ctx context.Context, raw []byte) error {
	pdu, err := bearer.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}
	if p.log != nil {
		p.log.Tracef("<< %s", pdu)
	}

	res, linkErr := p.link.ProcessInbound(pdu)
	if res.Closed {
		p.resetAttempt()
	}
	if res.Opened {
		p.lastActivity = p.now()
	}
	if res.Reply != nil {
		if err := p.transmit(ctx, res.Reply); err != nil {
			return errors.Join(linkErr, err)
		}
	}
	if linkErr != nil || res.Payload == nil {
		return linkErr
	}

	p.lastActivity = p.now()

	if _, ok := res.Payload.(*generic.TransactionAck); ok {
		if p.transactions.HandleAck(pdu.TransactionNumber) && p.log != nil {
			p.log.Tracef("transaction 0x%02x acknowledged", pdu.TransactionNumber)
		}
		return nil
	}

	in, txnErr := p.transactions.ProcessInbound(pdu.TransactionNumber, res.Payload)
	if in.Ack {
		ack, err := p.link.Wrap(pdu.TransactionNumber, &generic.TransactionAck{})
		if err != nil {
			return err
		}
		if err := p.transmit(ctx, ack); err != nil {
			return errors.Join(txnErr, err)
		}
	}
	if txnErr != nil {
		if errors.Is(txnErr, transaction.ErrInvalidPDU) {
			reply, _ := p.provisioner.Reject(txnErr)
			return errors.Join(txnErr, p.reply(ctx, reply))
		}
		return txnErr
	}
	if in.PDU == nil {
		return nil
	}

	reply, provErr := p.provisioner.Process(ctx, in.PDU)
	return errors.Join(provErr, p.reply(ctx, reply))
}

// Tick closes an idle link or retransmits the unacknowledged outbound
// transaction.
func (p *Pipeline) Tick(ctx context.Context) error {
	if !p.link.IsOpen() {
		return nil
	}

	if p.linkTimeout > 0 && p.now().Sub(p.lastActivity) >= p.linkTimeout {
		if p.log != nil {
			p.log.Warnf("link idle for %s, closing", p.linkTimeout)
		}
		closePDU := p.link.Close(generic.CloseReasonTimeout)
		p.resetAttempt()
		return p.transmit(ctx, closePDU)
	}

	out := p.transactions.Retransmit()
	if out == nil {
		return nil
	}
	if p.log != nil {
		p.log.Tracef("retransmitting transaction 0x%02x (%s)", out.TransactionNumber, out.PDU.Type())
	}
	return p.transmitOutbound(ctx, out)
}

// reply hands a Provisionable reply to the transaction layer and
// transmits its segments.
func (p *Pipeline) reply(ctx context.Context, pdu provisioning.PDU) error {
	if pdu == nil {
		return nil
	}
	out, err := p.transactions.Send(pdu)
	if err != nil {
		return err
	}
	p.provisioner.Sent(pdu)
	if p.log != nil {
		p.log.Tracef(">> %s as transaction 0x%02x", pdu.Type(), out.TransactionNumber)
	}
	return p.transmitOutbound(ctx, out)
}

func (p *Pipeline) transmitOutbound(ctx context.Context, out *transaction.Outbound) error {
	for _, seg := range out.Segments {
		frame, err := p.link.Wrap(out.TransactionNumber, seg)
		if err != nil {
			return err
		}
		if err := p.transmit(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) transmit(ctx context.Context, pdu *bearer.PDU) error {
	frame, err := pdu.Encode()
	if err != nil {
		return err
	}
	return p.tx.Transmit(ctx, frame)
}

// resetAttempt discards everything scoped to the closed link.
func (p *Pipeline) resetAttempt() {
	p.transactions.Reset()
	p.provisioner.Reset()
}
