// Package link implements the Provisioning Bearer Control layer of
// PB-ADV for the device role.
//
// A Link tracks at most one open link. It answers LinkOpen requests
// addressed to the device UUID, tears the link down on LinkClose, and
// gates every transaction PDU on the link id of the open link. Like the
// transaction layer it performs no I/O: replies are returned to the
// caller for transmission.
//
// Spec References:
//   - Mesh Profile Section 5.3.1.4: Provisioning Bearer Control
//   - Mesh Profile Section 5.3.2: Link establishment
package link

import (
	"errors"
	"fmt"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/generic"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

var (
	// ErrInvalidLink is returned for traffic on a link id other than the
	// open link, and for a LinkOpen that conflicts with the open link.
	ErrInvalidLink = errors.New("link: invalid link")

	// ErrNoEstablishedLink is returned for transaction traffic while no
	// link is open.
	ErrNoEstablishedLink = errors.New("link: no established link")
)

// controlTransaction is the transaction number of bearer control PDUs.
const controlTransaction uint8 = 0

// Config configures a Link.
type Config struct {
	// UUID is the device UUID matched against LinkOpen. Required.
	UUID uuid.UUID

	// OnLinkOpened is called when a link is established. Optional.
	OnLinkOpened func(linkID uint32)

	// OnLinkClosed is called when the open link is torn down. Optional.
	OnLinkClosed func(linkID uint32, reason generic.CloseReason)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Result is the outcome of one inbound PB-ADV PDU.
type Result struct {
	// Reply is a bearer control PDU to transmit, if any.
	Reply *bearer.PDU

	// Payload is a transaction PDU for the transaction layer, if any.
	Payload generic.PDU

	// Opened reports that a new link was established.
	Opened bool

	// Closed reports that the open link was torn down; link scoped state
	// above this layer must be discarded.
	Closed bool
}

// Link holds the link state of one device. It is not safe for
// concurrent use.
type Link struct {
	uuid     uuid.UUID
	onOpened func(uint32)
	onClosed func(uint32, generic.CloseReason)
	log      logging.LeveledLogger

	open   bool
	linkID uint32
}

// New returns a Link with no open link.
func New(config Config) (*Link, error) {
	if config.UUID == uuid.Nil {
		return nil, errors.New("link: device UUID is required")
	}
	l := &Link{
		uuid:     config.UUID,
		onOpened: config.OnLinkOpened,
		onClosed: config.OnLinkClosed,
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("link")
	}
	return l, nil
}

// LinkID returns the id of the open link.
func (l *Link) LinkID() (uint32, bool) {
	return l.linkID, l.open
}

// IsOpen reports whether a link is open.
func (l *Link) IsOpen() bool {
	return l.open
}

// ProcessInbound handles one inbound PB-ADV PDU.
func (l *Link) ProcessInbound(pdu *bearer.PDU) (Result, error) {
	switch v := pdu.Payload.(type) {
	case *generic.LinkOpen:
		return l.processOpen(pdu.LinkID, v)
	case *generic.LinkAck:
		// Only sent by the device.
		return Result{}, nil
	case *generic.LinkClose:
		return l.processClose(pdu.LinkID, v)
	}

	if !l.open {
		return Result{}, fmt.Errorf("%w: %s on link 0x%08x", ErrNoEstablishedLink, pdu.Payload, pdu.LinkID)
	}
	if pdu.LinkID != l.linkID {
		return Result{}, fmt.Errorf("%w: got 0x%08x, open 0x%08x", ErrInvalidLink, pdu.LinkID, l.linkID)
	}
	return Result{Payload: pdu.Payload}, nil
}

func (l *Link) processOpen(linkID uint32, open *generic.LinkOpen) (Result, error) {
	if open.UUID != l.uuid {
		if l.log != nil {
			l.log.Tracef("ignoring LinkOpen for %s", open.UUID)
		}
		return Result{}, nil
	}

	if l.open {
		if linkID == l.linkID {
			// Our LinkAck was lost.
			return Result{Reply: l.control(linkID, &generic.LinkAck{})}, nil
		}
		old := l.linkID
		reply := l.control(old, &generic.LinkClose{Reason: generic.CloseReasonFail})
		l.teardown(generic.CloseReasonFail)
		return Result{Reply: reply, Closed: true},
			fmt.Errorf("%w: LinkOpen 0x%08x while 0x%08x is open", ErrInvalidLink, linkID, old)
	}

	l.open = true
	l.linkID = linkID
	if l.log != nil {
		l.log.Infof("link 0x%08x opened", linkID)
	}
	if l.onOpened != nil {
		l.onOpened(linkID)
	}
	return Result{Reply: l.control(linkID, &generic.LinkAck{}), Opened: true}, nil
}

func (l *Link) processClose(linkID uint32, closePDU *generic.LinkClose) (Result, error) {
	if !l.open {
		return Result{}, nil
	}
	if linkID != l.linkID {
		return Result{}, fmt.Errorf("%w: LinkClose for 0x%08x, open 0x%08x", ErrInvalidLink, linkID, l.linkID)
	}
	l.teardown(closePDU.Reason)
	return Result{Closed: true}, nil
}

// Close closes the open link from the device side and returns the
// LinkClose to transmit, or nil when no link is open.
func (l *Link) Close(reason generic.CloseReason) *bearer.PDU {
	if !l.open {
		return nil
	}
	reply := l.control(l.linkID, &generic.LinkClose{Reason: reason})
	l.teardown(reason)
	return reply
}

// Wrap frames a transaction PDU on the open link.
func (l *Link) Wrap(txn uint8, payload generic.PDU) (*bearer.PDU, error) {
	if !l.open {
		return nil, ErrNoEstablishedLink
	}
	return &bearer.PDU{LinkID: l.linkID, TransactionNumber: txn, Payload: payload}, nil
}

func (l *Link) control(linkID uint32, payload generic.BearerControl) *bearer.PDU {
	return &bearer.PDU{LinkID: linkID, TransactionNumber: controlTransaction, Payload: payload}
}

func (l *Link) teardown(reason generic.CloseReason) {
	linkID := l.linkID
	l.open = false
	l.linkID = 0
	if l.log != nil {
		l.log.Infof("link 0x%08x closed: %s", linkID, reason)
	}
	if l.onClosed != nil {
		l.onClosed(linkID, reason)
	}
}
