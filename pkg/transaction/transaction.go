// Package transaction implements the Generic Provisioning transaction
// layer for the device role: reassembly and acknowledgement of inbound
// transactions, and segmentation and retransmission of outbound ones.
//
// The layer performs no I/O. ProcessInbound reports whether an ack is due
// and which message completed; the caller frames and transmits. At most
// one inbound and one outbound transaction are tracked at a time.
//
// Spec References:
//   - Mesh Profile Section 5.3.1: Generic Provisioning PDUs
//   - Mesh Profile Section 5.3.2: Generic Provisioning behavior
package transaction

import (
	"fmt"

	"github.com/backkem/btmesh/pkg/generic"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/pion/logging"
)

const (
	// FirstDeviceTransaction is the first transaction number the device
	// uses. Device numbers cycle through 0x80..0xFF.
	FirstDeviceTransaction uint8 = 0x80

	// ackWindow is how far behind the last acknowledged number a
	// transaction is still considered a retransmission, modulo 128.
	ackWindow = 64
)

// Config configures a Layer.
type Config struct {
	// MaxTransactionSize bounds inbound reassembly.
	// Defaults to MaxTransactionSize.
	MaxTransactionSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Inbound is the outcome of one inbound Generic Provisioning PDU.
type Inbound struct {
	// Ack reports that a Transaction Acknowledgment must be sent with
	// the inbound transaction number.
	Ack bool

	// PDU is the provisioning PDU completed by this segment, if any.
	PDU provisioning.PDU
}

// Outbound is the in-flight outbound transaction.
type Outbound struct {
	TransactionNumber uint8
	PDU               provisioning.PDU
	Segments          []generic.PDU
}

// Layer holds the transaction state of one link. It is not safe for
// concurrent use.
type Layer struct {
	maxSize int
	log     logging.LeveledLogger

	inbound    *InboundSegments
	inboundTxn uint8
	lastAck    uint8
	acked      bool

	outbound *Outbound
	nextTxn  uint8
}

// New returns an empty Layer.
func New(config Config) *Layer {
	l := &Layer{
		maxSize: config.MaxTransactionSize,
		nextTxn: FirstDeviceTransaction,
	}
	if l.maxSize <= 0 {
		l.maxSize = MaxTransactionSize
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transaction")
	}
	return l
}

// ProcessInbound handles a Generic Provisioning PDU received on the open
// link with transaction number txn.
//
// A transaction at or shortly before the last acknowledged one is a
// retransmission: it is acknowledged again and not delivered. A payload
// that fails to decode is still acknowledged and reported as
// ErrInvalidPDU so the state machine can answer it.
func (l *Layer) ProcessInbound(txn uint8, pdu generic.PDU) (Inbound, error) {
	switch v := pdu.(type) {
	case *generic.TransactionStart:
		if l.alreadyAcked(txn) {
			return Inbound{Ack: true}, nil
		}
		return l.processStart(txn, v)

	case *generic.TransactionContinuation:
		if l.alreadyAcked(txn) {
			return Inbound{Ack: true}, nil
		}
		return l.processContinuation(txn, v)

	default:
		// Acks are handled through HandleAck; bearer control belongs to
		// the link layer.
		return Inbound{}, nil
	}
}

func (l *Layer) processStart(txn uint8, start *generic.TransactionStart) (Inbound, error) {
	if l.inbound != nil && l.inboundTxn == txn {
		// Retransmitted start of the set being reassembled.
		return Inbound{}, nil
	}

	// A start that fails to decode leaves the current set untouched.
	set, err := NewInboundSegments(start, l.maxSize)
	if err != nil {
		return Inbound{}, err
	}
	if l.inbound != nil {
		if l.log != nil {
			l.log.Debugf("transaction 0x%02x replaces incomplete 0x%02x", txn, l.inboundTxn)
		}
		l.inbound = nil
	}
	if !set.Complete() {
		l.inbound = set
		l.inboundTxn = txn
		return Inbound{}, nil
	}
	return l.complete(txn, set)
}

func (l *Layer) processContinuation(txn uint8, cont *generic.TransactionContinuation) (Inbound, error) {
	if l.inbound == nil {
		// Wait for the start to be retransmitted.
		return Inbound{}, fmt.Errorf("%w: continuation %d of 0x%02x without start", ErrIncompleteTransaction, cont.SegmentIndex, txn)
	}
	if l.inboundTxn != txn {
		return Inbound{}, fmt.Errorf("%w: got 0x%02x, reassembling 0x%02x", ErrInvalidTransactionNumber, txn, l.inboundTxn)
	}

	done, err := l.inbound.Receive(cont.SegmentIndex, cont.Data)
	if err != nil {
		return Inbound{}, err
	}
	if !done {
		return Inbound{}, nil
	}
	set := l.inbound
	l.inbound = nil
	return l.complete(txn, set)
}

func (l *Layer) complete(txn uint8, set *InboundSegments) (Inbound, error) {
	payload, err := set.Reassemble()
	if err != nil {
		// Not acknowledged: the provisioner retransmits the whole set.
		return Inbound{}, err
	}

	l.lastAck = txn
	l.acked = true

	pdu, err := provisioning.Parse(payload)
	if err != nil {
		return Inbound{Ack: true}, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}
	if l.log != nil {
		l.log.Tracef("transaction 0x%02x complete: %s (%d bytes, %d segments)", txn, pdu.Type(), len(payload), int(set.SegN())+1)
	}
	return Inbound{Ack: true, PDU: pdu}, nil
}

// alreadyAcked compares modulo 128 so the check survives the wrap of the
// 7-bit transaction counter.
func (l *Layer) alreadyAcked(txn uint8) bool {
	if !l.acked {
		return false
	}
	return (l.lastAck-txn)&0x7F < ackWindow
}

// Send segments pdu as a new outbound transaction and returns it for
// transmission. An unacknowledged previous transaction is superseded.
func (l *Layer) Send(pdu provisioning.PDU) (*Outbound, error) {
	payload, err := provisioning.Encode(pdu)
	if err != nil {
		return nil, err
	}
	segments, err := Segment(payload)
	if err != nil {
		return nil, err
	}

	if l.outbound != nil && l.log != nil {
		l.log.Debugf("transaction 0x%02x (%s) superseded before ack", l.outbound.TransactionNumber, l.outbound.PDU.Type())
	}
	l.outbound = &Outbound{
		TransactionNumber: l.nextTxn,
		PDU:               pdu,
		Segments:          segments,
	}
	l.nextTxn = FirstDeviceTransaction | (l.nextTxn+1)&0x7F
	return l.outbound, nil
}

// Retransmit returns the in-flight transaction, or nil once it has been
// acknowledged.
func (l *Layer) Retransmit() *Outbound {
	return l.outbound
}

// HandleAck clears the in-flight transaction if txn matches it.
func (l *Layer) HandleAck(txn uint8) bool {
	if l.outbound == nil || l.outbound.TransactionNumber != txn {
		return false
	}
	l.outbound = nil
	return true
}

// Reset discards inbound and outbound state. Transaction numbering
// restarts on the next link.
func (l *Layer) Reset() {
	l.inbound = nil
	l.inboundTxn = 0
	l.lastAck = 0
	l.acked = false
	l.outbound = nil
	l.nextTxn = FirstDeviceTransaction
}

// Reassembling reports whether an inbound transaction is incomplete.
func (l *Layer) Reassembling() bool {
	return l.inbound != nil
}

