package provisioningtest

import (
	"errors"
	"fmt"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/generic"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/backkem/btmesh/pkg/transaction"
	"github.com/google/uuid"
)

// Bearer runs a Provisioner over PB-ADV. It opens the link, sends one
// transaction at a time with provisioner transaction numbers 0x00..0x7F,
// and reassembles and acknowledges device transactions before handing
// them to the Provisioner.
//
// Bearer performs no I/O: Receive and Pending return the frames to send.
type Bearer struct {
	Provisioner *Provisioner
	UUID        uuid.UUID
	LinkID      uint32

	// Replies lists the device PDUs in delivery order, once each.
	Replies []provisioning.PDU

	// Acks lists the transaction numbers acknowledged by the device.
	Acks []uint8

	// LinkAcks counts LinkAck frames received.
	LinkAcks int

	// CloseReason is set when the device closes the link.
	CloseReason *generic.CloseReason

	// SentCloseReason is set when this side closes the link.
	SentCloseReason *generic.CloseReason

	// Err is the first error returned by the Provisioner.
	Err error

	linkOpen bool
	invited  bool

	queue      []provisioning.PDU
	current    [][]byte
	currentTxn uint8
	nextTxn    uint8

	inbound       *transaction.InboundSegments
	inboundTxn    uint8
	delivered     bool
	lastDelivered uint8
}

// NewBearer returns a Bearer that provisions the device with UUID id
// over link linkID.
func NewBearer(p *Provisioner, id uuid.UUID, linkID uint32) *Bearer {
	return &Bearer{Provisioner: p, UUID: id, LinkID: linkID}
}

// Open returns the LinkOpen frame.
func (b *Bearer) Open() []byte {
	return b.control(&generic.LinkOpen{UUID: b.UUID})
}

// Close returns a LinkClose frame and forgets the link.
func (b *Bearer) Close(reason generic.CloseReason) []byte {
	b.linkOpen = false
	b.current = nil
	b.SentCloseReason = &reason
	return b.control(&generic.LinkClose{Reason: reason})
}

// LinkOpen reports whether the device acknowledged the link.
func (b *Bearer) LinkOpen() bool {
	return b.linkOpen
}

// Pending returns the frames to retransmit: the LinkOpen until the device
// acknowledges it, then the unacknowledged transaction.
func (b *Bearer) Pending() [][]byte {
	if !b.linkOpen {
		if b.CloseReason != nil || b.Provisioner.Complete() {
			return nil
		}
		return [][]byte{b.Open()}
	}
	return b.current
}

// Frames wraps generic PDUs as PB-ADV frames on the link.
func (b *Bearer) Frames(txn uint8, pdus ...generic.PDU) [][]byte {
	out := make([][]byte, 0, len(pdus))
	for _, p := range pdus {
		out = append(out, encode(&bearer.PDU{LinkID: b.LinkID, TransactionNumber: txn, Payload: p}))
	}
	return out
}

// Receive consumes one device frame and returns the frames to send in
// response. Frames that are not PB-ADV or belong to another link are
// ignored.
func (b *Bearer) Receive(frame []byte) ([][]byte, error) {
	pdu, err := bearer.Parse(frame)
	if err != nil {
		if errors.Is(err, bearer.ErrNotPBADV) {
			return nil, nil
		}
		return nil, err
	}
	if pdu.LinkID != b.LinkID {
		return nil, nil
	}

	switch v := pdu.Payload.(type) {
	case *generic.LinkAck:
		b.LinkAcks++
		if b.linkOpen {
			return nil, nil
		}
		b.linkOpen = true
		if !b.invited {
			b.invited = true
			b.queue = append(b.queue, b.Provisioner.Begin())
		}
		return b.advance(), nil

	case *generic.LinkClose:
		reason := v.Reason
		b.CloseReason = &reason
		b.linkOpen = false
		b.current = nil
		return nil, nil

	case *generic.TransactionAck:
		b.Acks = append(b.Acks, pdu.TransactionNumber)
		if b.current != nil && pdu.TransactionNumber == b.currentTxn {
			b.current = nil
			return b.advance(), nil
		}
		return nil, nil

	case *generic.TransactionStart:
		if b.delivered && pdu.TransactionNumber == b.lastDelivered {
			return [][]byte{b.ack(pdu.TransactionNumber)}, nil
		}
		if b.inbound != nil && b.inboundTxn == pdu.TransactionNumber {
			return nil, nil
		}
		set, err := transaction.NewInboundSegments(v, transaction.MaxTransactionSize)
		if err != nil {
			return nil, err
		}
		b.inbound = set
		b.inboundTxn = pdu.TransactionNumber
		if set.Complete() {
			return b.deliver()
		}
		return nil, nil

	case *generic.TransactionContinuation:
		if b.delivered && pdu.TransactionNumber == b.lastDelivered {
			return [][]byte{b.ack(pdu.TransactionNumber)}, nil
		}
		if b.inbound == nil || b.inboundTxn != pdu.TransactionNumber {
			return nil, nil
		}
		done, err := b.inbound.Receive(v.SegmentIndex, v.Data)
		if err != nil {
			return nil, err
		}
		if done {
			return b.deliver()
		}
		return nil, nil
	}
	return nil, nil
}

func (b *Bearer) deliver() ([][]byte, error) {
	set, txn := b.inbound, b.inboundTxn
	b.inbound = nil

	payload, err := set.Reassemble()
	if err != nil {
		return nil, err
	}
	b.delivered = true
	b.lastDelivered = txn
	out := [][]byte{b.ack(txn)}

	reply, err := provisioning.Parse(payload)
	if err != nil {
		return out, err
	}
	b.Replies = append(b.Replies, reply)

	next, err := b.Provisioner.Next(reply)
	if err != nil {
		if b.Err == nil {
			b.Err = err
		}
		return out, err
	}
	if b.Provisioner.Complete() {
		return append(out, b.Close(generic.CloseReasonSuccess)), nil
	}
	b.queue = append(b.queue, next...)
	return append(out, b.advance()...), nil
}

// advance starts the next queued transaction once the previous one has
// been acknowledged.
func (b *Bearer) advance() [][]byte {
	if b.current != nil || len(b.queue) == 0 {
		return nil
	}
	pdu := b.queue[0]
	b.queue = b.queue[1:]

	payload, err := provisioning.Encode(pdu)
	if err != nil {
		panic(fmt.Sprintf("provisioningtest: encode %s: %v", pdu.Type(), err))
	}
	segments, err := transaction.Segment(payload)
	if err != nil {
		panic(fmt.Sprintf("provisioningtest: segment %s: %v", pdu.Type(), err))
	}

	b.currentTxn = b.nextTxn
	b.nextTxn = (b.nextTxn + 1) & 0x7F
	b.current = b.Frames(b.currentTxn, segments...)
	return b.current
}

func (b *Bearer) ack(txn uint8) []byte {
	return encode(&bearer.PDU{LinkID: b.LinkID, TransactionNumber: txn, Payload: &generic.TransactionAck{}})
}

func (b *Bearer) control(payload generic.BearerControl) []byte {
	return encode(&bearer.PDU{LinkID: b.LinkID, Payload: payload})
}

func encode(p *bearer.PDU) []byte {
	frame, err := p.Encode()
	if err != nil {
		panic(fmt.Sprintf("provisioningtest: encode %s: %v", p, err))
	}
	return frame
}
