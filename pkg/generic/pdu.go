// Package generic implements the Generic Provisioning layer PDU codec.
//
// Every PB-ADV frame carries exactly one Generic Provisioning PDU. The low
// two bits of its first octet (GPCF) select one of four formats:
//
//	00 Transaction Start         SegN(6) | TotalLength(16) | FCS(8) | data
//	01 Transaction Acknowledgment 000000
//	10 Transaction Continuation  SegmentIndex(6) | data
//	11 Provisioning Bearer Control Opcode(6) | parameters
//
// Segmentation state lives in pkg/transaction; this package only converts
// between octets and values.
//
// Spec References:
//   - Mesh Profile Section 5.3: Generic Provisioning layer
package generic

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	// StartMTU is the largest payload of a Transaction Start PDU.
	StartMTU = 20

	// ContinuationMTU is the largest payload of a Transaction Continuation PDU.
	ContinuationMTU = 23

	// MaxSegmentIndex is the largest SegN / SegmentIndex (6 bits).
	MaxSegmentIndex = 0x3F

	startHeaderSize = 4
)

// PDU is a Generic Provisioning PDU.
type PDU interface {
	// Append encodes the PDU onto b.
	Append(b []byte) ([]byte, error)
	GPCF() GPCF
	String() string
}

// BearerControl is a Provisioning Bearer Control PDU.
type BearerControl interface {
	PDU
	Opcode() BearerOpcode
}

// TransactionStart opens a transaction and carries the first segment.
type TransactionStart struct {
	SegN        uint8 // index of the last segment
	TotalLength uint16
	FCS         uint8
	Data        []byte
}

// TransactionAck acknowledges a complete transaction.
type TransactionAck struct{}

// TransactionContinuation carries segment 1..SegN of a transaction.
type TransactionContinuation struct {
	SegmentIndex uint8
	Data         []byte
}

// LinkOpen asks the device identified by UUID to open a link.
type LinkOpen struct {
	UUID uuid.UUID
}

// LinkAck confirms a LinkOpen.
type LinkAck struct{}

// LinkClose closes a link.
type LinkClose struct {
	Reason CloseReason
}

var (
	_ PDU           = (*TransactionStart)(nil)
	_ PDU           = (*TransactionAck)(nil)
	_ PDU           = (*TransactionContinuation)(nil)
	_ BearerControl = (*LinkOpen)(nil)
	_ BearerControl = (*LinkAck)(nil)
	_ BearerControl = (*LinkClose)(nil)
)

// Parse decodes a Generic Provisioning PDU. The returned PDU does not
// alias data.
func Parse(data []byte) (PDU, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSize)
	}
	hi := data[0] >> 2

	switch GPCF(data[0] & 0x03) {
	case GPCFTransactionStart:
		if len(data) < startHeaderSize+1 {
			return nil, fmt.Errorf("%w: transaction start of %d bytes", ErrInvalidSize, len(data))
		}
		payload := data[startHeaderSize:]
		if len(payload) > StartMTU {
			return nil, fmt.Errorf("%w: transaction start payload %d > %d", ErrInvalidSize, len(payload), StartMTU)
		}
		return &TransactionStart{
			SegN:        hi,
			TotalLength: binary.BigEndian.Uint16(data[1:3]),
			FCS:         data[3],
			Data:        append([]byte(nil), payload...),
		}, nil

	case GPCFTransactionAck:
		if len(data) != 1 {
			return nil, fmt.Errorf("%w: transaction ack of %d bytes", ErrInvalidSize, len(data))
		}
		if hi != 0 {
			return nil, fmt.Errorf("%w: transaction ack padding 0x%02x", ErrInvalidBits, hi)
		}
		return &TransactionAck{}, nil

	case GPCFTransactionContinuation:
		if len(data) < 2 {
			return nil, fmt.Errorf("%w: transaction continuation of %d bytes", ErrInvalidSize, len(data))
		}
		payload := data[1:]
		if len(payload) > ContinuationMTU {
			return nil, fmt.Errorf("%w: continuation payload %d > %d", ErrInvalidSize, len(payload), ContinuationMTU)
		}
		return &TransactionContinuation{
			SegmentIndex: hi,
			Data:         append([]byte(nil), payload...),
		}, nil

	default:
		return parseBearerControl(BearerOpcode(hi), data[1:])
	}
}

func parseBearerControl(op BearerOpcode, params []byte) (BearerControl, error) {
	switch op {
	case OpcodeLinkOpen:
		if len(params) != len(uuid.UUID{}) {
			return nil, fmt.Errorf("%w: link open of %d bytes", ErrInvalidSize, len(params))
		}
		var p LinkOpen
		copy(p.UUID[:], params)
		return &p, nil
	case OpcodeLinkAck:
		if len(params) != 0 {
			return nil, fmt.Errorf("%w: link ack of %d bytes", ErrInvalidSize, len(params))
		}
		return &LinkAck{}, nil
	case OpcodeLinkClose:
		if len(params) != 1 {
			return nil, fmt.Errorf("%w: link close of %d bytes", ErrInvalidSize, len(params))
		}
		reason := CloseReason(params[0])
		if !reason.IsValid() {
			return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidReason, params[0])
		}
		return &LinkClose{Reason: reason}, nil
	default:
		return nil, fmt.Errorf("%w: bearer control opcode 0x%02x", ErrInvalidGPCF, uint8(op))
	}
}

// Encode returns the wire encoding of p.
func Encode(p PDU) ([]byte, error) {
	return p.Append(nil)
}

func (p *TransactionStart) GPCF() GPCF { return GPCFTransactionStart }

func (p *TransactionStart) Append(b []byte) ([]byte, error) {
	if p.SegN > MaxSegmentIndex {
		return nil, fmt.Errorf("%w: SegN %d", ErrInvalidSize, p.SegN)
	}
	if len(p.Data) == 0 || len(p.Data) > StartMTU {
		return nil, fmt.Errorf("%w: transaction start payload %d", ErrInvalidSize, len(p.Data))
	}
	b = append(b, p.SegN<<2|byte(GPCFTransactionStart))
	b = binary.BigEndian.AppendUint16(b, p.TotalLength)
	b = append(b, p.FCS)
	return append(b, p.Data...), nil
}

func (p *TransactionStart) String() string {
	return fmt.Sprintf("TransactionStart{SegN: %d, TotalLength: %d, FCS: 0x%02x, Data: %d bytes}",
		p.SegN, p.TotalLength, p.FCS, len(p.Data))
}

func (p *TransactionAck) GPCF() GPCF { return GPCFTransactionAck }

func (p *TransactionAck) Append(b []byte) ([]byte, error) {
	return append(b, byte(GPCFTransactionAck)), nil
}

func (p *TransactionAck) String() string { return "TransactionAck" }

func (p *TransactionContinuation) GPCF() GPCF { return GPCFTransactionContinuation }

func (p *TransactionContinuation) Append(b []byte) ([]byte, error) {
	if p.SegmentIndex > MaxSegmentIndex {
		return nil, fmt.Errorf("%w: segment index %d", ErrInvalidSize, p.SegmentIndex)
	}
	if len(p.Data) == 0 || len(p.Data) > ContinuationMTU {
		return nil, fmt.Errorf("%w: continuation payload %d", ErrInvalidSize, len(p.Data))
	}
	b = append(b, p.SegmentIndex<<2|byte(GPCFTransactionContinuation))
	return append(b, p.Data...), nil
}

func (p *TransactionContinuation) String() string {
	return fmt.Sprintf("TransactionContinuation{SegmentIndex: %d, Data: %d bytes}", p.SegmentIndex, len(p.Data))
}

func controlHeader(op BearerOpcode) byte {
	return byte(op)<<2 | byte(GPCFBearerControl)
}

func (p *LinkOpen) GPCF() GPCF           { return GPCFBearerControl }
func (p *LinkOpen) Opcode() BearerOpcode { return OpcodeLinkOpen }

func (p *LinkOpen) Append(b []byte) ([]byte, error) {
	b = append(b, controlHeader(OpcodeLinkOpen))
	return append(b, p.UUID[:]...), nil
}

func (p *LinkOpen) String() string { return "LinkOpen{UUID: " + p.UUID.String() + "}" }

func (p *LinkAck) GPCF() GPCF           { return GPCFBearerControl }
func (p *LinkAck) Opcode() BearerOpcode { return OpcodeLinkAck }

func (p *LinkAck) Append(b []byte) ([]byte, error) {
	return append(b, controlHeader(OpcodeLinkAck)), nil
}

func (p *LinkAck) String() string { return "LinkAck" }

func (p *LinkClose) GPCF() GPCF           { return GPCFBearerControl }
func (p *LinkClose) Opcode() BearerOpcode { return OpcodeLinkClose }

func (p *LinkClose) Append(b []byte) ([]byte, error) {
	if !p.Reason.IsValid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidReason, uint8(p.Reason))
	}
	return append(b, controlHeader(OpcodeLinkClose), byte(p.Reason)), nil
}

func (p *LinkClose) String() string { return "LinkClose{Reason: " + p.Reason.String() + "}" }
