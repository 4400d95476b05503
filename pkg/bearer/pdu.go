// Package bearer implements the PB-ADV advertising bearer framing and the
// unprovisioned device beacon.
//
// A PB-ADV frame is a single AD structure:
//
//	[len][0x29][link id, 4 octets BE][transaction number][generic PDU]
//
// Spec References:
//   - Mesh Profile Section 5.2.1: PB-ADV
//   - Mesh Profile Section 3.9.2: Unprovisioned Device beacon
package bearer

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/btmesh/pkg/generic"
)

// AD types used by the mesh advertising bearer.
const (
	ADTypePBADV      = 0x29
	ADTypeMeshBeacon = 0x2B
)

const (
	// MaxFrameSize is one legacy advertising payload.
	MaxFrameSize = 31

	// HeaderSize covers length, AD type, link id and transaction number.
	HeaderSize = 7

	minFrameSize = HeaderSize + 1
)

// PDU is a decoded PB-ADV frame.
type PDU struct {
	LinkID            uint32
	TransactionNumber uint8
	Payload           generic.PDU
}

// Parse decodes a PB-ADV frame.
func Parse(data []byte) (*PDU, error) {
	if len(data) < minFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSize, len(data))
	}
	if data[1] != ADTypePBADV {
		return nil, fmt.Errorf("%w: AD type 0x%02x", ErrNotPBADV, data[1])
	}
	if int(data[0]) != len(data)-1 {
		return nil, fmt.Errorf("%w: length octet %d for %d byte frame", ErrInvalidSize, data[0], len(data))
	}

	payload, err := generic.Parse(data[HeaderSize:])
	if err != nil {
		return nil, err
	}
	return &PDU{
		LinkID:            binary.BigEndian.Uint32(data[2:6]),
		TransactionNumber: data[6],
		Payload:           payload,
	}, nil
}

// Encode returns the frame for p with its length octet filled in.
func (p *PDU) Encode() ([]byte, error) {
	b := make([]byte, 2, MaxFrameSize)
	b[1] = ADTypePBADV
	b = binary.BigEndian.AppendUint32(b, p.LinkID)
	b = append(b, p.TransactionNumber)

	b, err := p.Payload.Append(b)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, len(b))
	}
	b[0] = byte(len(b) - 1)
	return b, nil
}

func (p *PDU) String() string {
	return fmt.Sprintf("PBADV{LinkID: 0x%08x, Txn: 0x%02x, %v}", p.LinkID, p.TransactionNumber, p.Payload)
}
