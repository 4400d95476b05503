package bearer

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// BeaconTypeUnprovisioned is the mesh beacon type of the unprovisioned
// device beacon.
const BeaconTypeUnprovisioned = 0x00

// OOBInfo flags advertised in the unprovisioned device beacon
// (Mesh Profile Table 3.54).
const (
	OOBInfoOther          uint16 = 1 << 0
	OOBInfoElectronicURI  uint16 = 1 << 1
	OOBInfo2DCode         uint16 = 1 << 2
	OOBInfoBarCode        uint16 = 1 << 3
	OOBInfoNFC            uint16 = 1 << 4
	OOBInfoNumber         uint16 = 1 << 5
	OOBInfoString         uint16 = 1 << 6
	OOBInfoOnBox          uint16 = 1 << 11
	OOBInfoInsideBox      uint16 = 1 << 12
	OOBInfoOnPieceOfPaper uint16 = 1 << 13
	OOBInfoInsideManual   uint16 = 1 << 14
	OOBInfoOnDevice       uint16 = 1 << 15
)

// UnprovisionedBeacon advertises a device that is waiting to be
// provisioned.
type UnprovisionedBeacon struct {
	UUID    uuid.UUID
	OOBInfo uint16
	URIHash *[4]byte
}

// Encode returns the beacon as a mesh beacon AD structure.
func (b *UnprovisionedBeacon) Encode() []byte {
	out := make([]byte, 3, 25)
	out[1] = ADTypeMeshBeacon
	out[2] = BeaconTypeUnprovisioned
	out = append(out, b.UUID[:]...)
	out = binary.BigEndian.AppendUint16(out, b.OOBInfo)
	if b.URIHash != nil {
		out = append(out, b.URIHash[:]...)
	}
	out[0] = byte(len(out) - 1)
	return out
}

// ParseUnprovisionedBeacon decodes an unprovisioned device beacon.
func ParseUnprovisionedBeacon(data []byte) (*UnprovisionedBeacon, error) {
	const base = 3 + 16 + 2
	if len(data) < 3 || data[1] != ADTypeMeshBeacon || data[2] != BeaconTypeUnprovisioned {
		return nil, ErrNotBeacon
	}
	if int(data[0]) != len(data)-1 || (len(data) != base && len(data) != base+4) {
		return nil, fmt.Errorf("%w: beacon of %d bytes", ErrInvalidSize, len(data))
	}

	b := &UnprovisionedBeacon{
		OOBInfo: binary.BigEndian.Uint16(data[19:21]),
	}
	copy(b.UUID[:], data[3:19])
	if len(data) == base+4 {
		var h [4]byte
		copy(h[:], data[base:])
		b.URIHash = &h
	}
	return b, nil
}
