package provisioning

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// ProvisioningData flags.
const (
	FlagKeyRefresh uint8 = 1 << 0
	FlagIVUpdate   uint8 = 1 << 1

	flagsMask = FlagKeyRefresh | FlagIVUpdate
)

// ProvisioningData is the decrypted payload of the Data PDU
// (Mesh Profile Section 5.4.2.5).
type ProvisioningData struct {
	NetworkKey     [16]byte
	KeyIndex       uint16
	Flags          uint8
	IVIndex        uint32
	UnicastAddress uint16
}

// KeyRefresh reports whether the Key Refresh phase 2 flag is set.
func (d *ProvisioningData) KeyRefresh() bool { return d.Flags&FlagKeyRefresh != 0 }

// IVUpdate reports whether IV Update is active.
func (d *ProvisioningData) IVUpdate() bool { return d.Flags&FlagIVUpdate != 0 }

// ParseProvisioningData decodes the 25-byte plaintext of the Data PDU.
func ParseProvisioningData(b []byte) (*ProvisioningData, error) {
	if len(b) != EncryptedDataSize {
		return nil, parseError(TypeData, "", fmt.Errorf("%w: %d plaintext bytes", ErrInvalidLength, len(b)))
	}
	s := cryptobyte.String(b)
	d := &ProvisioningData{}
	s.CopyBytes(d.NetworkKey[:])
	s.ReadUint16(&d.KeyIndex)
	s.ReadUint8(&d.Flags)
	s.ReadUint32(&d.IVIndex)
	s.ReadUint16(&d.UnicastAddress)

	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Marshal returns the 25-byte plaintext.
func (d *ProvisioningData) Marshal() ([]byte, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	b := cryptobyte.NewFixedBuilder(make([]byte, 0, EncryptedDataSize))
	b.AddBytes(d.NetworkKey[:])
	b.AddUint16(d.KeyIndex)
	b.AddUint8(d.Flags)
	b.AddUint32(d.IVIndex)
	b.AddUint16(d.UnicastAddress)
	return b.Bytes()
}

func (d *ProvisioningData) validate() error {
	invalid := func(field string, v any) error {
		return parseError(TypeData, field, fmt.Errorf("%w: %v", ErrInvalidValue, v))
	}
	switch {
	case d.KeyIndex > 0x0FFF:
		return invalid("KeyIndex", d.KeyIndex)
	case d.Flags&^flagsMask != 0:
		return invalid("Flags", d.Flags)
	case d.UnicastAddress == 0 || d.UnicastAddress >= 0x8000:
		return invalid("UnicastAddress", fmt.Sprintf("0x%04x", d.UnicastAddress))
	}
	return nil
}

func (d *ProvisioningData) String() string {
	return fmt.Sprintf("ProvisioningData{KeyIndex: %d, Flags: 0x%02x, IVIndex: %d, UnicastAddress: 0x%04x}",
		d.KeyIndex, d.Flags, d.IVIndex, d.UnicastAddress)
}
