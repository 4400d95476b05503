package vault

import (
	"errors"
	"fmt"

	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/fxamacker/cbor/v2"
)

// snapshotVersion is bumped on incompatible layout changes.
const snapshotVersion = 1

// ErrSnapshotVersion is returned when restoring an unknown snapshot layout.
var ErrSnapshotVersion = errors.New("vault: unsupported snapshot version")

// snapshot is the persistent part of a Memory vault. Session secrets are
// never included.
type snapshot struct {
	Version    uint8    `cbor:"1,keyasint"`
	PrivateKey []byte   `cbor:"2,keyasint"`
	Data       *dataRec `cbor:"3,keyasint,omitempty"`
	DeviceKey  []byte   `cbor:"4,keyasint,omitempty"`
}

type dataRec struct {
	NetworkKey     []byte `cbor:"1,keyasint"`
	KeyIndex       uint16 `cbor:"2,keyasint"`
	Flags          uint8  `cbor:"3,keyasint"`
	IVIndex        uint32 `cbor:"4,keyasint"`
	UnicastAddress uint16 `cbor:"5,keyasint"`
}

var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}
	snapshotEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	snapshotDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR decoder mode: %v", err))
	}
}

// Snapshot serializes the device key pair and, when provisioned, the
// provisioning data and device key. The result contains secrets and
// must be stored accordingly.
func (m *Memory) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := snapshot{
		Version:    snapshotVersion,
		PrivateKey: m.key.PrivateKey(),
	}
	if m.data != nil {
		s.Data = &dataRec{
			NetworkKey:     m.data.NetworkKey[:],
			KeyIndex:       m.data.KeyIndex,
			Flags:          m.data.Flags,
			IVIndex:        m.data.IVIndex,
			UnicastAddress: m.data.UnicastAddress,
		}
		s.DeviceKey = m.deviceKey[:]
	}
	return snapshotEncMode.Marshal(s)
}

// Restore returns a vault rebuilt from a Snapshot. config.PrivateKey is
// ignored.
func Restore(b []byte, config Config) (*Memory, error) {
	var s snapshot
	if err := snapshotDecMode.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("vault: decode snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}

	config.PrivateKey = s.PrivateKey
	m, err := New(config)
	if err != nil {
		return nil, err
	}
	if s.Data == nil {
		return m, nil
	}

	if len(s.Data.NetworkKey) != 16 || len(s.DeviceKey) != 16 {
		return nil, fmt.Errorf("vault: decode snapshot: invalid key length")
	}
	data := &provisioning.ProvisioningData{
		KeyIndex:       s.Data.KeyIndex,
		Flags:          s.Data.Flags,
		IVIndex:        s.Data.IVIndex,
		UnicastAddress: s.Data.UnicastAddress,
	}
	copy(data.NetworkKey[:], s.Data.NetworkKey)
	if _, err := data.Marshal(); err != nil {
		return nil, fmt.Errorf("vault: decode snapshot: %w", err)
	}
	creds, err := DeriveNetworkCredentials(data.NetworkKey)
	if err != nil {
		return nil, err
	}

	m.data = data
	copy(m.deviceKey[:], s.DeviceKey)
	m.credentials = creds
	return m, nil
}
