package vault

import (
	"fmt"

	"github.com/backkem/btmesh/pkg/crypto"
)

// managedFlooding is the k2 P parameter for the master security
// credentials (Mesh Profile Section 3.8.6.3.1).
var managedFlooding = []byte{0x00}

// NetworkCredentials are the keys derived from a network key.
//
// Spec References:
//   - Mesh Profile Section 3.8.6.3.1: NID, EncryptionKey, PrivacyKey
//   - Mesh Profile Section 3.8.6.3.2: Network ID
type NetworkCredentials struct {
	NID           uint8
	EncryptionKey [16]byte
	PrivacyKey    [16]byte
	NetworkID     uint64
}

// DeriveNetworkCredentials computes k2(NetKey, 0x00) and k3(NetKey).
func DeriveNetworkCredentials(netKey [16]byte) (*NetworkCredentials, error) {
	nid, enc, priv, err := crypto.K2(netKey[:], managedFlooding)
	if err != nil {
		return nil, fmt.Errorf("vault: k2: %w", err)
	}
	id, err := crypto.K3(netKey[:])
	if err != nil {
		return nil, fmt.Errorf("vault: k3: %w", err)
	}
	return &NetworkCredentials{
		NID:           nid,
		EncryptionKey: enc,
		PrivacyKey:    priv,
		NetworkID:     id,
	}, nil
}

func (c *NetworkCredentials) String() string {
	return fmt.Sprintf("NetworkCredentials{NID: 0x%02x, NetworkID: %016x}", c.NID, c.NetworkID)
}
