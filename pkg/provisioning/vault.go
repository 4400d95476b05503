package provisioning

import "context"

// Vault holds the device key pair and the attempt-scoped secrets, and
// derives provisioning keys from them. The ECDH secret never leaves the
// Vault.
type Vault interface {
	// PublicKey returns the device public key as X || Y.
	PublicKey() ([PublicKeySize]byte, error)

	// SetPeerPublicKey validates the provisioner key and computes the
	// ECDH shared secret.
	SetPeerPublicKey(ctx context.Context, pk [PublicKeySize]byte) error

	// PRCK, PRSK, PRSN and PRDK return k1(ECDHSecret, salt, label) for the
	// confirmation key, session key, session nonce and device key labels.
	// They fail with ErrNoSharedSecret before SetPeerPublicKey.
	PRCK(salt []byte) ([16]byte, error)
	PRSK(salt []byte) ([16]byte, error)
	PRSN(salt []byte) ([16]byte, error)
	PRDK(salt []byte) ([16]byte, error)

	// SetProvisioningData stores the network credentials and device key.
	SetProvisioningData(ctx context.Context, data *ProvisioningData, deviceKey [16]byte) error

	// ClearSession drops the peer key and shared secret.
	ClearSession()
}
