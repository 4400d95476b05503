package crypto

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"io"
)

const (
	// P256ScalarSize is the private key scalar size in bytes.
	P256ScalarSize = 32

	// P256PublicKeySize is the provisioning wire format of a public key:
	// X (32 bytes) || Y (32 bytes), without the SEC1 0x04 prefix.
	P256PublicKeySize = 64

	// P256SharedSecretSize is the ECDH shared secret size (the X coordinate).
	P256SharedSecretSize = 32
)

var (
	ErrInvalidPublicKey  = errors.New("p256: public key is not a valid curve point")
	ErrInvalidPrivateKey = errors.New("p256: invalid private key")
)

// P256KeyPair is a device ECDH key pair.
type P256KeyPair struct {
	private *ecdh.PrivateKey
}

// P256GenerateKeyPair generates a key pair from rand.
func P256GenerateKeyPair(rand io.Reader) (*P256KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("p256: generate key: %w", err)
	}
	return &P256KeyPair{private: priv}, nil
}

// P256KeyPairFromPrivateKey restores a key pair from its 32-byte scalar.
func P256KeyPairFromPrivateKey(scalar []byte) (*P256KeyPair, error) {
	if len(scalar) != P256ScalarSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPrivateKey, len(scalar))
	}
	priv, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return &P256KeyPair{private: priv}, nil
}

// PrivateKey returns the 32-byte private scalar.
func (kp *P256KeyPair) PrivateKey() []byte {
	return kp.private.Bytes()
}

// PublicKeyXY returns the public key as X || Y.
func (kp *P256KeyPair) PublicKeyXY() [P256PublicKeySize]byte {
	var out [P256PublicKeySize]byte
	// Bytes() is the uncompressed SEC1 encoding 0x04 || X || Y.
	copy(out[:], kp.private.PublicKey().Bytes()[1:])
	return out
}

// P256PublicKeyFromXY validates that X || Y is a point on P-256.
func P256PublicKeyFromXY(xy [P256PublicKeySize]byte) (*ecdh.PublicKey, error) {
	sec1 := make([]byte, 1+P256PublicKeySize)
	sec1[0] = 0x04
	copy(sec1[1:], xy[:])
	pub, err := ecdh.P256().NewPublicKey(sec1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// P256ECDH computes the shared secret between kp and the peer key X || Y.
func P256ECDH(kp *P256KeyPair, peerXY [P256PublicKeySize]byte) ([]byte, error) {
	peer, err := P256PublicKeyFromXY(peerXY)
	if err != nil {
		return nil, err
	}
	secret, err := kp.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("p256: ECDH: %w", err)
	}
	return secret, nil
}
