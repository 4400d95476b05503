package crypto

import (
	"crypto/aes"
	"errors"

	"github.com/aead/cmac"
)

// CMACSize is the AES-CMAC tag size in bytes.
const CMACSize = 16

// KeySize is the AES-128 key size used by every mesh primitive.
const KeySize = 16

var (
	// ErrInvalidKeyLength is returned when a key is not 16 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 16 bytes")
)

// AESCMAC computes the AES-128 CMAC of m under key (RFC 4493).
func AESCMAC(key, m []byte) ([CMACSize]byte, error) {
	var out [CMACSize]byte
	if len(key) != KeySize {
		return out, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return out, err
	}
	h, err := cmac.New(block)
	if err != nil {
		return out, err
	}
	h.Write(m)
	copy(out[:], h.Sum(nil))
	return out, nil
}

// VerifyCMAC reports whether tag is the AES-CMAC of m under key.
// The comparison is constant time.
func VerifyCMAC(key, m, tag []byte) (bool, error) {
	if len(key) != KeySize {
		return false, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return false, err
	}
	return cmac.Verify(tag, m, block, CMACSize), nil
}
