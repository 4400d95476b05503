// AES-CCM as used by the mesh provisioning and network layers.
// This implements AES-128-CCM per NIST 800-38C and RFC 3610 with the
// parameters of Mesh Profile Section 3.8.2.3:
//   - Key length: 128 bits
//   - Nonce length: 13 bytes (q = 2)
//   - MIC length: 32 or 64 bits depending on the PDU

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

const (
	// NonceSize is the CCM nonce size used throughout the mesh stack.
	NonceSize = 13

	// MICSize32 is the short MIC used by unsegmented access and network PDUs.
	MICSize32 = 4

	// MICSize64 is the MIC appended to the provisioning Data PDU.
	MICSize64 = 8

	blockSize = 16
)

var (
	ErrInvalidNonceSize   = errors.New("aesccm: invalid nonce size")
	ErrInvalidMICSize     = errors.New("aesccm: invalid MIC size, must be 4, 6, 8, 10, 12, 14, or 16")
	ErrPlaintextTooLong   = errors.New("aesccm: plaintext too long")
	ErrCiphertextTooShort = errors.New("aesccm: ciphertext too short")

	// ErrAuthFailed is returned when the MIC does not verify. Callers treat
	// it as a rejected message.
	ErrAuthFailed = errors.New("aesccm: message authentication failed")
)

// AESCCM is an AES-128-CCM cipher bound to one key, nonce size and MIC size.
type AESCCM struct {
	block   cipher.Block
	micSize int // M
	lenSize int // L = 15 - nonce size
}

// NewAESCCM returns a cipher with a 13-byte nonce and the given MIC size.
func NewAESCCM(key []byte, micSize int) (*AESCCM, error) {
	return NewAESCCMWithParams(key, NonceSize, micSize)
}

// NewAESCCMWithParams returns a cipher with arbitrary CCM parameters.
// nonceSize must be 7..13 and micSize an even number in 4..16.
func NewAESCCMWithParams(key []byte, nonceSize, micSize int) (*AESCCM, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	lenSize := 15 - nonceSize
	if lenSize < 2 || lenSize > 8 {
		return nil, ErrInvalidNonceSize
	}
	if micSize < 4 || micSize > 16 || micSize%2 != 0 {
		return nil, ErrInvalidMICSize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return &AESCCM{
		block:   block,
		micSize: micSize,
		lenSize: lenSize,
	}, nil
}

// NonceSize returns the nonce size in bytes.
func (c *AESCCM) NonceSize() int {
	return 15 - c.lenSize
}

// MICSize returns the MIC size in bytes.
func (c *AESCCM) MICSize() int {
	return c.micSize
}

// Seal encrypts plaintext and returns ciphertext || MIC.
func (c *AESCCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	if uint64(len(plaintext)) > (uint64(1)<<(8*uint(c.lenSize)))-1 {
		return nil, ErrPlaintextTooLong
	}

	mic := c.cbcMAC(nonce, plaintext, aad)

	out := make([]byte, len(plaintext)+c.micSize)
	s0 := c.s0(nonce)
	for i := 0; i < c.micSize; i++ {
		out[len(plaintext)+i] = mic[i] ^ s0[i]
	}
	c.ctr(nonce, out[:len(plaintext)], plaintext)

	return out, nil
}

// Open verifies and decrypts ciphertext || MIC.
func (c *AESCCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < c.micSize {
		return nil, ErrCiphertextTooShort
	}
	split := len(ciphertext) - c.micSize
	return c.OpenDetached(nonce, ciphertext[:split], ciphertext[split:], aad)
}

// OpenDetached verifies and decrypts a ciphertext whose MIC is carried
// separately, as in the provisioning Data PDU.
func (c *AESCCM) OpenDetached(nonce, ciphertext, mic, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	if len(mic) != c.micSize {
		return nil, ErrInvalidMICSize
	}

	s0 := c.s0(nonce)
	received := make([]byte, c.micSize)
	for i := range received {
		received[i] = mic[i] ^ s0[i]
	}

	plaintext := make([]byte, len(ciphertext))
	c.ctr(nonce, plaintext, ciphertext)

	expected := c.cbcMAC(nonce, plaintext, aad)
	if subtle.ConstantTimeCompare(received, expected) != 1 {
		Wipe(plaintext)
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// cbcMAC computes the unencrypted authentication value T
// (RFC 3610 Section 2.2).
func (c *AESCCM) cbcMAC(nonce, plaintext, aad []byte) []byte {
	// B_0 flags: Adata(1) || M'(3) || L'(3)
	var b0 [blockSize]byte
	if len(aad) > 0 {
		b0[0] |= 1 << 6
	}
	b0[0] |= byte((c.micSize-2)/2) << 3
	b0[0] |= byte(c.lenSize - 1)
	n := c.NonceSize()
	copy(b0[1:1+n], nonce)
	putLength(b0[1+n:], len(plaintext))

	mac := make([]byte, blockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		var hdr []byte
		switch {
		case len(aad) < (1<<16)-(1<<8):
			hdr = binary.BigEndian.AppendUint16(nil, uint16(len(aad)))
		case uint64(len(aad)) < 1<<32:
			hdr = binary.BigEndian.AppendUint32([]byte{0xFF, 0xFE}, uint32(len(aad)))
		default:
			hdr = binary.BigEndian.AppendUint64([]byte{0xFF, 0xFF}, uint64(len(aad)))
		}
		c.absorb(mac, append(hdr, aad...))
	}
	c.absorb(mac, plaintext)

	return mac[:c.micSize]
}

// absorb runs data through the CBC-MAC, zero padding the last block.
func (c *AESCCM) absorb(mac, data []byte) {
	for len(data) > 0 {
		var block [blockSize]byte
		n := copy(block[:], data)
		data = data[n:]
		for i := range block {
			mac[i] ^= block[i]
		}
		c.block.Encrypt(mac, mac)
	}
}

// s0 returns E(K, A_0), the keystream block that masks the MIC.
func (c *AESCCM) s0(nonce []byte) []byte {
	var a0 [blockSize]byte
	a0[0] = byte(c.lenSize - 1)
	copy(a0[1:1+c.NonceSize()], nonce)

	s0 := make([]byte, blockSize)
	c.block.Encrypt(s0, a0[:])
	return s0
}

// ctr applies the CCM counter mode keystream starting at counter 1.
func (c *AESCCM) ctr(nonce []byte, dst, src []byte) {
	var a [blockSize]byte
	a[0] = byte(c.lenSize - 1)
	copy(a[1:1+c.NonceSize()], nonce)
	a[blockSize-1] = 1

	var ks [blockSize]byte
	for i := 0; i < len(src); i += blockSize {
		c.block.Encrypt(ks[:], a[:])
		end := min(i+blockSize, len(src))
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ ks[j-i]
		}
		incrementCounter(a[blockSize-c.lenSize:])
	}
}

func putLength(dst []byte, length int) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(length)
		length >>= 8
	}
}

func incrementCounter(ctr []byte) {
	for i := len(ctr) - 1; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			break
		}
	}
}

// AESCCMEncrypt encrypts data with a 13-byte nonce and no additional data,
// returning ciphertext || MIC. micSize is MICSize32 or MICSize64.
func AESCCMEncrypt(key, nonce, data []byte, micSize int) ([]byte, error) {
	ccm, err := newMeshCCM(key, micSize)
	if err != nil {
		return nil, err
	}
	return ccm.Seal(nonce, data, nil)
}

// AESCCMDecrypt is the inverse of AESCCMEncrypt.
func AESCCMDecrypt(key, nonce, data []byte, micSize int) ([]byte, error) {
	ccm, err := newMeshCCM(key, micSize)
	if err != nil {
		return nil, err
	}
	return ccm.Open(nonce, data, nil)
}

// AESCCMDecryptDetached decrypts ciphertext authenticated by a separate
// MIC. The MIC length selects the CCM tag size.
func AESCCMDecryptDetached(key, nonce, ciphertext, mic []byte) ([]byte, error) {
	ccm, err := newMeshCCM(key, len(mic))
	if err != nil {
		return nil, err
	}
	return ccm.OpenDetached(nonce, ciphertext, mic, nil)
}

func newMeshCCM(key []byte, micSize int) (*AESCCM, error) {
	if micSize != MICSize32 && micSize != MICSize64 {
		return nil, ErrInvalidMICSize
	}
	return NewAESCCM(key, micSize)
}
