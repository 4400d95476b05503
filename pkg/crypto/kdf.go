package crypto

import (
	"encoding/binary"
)

// Provisioning key derivation labels (Mesh Profile Section 5.4.2.5).
var (
	LabelConfirmationKey = []byte("prck")
	LabelSessionKey      = []byte("prsk")
	LabelSessionNonce    = []byte("prsn")
	LabelDeviceKey       = []byte("prdk")
)

// SessionNonceSize is the length of the provisioning session nonce: the
// 13 least significant bytes of the 16-byte K1 output.
const SessionNonceSize = 13

var zeroKey [KeySize]byte

// S1 is the salt generation function: AES-CMAC with an all-zero key.
// This implements s1 from Mesh Profile Section 3.8.2.4.
func S1(m []byte) [CMACSize]byte {
	out, _ := AESCMAC(zeroKey[:], m)
	return out
}

// K1 derives a 128-bit key: AES-CMAC_T(P) where T = AES-CMAC_SALT(N).
// This implements k1 from Mesh Profile Section 3.8.2.5.
//
// Parameters:
//   - n: input keying material, any length (e.g. the ECDH secret)
//   - salt: 16-byte salt
//   - p: derivation label
func K1(n, salt, p []byte) ([CMACSize]byte, error) {
	t, err := AESCMAC(salt, n)
	if err != nil {
		return [CMACSize]byte{}, err
	}
	return AESCMAC(t[:], p)
}

// K2 is the network key material derivation function (Mesh Profile
// Section 3.8.2.6). It returns the 7-bit NID, the encryption key and the
// privacy key derived from the 16-byte key n and the input p.
func K2(n, p []byte) (nid uint8, encryptionKey, privacyKey [CMACSize]byte, err error) {
	if len(n) != KeySize {
		return 0, encryptionKey, privacyKey, ErrInvalidKeyLength
	}
	salt := S1([]byte("smk2"))
	t, err := AESCMAC(salt[:], n)
	if err != nil {
		return 0, encryptionKey, privacyKey, err
	}

	// T(i) = AES-CMAC_T(T(i-1) || P || i), with T(0) empty.
	var prev []byte
	var rounds [3][CMACSize]byte
	for i := range rounds {
		in := make([]byte, 0, len(prev)+len(p)+1)
		in = append(in, prev...)
		in = append(in, p...)
		in = append(in, byte(i+1))
		rounds[i], err = AESCMAC(t[:], in)
		if err != nil {
			return 0, encryptionKey, privacyKey, err
		}
		prev = rounds[i][:]
	}

	return rounds[0][CMACSize-1] & 0x7F, rounds[1], rounds[2], nil
}

// K3 derives the 64-bit network ID from a network key (Mesh Profile
// Section 3.8.2.7).
func K3(n []byte) (uint64, error) {
	if len(n) != KeySize {
		return 0, ErrInvalidKeyLength
	}
	salt := S1([]byte("smk3"))
	t, err := AESCMAC(salt[:], n)
	if err != nil {
		return 0, err
	}
	out, err := AESCMAC(t[:], []byte("id64\x01"))
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(out[CMACSize-8:]), nil
}
