package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData() *provisioning.ProvisioningData {
	d := &provisioning.ProvisioningData{
		KeyIndex:       0x0001,
		IVIndex:        0x12345678,
		UnicastAddress: 0x0b0c,
	}
	key, _ := hex.DecodeString("f7a2a44f8e8a8029064f173ddc1e2b00")
	copy(d.NetworkKey[:], key)
	return d
}

func TestDerivationsRequireSharedSecret(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)

	salt := make([]byte, 16)
	for _, derive := range []func([]byte) ([16]byte, error){m.PRCK, m.PRSK, m.PRSN, m.PRDK} {
		_, err := derive(salt)
		assert.ErrorIs(t, err, provisioning.ErrNoSharedSecret)
	}
}

func TestSharedSecretMatchesPeer(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	peer, err := crypto.P256GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	require.NoError(t, m.SetPeerPublicKey(context.Background(), peer.PublicKeyXY()))

	own, err := m.PublicKey()
	require.NoError(t, err)
	secret, err := crypto.P256ECDH(peer, own)
	require.NoError(t, err)

	salt := crypto.S1([]byte("salt"))
	labels := map[string]func([]byte) ([16]byte, error){
		"prck": m.PRCK,
		"prsk": m.PRSK,
		"prsn": m.PRSN,
		"prdk": m.PRDK,
	}
	for label, derive := range labels {
		got, err := derive(salt[:])
		require.NoError(t, err)
		want, err := crypto.K1(secret, salt[:], []byte(label))
		require.NoError(t, err)
		assert.Equal(t, want, got, label)
	}

	pk, ok := m.PeerPublicKey()
	require.True(t, ok)
	assert.Equal(t, peer.PublicKeyXY(), pk)
}

func TestSetPeerPublicKeyRejectsInvalidPoint(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)

	var bogus [64]byte
	bogus[0] = 1
	err = m.SetPeerPublicKey(context.Background(), bogus)
	assert.ErrorIs(t, err, crypto.ErrInvalidPublicKey)

	_, err = m.PRCK(make([]byte, 16))
	assert.ErrorIs(t, err, provisioning.ErrNoSharedSecret)
}

func TestClearSession(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	peer, err := crypto.P256GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, m.SetPeerPublicKey(context.Background(), peer.PublicKeyXY()))

	m.ClearSession()

	_, err = m.PRSK(make([]byte, 16))
	assert.ErrorIs(t, err, provisioning.ErrNoSharedSecret)
	_, ok := m.PeerPublicKey()
	assert.False(t, ok)
}

func TestSetProvisioningData(t *testing.T) {
	var notified *provisioning.ProvisioningData
	m, err := New(Config{OnProvisioned: func(d *provisioning.ProvisioningData) { notified = d }})
	require.NoError(t, err)
	assert.False(t, m.Provisioned())
	_, err = m.NetworkCredentials()
	assert.ErrorIs(t, err, ErrNotProvisioned)

	data := testData()
	deviceKey := [16]byte{1, 2, 3}
	require.NoError(t, m.SetProvisioningData(context.Background(), data, deviceKey))

	assert.True(t, m.Provisioned())
	require.NotNil(t, notified)
	assert.Equal(t, data, notified)

	got, err := m.ProvisioningData()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	dk, err := m.DeviceKey()
	require.NoError(t, err)
	assert.Equal(t, deviceKey, dk)

	creds, err := m.NetworkCredentials()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x7f), creds.NID)
	assert.Equal(t, "9f589181a0f50de73c8070c7a6d27f46", hex.EncodeToString(creds.EncryptionKey[:]))
	assert.Equal(t, "4c715bd4a64b938f99b453351653124f", hex.EncodeToString(creds.PrivacyKey[:]))
	assert.Equal(t, uint64(0xff046958233db014), creds.NetworkID)
}

func TestSetProvisioningDataHonorsContext(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = m.SetProvisioningData(ctx, testData(), [16]byte{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.Provisioned())
}

func TestNewFromPrivateKey(t *testing.T) {
	// RFC 5903 Section 8.1 initiator key.
	scalar, _ := hex.DecodeString("c88f01f510d9ac3f70a292daa2316de544e9aab8afe84049c62a9c57862d1433")
	m, err := New(Config{PrivateKey: scalar})
	require.NoError(t, err)

	pk, err := m.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, "dad0b65394221cf9b051e1feca5787d098dfe637fc90b9ef945d0c3772581180",
		hex.EncodeToString(pk[:32]))

	_, err = New(Config{PrivateKey: scalar[:31]})
	assert.ErrorIs(t, err, crypto.ErrInvalidPrivateKey)
}
