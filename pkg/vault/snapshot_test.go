package vault

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotUnprovisioned(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)

	b, err := m.Snapshot()
	require.NoError(t, err)

	restored, err := Restore(b, Config{})
	require.NoError(t, err)
	assert.False(t, restored.Provisioned())

	want, _ := m.PublicKey()
	got, _ := restored.PublicKey()
	assert.Equal(t, want, got)
}

func TestSnapshotProvisioned(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, m.SetProvisioningData(context.Background(), testData(), [16]byte{9}))

	b, err := m.Snapshot()
	require.NoError(t, err)

	restored, err := Restore(b, Config{})
	require.NoError(t, err)
	require.True(t, restored.Provisioned())

	data, err := restored.ProvisioningData()
	require.NoError(t, err)
	assert.Equal(t, testData(), data)

	dk, err := restored.DeviceKey()
	require.NoError(t, err)
	assert.Equal(t, [16]byte{9}, dk)

	want, _ := m.NetworkCredentials()
	got, err := restored.NetworkCredentials()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSnapshotExcludesSession(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	peer, err := New(Config{})
	require.NoError(t, err)
	pk, _ := peer.PublicKey()
	require.NoError(t, m.SetPeerPublicKey(context.Background(), pk))

	b, err := m.Snapshot()
	require.NoError(t, err)
	restored, err := Restore(b, Config{})
	require.NoError(t, err)

	_, ok := restored.PeerPublicKey()
	assert.False(t, ok)
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	b, err := cbor.Marshal(snapshot{Version: 2, PrivateKey: make([]byte, 32)})
	require.NoError(t, err)

	_, err = Restore(b, Config{})
	assert.ErrorIs(t, err, ErrSnapshotVersion)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	_, err := Restore([]byte{0xff, 0x00}, Config{})
	assert.Error(t, err)
}
