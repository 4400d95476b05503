package integration

import (
	"context"
	"testing"
	"time"

	"github.com/backkem/btmesh/pkg/generic"
	"github.com/backkem/btmesh/pkg/node"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/backkem/btmesh/pkg/transport"
	"github.com/backkem/btmesh/pkg/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireProvisioned checks the device side after a successful attempt.
func requireProvisioned(t *testing.T, pair *TestPair, want provisioning.ProvisioningData) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pair.WaitForState(ctx, node.StateProvisioned))

	v := pair.Device.Vault()
	require.True(t, v.Provisioned())
	got, err := v.ProvisioningData()
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

// TestE2E_Provisioning provisions a device with No OOB over a clean channel.
func TestE2E_Provisioning(t *testing.T) {
	config := DefaultTestPairConfig()
	pair := NewTestPair(t, config)
	defer pair.Close()

	ctx, cancel := pair.Context()
	defer cancel()

	res, err := pair.Provision(ctx)
	require.NoError(t, err)
	require.True(t, res.Complete, "device did not complete: failed=%v close=%v", res.Failed, res.CloseReason)

	types := make([]provisioning.PDUType, 0, len(res.Replies))
	for _, r := range res.Replies {
		types = append(types, r.Type())
	}
	assert.Equal(t, []provisioning.PDUType{
		provisioning.TypeCapabilities,
		provisioning.TypePublicKey,
		provisioning.TypeConfirmation,
		provisioning.TypeRandom,
		provisioning.TypeComplete,
	}, types)

	requireProvisioned(t, pair, config.Data)

	mem, ok := pair.Device.Vault().(*vault.Memory)
	require.True(t, ok)
	creds, err := mem.NetworkCredentials()
	require.NoError(t, err)
	want, err := vault.DeriveNetworkCredentials(config.Data.NetworkKey)
	require.NoError(t, err)
	assert.Equal(t, want, creds)
}

// TestE2E_LossyChannel provisions through dropped and duplicated frames.
// Both sides retransmit until every transaction is acknowledged.
func TestE2E_LossyChannel(t *testing.T) {
	config := DefaultTestPairConfig()
	config.Condition = transport.NetworkCondition{
		DropRate:      0.2,
		DuplicateRate: 0.2,
		DelayMin:      time.Millisecond,
		DelayMax:      5 * time.Millisecond,
	}
	config.Seed = 7
	config.ProvisionTimeout = 30 * time.Second

	pair := NewTestPair(t, config)
	defer pair.Close()

	ctx, cancel := pair.Context()
	defer cancel()

	res, err := pair.Provision(ctx)
	require.NoError(t, err)
	require.True(t, res.Complete, "device did not complete: failed=%v close=%v", res.Failed, res.CloseReason)

	stats := pair.Pipe.Stats()
	assert.Positive(t, stats.Dropped, "channel should have dropped frames")
	assert.Positive(t, stats.Duplicated, "channel should have duplicated frames")

	requireProvisioned(t, pair, config.Data)
}

// TestE2E_OutputOOB provisions with a numeric value shown by the device.
func TestE2E_OutputOOB(t *testing.T) {
	config := DefaultTestPairConfig()
	config.Capabilities.OutputOOBSize = 6
	config.Capabilities.OutputOOBAction = provisioning.OutputNumeric.Bit()
	config.Start = provisioning.Start{
		Algorithm:  provisioning.AlgorithmP256,
		PublicKey:  provisioning.PublicKeyNoOOB,
		AuthMethod: provisioning.AuthOutputOOB,
		AuthAction: uint8(provisioning.OutputNumeric),
		AuthSize:   6,
	}

	pair := NewTestPair(t, config)
	defer pair.Close()

	ctx, cancel := pair.Context()
	defer cancel()

	res, err := pair.Provision(ctx)
	require.NoError(t, err)
	require.True(t, res.Complete, "device did not complete: failed=%v close=%v", res.Failed, res.CloseReason)

	require.NotNil(t, res.AuthValue)
	assert.Equal(t, provisioning.AuthKindNumeric, res.AuthValue.Kind)
	assert.Less(t, res.AuthValue.Number, uint32(1000000))

	requireProvisioned(t, pair, config.Data)
}

// TestE2E_StaticOOB checks that both a matching and a mismatching static
// value behave as expected.
func TestE2E_StaticOOB(t *testing.T) {
	static := [provisioning.AuthValueSize]byte{0x6e, 0x6f, 0x72, 0x64, 0x69, 0x63, 0x5f, 0x73, 0x65, 0x6d, 0x69, 0x5f, 0x62, 0x74, 0x6d, 0x65}

	newConfig := func() TestPairConfig {
		config := DefaultTestPairConfig()
		config.Capabilities.StaticOOBType = provisioning.StaticOOBAvailable
		config.StaticOOB = &static
		config.Start = provisioning.Start{AuthMethod: provisioning.AuthStaticOOB}
		config.LinkTimeout = 300 * time.Millisecond
		return config
	}

	t.Run("match", func(t *testing.T) {
		config := newConfig()
		config.AuthValue = static

		pair := NewTestPair(t, config)
		defer pair.Close()

		ctx, cancel := pair.Context()
		defer cancel()

		res, err := pair.Provision(ctx)
		require.NoError(t, err)
		require.True(t, res.Complete)
		requireProvisioned(t, pair, config.Data)
	})

	t.Run("mismatch", func(t *testing.T) {
		config := newConfig()
		config.AuthValue = [provisioning.AuthValueSize]byte{0x01}

		pair := NewTestPair(t, config)
		defer pair.Close()

		ctx, cancel := pair.Context()
		defer cancel()

		res, err := pair.Provision(ctx)
		require.NoError(t, err)
		assert.False(t, res.Complete)
		require.NotNil(t, res.Failed)
		assert.Equal(t, provisioning.ErrorConfirmationFailed, res.Failed.ErrorCode)

		// The device leaves the link open after Failed; the idle timeout
		// closes it.
		require.NotNil(t, res.CloseReason)
		assert.Equal(t, generic.CloseReasonTimeout, *res.CloseReason)
		assert.False(t, pair.Device.Vault().Provisioned())
	})
}

// TestE2E_DecryptionFailureRecovers corrupts the provisioning data. The
// device stalls, times the link out and returns to beaconing, after which a
// second attempt succeeds.
func TestE2E_DecryptionFailureRecovers(t *testing.T) {
	config := DefaultTestPairConfig()
	config.CorruptMIC = true
	config.LinkTimeout = 300 * time.Millisecond

	pair := NewTestPair(t, config)
	defer pair.Close()

	ctx, cancel := pair.Context()
	defer cancel()

	res, err := pair.Provision(ctx)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Nil(t, res.Failed, "decryption failure must not be reported")
	require.NotNil(t, res.CloseReason)
	assert.Equal(t, generic.CloseReasonTimeout, *res.CloseReason)

	require.NoError(t, pair.WaitForState(ctx, node.StateUnprovisioned))
	assert.False(t, pair.Device.Vault().Provisioned())

	pair.config.CorruptMIC = false
	res, err = pair.Provision(ctx)
	require.NoError(t, err)
	require.True(t, res.Complete)
	requireProvisioned(t, pair, config.Data)
}

// TestE2E_RestoredDeviceStaysProvisioned snapshots the vault of a
// provisioned device and starts a new device from it.
func TestE2E_RestoredDeviceStaysProvisioned(t *testing.T) {
	config := DefaultTestPairConfig()
	pair := NewTestPair(t, config)

	ctx, cancel := pair.Context()
	defer cancel()

	res, err := pair.Provision(ctx)
	require.NoError(t, err)
	require.True(t, res.Complete)
	requireProvisioned(t, pair, config.Data)

	mem, ok := pair.Device.Vault().(*vault.Memory)
	require.True(t, ok)
	snap, err := mem.Snapshot()
	require.NoError(t, err)
	pair.Close()

	restored, err := vault.Restore(snap, vault.Config{})
	require.NoError(t, err)

	config.Vault = restored
	again := NewTestPair(t, config)
	defer again.Close()

	assert.Equal(t, node.StateProvisioned, again.Device.State())

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer waitCancel()
	_, err = again.WaitForBeacon(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "provisioned device must not beacon")
}
