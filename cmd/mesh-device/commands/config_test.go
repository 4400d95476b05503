package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/backkem/btmesh/pkg/vault"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
uuid: 70cf7c97-32a3-45b6-9149-4810d2e9cbf4
listen: 127.0.0.1:6000
log_level: debug
oob_info: [number, on-box]
capabilities:
  elements: 2
  static_oob: 00112233445566778899aabbccddeeff
  output_oob_size: 6
  output_oob_actions: [numeric, blink]
  input_oob_size: 4
  input_oob_actions: [push]
timing:
  retransmit: 250ms
  beacon: 1s
  link_timeout: 30s
`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadDeviceConfig(t *testing.T) {
	config, err := LoadDeviceConfig(writeFile(t, "device.yaml", []byte(testConfigYAML)))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6000", config.Listen)
	assert.Equal(t, DefaultDeviceConfig().Peer, config.Peer, "unset fields keep defaults")
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, 250*time.Millisecond, config.Timing.Retransmit)

	nc, err := config.NodeConfig()
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("70cf7c97-32a3-45b6-9149-4810d2e9cbf4"), nc.UUID)
	assert.Equal(t, bearer.OOBInfoNumber|bearer.OOBInfoOnBox, nc.OOBInfo)
	assert.Equal(t, time.Second, nc.BeaconInterval)
	assert.Equal(t, 30*time.Second, nc.LinkTimeout)

	caps := nc.Capabilities
	assert.Equal(t, uint8(2), caps.NumberOfElements)
	assert.Equal(t, provisioning.AlgorithmFIPSP256, caps.Algorithms)
	assert.Equal(t, provisioning.StaticOOBAvailable, caps.StaticOOBType)
	assert.Equal(t, provisioning.OutputNumeric.Bit()|provisioning.OutputBlink.Bit(), caps.OutputOOBAction)
	assert.Equal(t, provisioning.InputPush.Bit(), caps.InputOOBAction)

	require.NotNil(t, nc.StaticOOB)
	assert.Equal(t, byte(0x00), nc.StaticOOB[0])
	assert.Equal(t, byte(0xff), nc.StaticOOB[15])
}

func TestLoadDeviceConfigErrors(t *testing.T) {
	_, err := LoadDeviceConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadDeviceConfig(writeFile(t, "bad.yaml", []byte("uuid: [")))
	assert.Error(t, err)
}

func TestNodeConfigErrors(t *testing.T) {
	valid := func() DeviceConfig {
		c := DefaultDeviceConfig()
		c.UUID = "70cf7c97-32a3-45b6-9149-4810d2e9cbf4"
		return c
	}

	tests := []struct {
		name   string
		mutate func(*DeviceConfig)
	}{
		{"missing uuid", func(c *DeviceConfig) { c.UUID = "" }},
		{"bad uuid", func(c *DeviceConfig) { c.UUID = "not-a-uuid" }},
		{"zero elements", func(c *DeviceConfig) { c.Capabilities.Elements = 0 }},
		{"unknown output action", func(c *DeviceConfig) { c.Capabilities.OutputOOBActions = []string{"sing"} }},
		{"unknown input action", func(c *DeviceConfig) { c.Capabilities.InputOOBActions = []string{"shake"} }},
		{"short static oob", func(c *DeviceConfig) { c.Capabilities.StaticOOB = "0011" }},
		{"non-hex static oob", func(c *DeviceConfig) { c.Capabilities.StaticOOB = strings.Repeat("zz", 16) }},
		{"unknown oob info", func(c *DeviceConfig) { c.OOBInfo = []string{"tattoo"} }},
	}

	_, err := valid().NodeConfig()
	require.NoError(t, err)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			_, err := c.NodeConfig()
			assert.Error(t, err)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, logging.LogLevelDebug, level)

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	v, err := vault.New(vault.Config{})
	require.NoError(t, err)
	require.NoError(t, v.SetProvisioningData(context.Background(), &provisioning.ProvisioningData{
		NetworkKey:     [16]byte{0x7d, 0xd7, 0x36, 0x4c, 0xd8, 0x42, 0xad, 0x18, 0xc1, 0x7c, 0x2b, 0x82, 0x0c, 0x84, 0xc3, 0xd6},
		IVIndex:        0x12345678,
		UnicastAddress: 0x0b0c,
	}, [16]byte{1}))
	snap, err := v.Snapshot()
	require.NoError(t, err)
	path := writeFile(t, "device.state", snap)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"status", "--state", path})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "Provisioned:    true")
	assert.Contains(t, out.String(), "Address:        0x0b0c")
	assert.Contains(t, out.String(), "IV Index:       0x12345678")
}

func TestOpenVaultPersistsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.state")

	first, err := openVault(path, nil)
	require.NoError(t, err)
	second, err := openVault(path, nil)
	require.NoError(t, err)

	a, err := first.PublicKey()
	require.NoError(t, err)
	b, err := second.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUUIDCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"uuid"})
	require.NoError(t, root.Execute())

	_, err := uuid.Parse(strings.TrimSpace(out.String()))
	assert.NoError(t, err)
}
