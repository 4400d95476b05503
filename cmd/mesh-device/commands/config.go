package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/node"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/backkem/btmesh/pkg/transport"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"gopkg.in/yaml.v3"
)

// DeviceConfig is the on-disk device description.
//
// Example:
//
//	uuid: 70cf7c97-32a3-45b6-9149-4810d2e9cbf4
//	listen: 127.0.0.1:5541
//	peer: 127.0.0.1:5542
//	state: ./device.state
//	log_level: debug
//	oob_info: [number, on-box]
//	capabilities:
//	  elements: 1
//	  static_oob: 00112233445566778899aabbccddeeff
//	  output_oob_size: 6
//	  output_oob_actions: [numeric, blink]
//	timing:
//	  beacon: 3s
type DeviceConfig struct {
	UUID     string   `yaml:"uuid"`
	Listen   string   `yaml:"listen"`
	Peer     string   `yaml:"peer"`
	State    string   `yaml:"state"`
	LogLevel string   `yaml:"log_level"`
	OOBInfo  []string `yaml:"oob_info"`

	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Timing       TimingConfig       `yaml:"timing"`
}

// CapabilitiesConfig lists the authentication methods the device offers.
type CapabilitiesConfig struct {
	Elements         uint8    `yaml:"elements"`
	OOBPublicKey     bool     `yaml:"oob_public_key"`
	StaticOOB        string   `yaml:"static_oob"`
	OutputOOBSize    uint8    `yaml:"output_oob_size"`
	OutputOOBActions []string `yaml:"output_oob_actions"`
	InputOOBSize     uint8    `yaml:"input_oob_size"`
	InputOOBActions  []string `yaml:"input_oob_actions"`
}

// TimingConfig overrides the node timers. Zero keeps the defaults.
type TimingConfig struct {
	Retransmit  time.Duration `yaml:"retransmit"`
	Beacon      time.Duration `yaml:"beacon"`
	LinkTimeout time.Duration `yaml:"link_timeout"`
}

// DefaultDeviceConfig returns the configuration used without a config file.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Listen:   fmt.Sprintf("127.0.0.1:%d", transport.DefaultPort),
		Peer:     fmt.Sprintf("127.0.0.1:%d", transport.DefaultPort+1),
		LogLevel: "info",
		Capabilities: CapabilitiesConfig{
			Elements: 1,
		},
	}
}

// LoadDeviceConfig reads a YAML config file over the defaults.
func LoadDeviceConfig(path string) (DeviceConfig, error) {
	config := DefaultDeviceConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parse config %s: %w", path, err)
	}
	return config, nil
}

var outputActions = map[string]provisioning.OutputAction{
	"blink":        provisioning.OutputBlink,
	"beep":         provisioning.OutputBeep,
	"vibrate":      provisioning.OutputVibrate,
	"numeric":      provisioning.OutputNumeric,
	"alphanumeric": provisioning.OutputAlphanumeric,
}

var inputActions = map[string]provisioning.InputAction{
	"push":         provisioning.InputPush,
	"twist":        provisioning.InputTwist,
	"numeric":      provisioning.InputNumeric,
	"alphanumeric": provisioning.InputAlphanumeric,
}

var oobInfoFlags = map[string]uint16{
	"other":         bearer.OOBInfoOther,
	"uri":           bearer.OOBInfoElectronicURI,
	"2d-code":       bearer.OOBInfo2DCode,
	"bar-code":      bearer.OOBInfoBarCode,
	"nfc":           bearer.OOBInfoNFC,
	"number":        bearer.OOBInfoNumber,
	"string":        bearer.OOBInfoString,
	"on-box":        bearer.OOBInfoOnBox,
	"inside-box":    bearer.OOBInfoInsideBox,
	"on-paper":      bearer.OOBInfoOnPieceOfPaper,
	"inside-manual": bearer.OOBInfoInsideManual,
	"on-device":     bearer.OOBInfoOnDevice,
}

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

// ParseLogLevel maps a level name to a pion log level.
func ParseLogLevel(s string) (logging.LogLevel, error) {
	level, ok := logLevels[strings.ToLower(s)]
	if !ok {
		return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// NodeConfig converts the file format into a node configuration. The
// transport factory, vault and callbacks are left for the caller.
func (c DeviceConfig) NodeConfig() (node.Config, error) {
	var config node.Config

	if c.UUID == "" {
		return config, fmt.Errorf("uuid is required")
	}
	id, err := uuid.Parse(c.UUID)
	if err != nil {
		return config, fmt.Errorf("uuid: %w", err)
	}
	config.UUID = id

	caps, static, err := c.Capabilities.capabilities()
	if err != nil {
		return config, err
	}
	config.Capabilities = caps
	config.StaticOOB = static

	for _, name := range c.OOBInfo {
		flag, ok := oobInfoFlags[strings.ToLower(name)]
		if !ok {
			return config, fmt.Errorf("unknown oob_info flag %q", name)
		}
		config.OOBInfo |= flag
	}

	config.RetransmitInterval = c.Timing.Retransmit
	config.BeaconInterval = c.Timing.Beacon
	config.LinkTimeout = c.Timing.LinkTimeout
	return config, nil
}

func (c CapabilitiesConfig) capabilities() (provisioning.Capabilities, *[provisioning.AuthValueSize]byte, error) {
	caps := provisioning.Capabilities{
		NumberOfElements: c.Elements,
		Algorithms:       provisioning.AlgorithmFIPSP256,
		OutputOOBSize:    c.OutputOOBSize,
		InputOOBSize:     c.InputOOBSize,
	}
	if c.OOBPublicKey {
		caps.PublicKeyType = provisioning.PublicKeyTypeOOB
	}

	for _, name := range c.OutputOOBActions {
		a, ok := outputActions[strings.ToLower(name)]
		if !ok {
			return caps, nil, fmt.Errorf("unknown output OOB action %q", name)
		}
		caps.OutputOOBAction |= a.Bit()
	}
	for _, name := range c.InputOOBActions {
		a, ok := inputActions[strings.ToLower(name)]
		if !ok {
			return caps, nil, fmt.Errorf("unknown input OOB action %q", name)
		}
		caps.InputOOBAction |= a.Bit()
	}

	var static *[provisioning.AuthValueSize]byte
	if c.StaticOOB != "" {
		b, err := hex.DecodeString(c.StaticOOB)
		if err != nil {
			return caps, nil, fmt.Errorf("static_oob: %w", err)
		}
		if len(b) != provisioning.AuthValueSize {
			return caps, nil, fmt.Errorf("static_oob: want %d bytes, got %d", provisioning.AuthValueSize, len(b))
		}
		static = new([provisioning.AuthValueSize]byte)
		copy(static[:], b)
		caps.StaticOOBType = provisioning.StaticOOBAvailable
	}

	return caps, static, caps.Validate()
}
