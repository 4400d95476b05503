package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/btmesh/pkg/node"
	"github.com/backkem/btmesh/pkg/provisioning"
	"github.com/backkem/btmesh/pkg/transport"
	"github.com/backkem/btmesh/pkg/vault"
	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		listen    string
		peer      string
		id        string
		statePath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Advertise and accept provisioning until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				config.Listen = listen
			}
			if peer != "" {
				config.Peer = peer
			}
			if id != "" {
				config.UUID = id
			}
			if statePath != "" {
				config.State = statePath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDevice(ctx, config)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "UDP address to receive advertisements on")
	cmd.Flags().StringVar(&peer, "peer", "", "UDP address advertisements are sent to")
	cmd.Flags().StringVar(&id, "uuid", "", "device UUID")
	cmd.Flags().StringVar(&statePath, "state", "", "file holding the device keys (default: in-memory)")
	return cmd
}

// runDevice starts a node and blocks until ctx is done.
func runDevice(ctx context.Context, config DeviceConfig) error {
	loggerFactory, err := newLoggerFactory(config.LogLevel)
	if err != nil {
		return err
	}
	log := loggerFactory.NewLogger("mesh-device")

	nodeConfig, err := config.NodeConfig()
	if err != nil {
		return err
	}

	peerAddr, err := net.ResolveUDPAddr("udp", config.Peer)
	if err != nil {
		return fmt.Errorf("peer address: %w", err)
	}
	nodeConfig.TransportFactory = transport.NewAdvertiserFactory(transport.AdvertiserConfig{
		ListenAddr:    config.Listen,
		PeerAddr:      peerAddr,
		LoggerFactory: loggerFactory,
	})

	v, err := openVault(config.State, loggerFactory)
	if err != nil {
		return err
	}
	nodeConfig.Vault = v
	nodeConfig.LoggerFactory = loggerFactory

	nodeConfig.OnStateChanged = func(s node.State) {
		log.Infof("state: %s", s)
	}
	nodeConfig.OnAuthValue = func(av *provisioning.AuthValue) {
		printAuthValue(av)
	}
	nodeConfig.OnProvisioned = func(data *provisioning.ProvisioningData) {
		fmt.Printf("Provisioned: address 0x%04x, key index %d, IV index 0x%08x\n",
			data.UnicastAddress, data.KeyIndex, data.IVIndex)
		if err := saveVault(config.State, v); err != nil {
			log.Errorf("save state: %v", err)
		}
	}

	n, err := node.New(nodeConfig)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	printDeviceInfo(nodeConfig, config, v)
	err = n.Run(ctx)
	log.Info("shutting down")
	return err
}

// openVault restores the vault from path, or creates a fresh one and
// stores it there so the device key survives restarts.
func openVault(path string, loggerFactory logging.LoggerFactory) (*vault.Memory, error) {
	config := vault.Config{LoggerFactory: loggerFactory}
	if path == "" {
		return vault.New(config)
	}

	b, err := os.ReadFile(path)
	if err == nil {
		return vault.Restore(b, config)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read state: %w", err)
	}

	v, err := vault.New(config)
	if err != nil {
		return nil, err
	}
	if err := saveVault(path, v); err != nil {
		return nil, err
	}
	return v, nil
}

func saveVault(path string, v *vault.Memory) error {
	if path == "" {
		return nil
	}
	b, err := v.Snapshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func printAuthValue(av *provisioning.AuthValue) {
	switch av.Method {
	case provisioning.AuthOutputOOB:
		fmt.Printf("Output OOB (%s): %s\n", provisioning.OutputAction(av.Action), av)
	case provisioning.AuthInputOOB:
		fmt.Printf("Input OOB (%s) requested, size %d\n", provisioning.InputAction(av.Action), av.Size)
	case provisioning.AuthStaticOOB:
		fmt.Println("Static OOB selected")
	}
}

func printDeviceInfo(nodeConfig node.Config, config DeviceConfig, v *vault.Memory) {
	fmt.Println("\n========================================")
	fmt.Println("           Mesh Device Ready")
	fmt.Println("========================================")
	fmt.Printf("UUID:           %s\n", nodeConfig.UUID)
	fmt.Printf("Listen:         %s\n", config.Listen)
	fmt.Printf("Peer:           %s\n", config.Peer)
	fmt.Printf("Elements:       %d\n", nodeConfig.Capabilities.NumberOfElements)
	fmt.Printf("OOB Info:       0x%04x\n", nodeConfig.OOBInfo)
	if pk, err := v.PublicKey(); err == nil {
		fmt.Printf("Public Key:     %x\n", pk[:])
	}
	fmt.Printf("Provisioned:    %t\n", v.Provisioned())
	fmt.Println("========================================")
}
