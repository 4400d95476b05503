package commands

import (
	"fmt"
	"os"

	"github.com/backkem/btmesh/pkg/vault"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var statePath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the keys and provisioning data stored in a state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if statePath == "" {
				config, err := loadConfig()
				if err != nil {
					return err
				}
				statePath = config.State
			}
			if statePath == "" {
				return fmt.Errorf("state file required (--state)")
			}

			b, err := os.ReadFile(statePath)
			if err != nil {
				return err
			}
			v, err := vault.Restore(b, vault.Config{})
			if err != nil {
				return err
			}
			return printStatus(cmd, v)
		},
	}

	cmd.Flags().StringVar(&statePath, "state", "", "state file written by run")
	return cmd
}

func printStatus(cmd *cobra.Command, v *vault.Memory) error {
	out := cmd.OutOrStdout()

	pk, err := v.PublicKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Public Key:     %x\n", pk[:])

	if !v.Provisioned() {
		fmt.Fprintln(out, "Provisioned:    false")
		return nil
	}
	data, err := v.ProvisioningData()
	if err != nil {
		return err
	}
	creds, err := v.NetworkCredentials()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Provisioned:    true")
	fmt.Fprintf(out, "Address:        0x%04x\n", data.UnicastAddress)
	fmt.Fprintf(out, "Key Index:      %d\n", data.KeyIndex)
	fmt.Fprintf(out, "IV Index:       0x%08x\n", data.IVIndex)
	fmt.Fprintf(out, "Key Refresh:    %t\n", data.KeyRefresh())
	fmt.Fprintf(out, "NID:            0x%02x\n", creds.NID)
	fmt.Fprintf(out, "Network ID:     %016x\n", creds.NetworkID)
	return nil
}
