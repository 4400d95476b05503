// Package commands implements the mesh-device command line.
package commands

import (
	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mesh-device",
		Short:        "Bluetooth Mesh device with PB-ADV provisioning",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML device config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: disabled, error, warn, info, debug, trace")

	root.AddCommand(runCmd(), statusCmd(), uuidCmd())
	return root
}

// loadConfig returns the config file contents, or the defaults when no
// file was given. --log-level overrides the file.
func loadConfig() (DeviceConfig, error) {
	config := DefaultDeviceConfig()
	if configPath != "" {
		var err error
		if config, err = LoadDeviceConfig(configPath); err != nil {
			return config, err
		}
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	return config, nil
}

func newLoggerFactory(level string) (logging.LoggerFactory, error) {
	l, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = l
	return lf, nil
}
