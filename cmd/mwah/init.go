package main

import (
	"fmt"

	mwah "github.com/mwah-app/mwah-go"
	"github.com/spf13/cobra"
)

var initEndpoint string

func init() {
	initCmd.Flags().StringVar(&initEndpoint, "endpoint", "", "Relay endpoint (http(s):// event stream or ws(s):// WebSocket)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sender id in ~/.mwah/config.toml",
	Long:  "Initialize the mwah CLI by generating this device's sender id and storing it in the local configuration file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Identity.SenderID == "" {
			cfg.Identity.SenderID = mwah.NewSenderID()
		}
		if initEndpoint != "" {
			cfg.Default.Endpoint = initEndpoint
		}
		if cfg.Default.Endpoint == "" {
			cfg.Default.Endpoint = mwah.DefaultEndpoint
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Sender id %s saved to %s\n", cfg.Identity.SenderID, path)
		return nil
	},
}
