package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and partner status",
	Long:  "Display the current configuration and fetch your partner's do-not-disturb and presence from the status store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Endpoint:    %s\n", valueOrDefault(cfg.Default.Endpoint, "(default)"))
		if cfg.Default.StatusEndpoint != "" {
			fmt.Printf("  Status URL:  %s\n", cfg.Default.StatusEndpoint)
		}
		fmt.Printf("  Sender ID:   %s\n", valueOrDefault(cfg.Identity.SenderID, "(not set)"))
		fmt.Printf("  Room:        %s\n", valueOrDefault(cfg.Room.Code, "(none)"))
		fmt.Printf("  DND:         %s\n", onOff(cfg.Room.DND))

		if cfg.Room.Code == "" || cfg.Identity.SenderID == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Partner:")

		logger := newLogger(cfg)
		client := getClient(cfg, &logger)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		dnd, ok, err := client.Status.PartnerDND(ctx, cfg.Room.Code, cfg.Identity.SenderID)
		if err != nil {
			fmt.Printf("  Error fetching status: %v\n", err)
			return nil
		}
		if ok {
			fmt.Printf("  DND:         %s\n", onOff(dnd))
		} else {
			fmt.Println("  DND:         (unknown)")
		}

		online, err := client.Status.PartnerPresence(ctx, cfg.Room.Code, cfg.Identity.SenderID)
		if err != nil {
			fmt.Printf("  Error fetching presence: %v\n", err)
			return nil
		}
		if online {
			fmt.Println("  Presence:    online")
		} else {
			fmt.Println("  Presence:    away")
		}
		return nil
	},
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
