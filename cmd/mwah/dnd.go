package main

import (
	"context"
	"fmt"
	"time"

	mwah "github.com/mwah-app/mwah-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(dndCmd)
}

var dndCmd = &cobra.Command{
	Use:   "dnd <on|off>",
	Short: "Turn do-not-disturb on or off",
	Long:  "Store the local do-not-disturb flag and, when in a room, tell your partner about it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dnd, err := parseOnOff(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Room.DND = dnd
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Do not disturb: %s\n", onOff(dnd))

		if cfg.Room.Code == "" || cfg.Identity.SenderID == "" {
			return nil
		}

		logger := newLogger(cfg)
		client := getClient(cfg, &logger)
		channel := client.Channel(cfg.Room.Code, cfg.Identity.SenderID)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Status.SaveDND(ctx, channel.RoomCode, channel.SenderID, dnd); err != nil {
			logger.Warn().Err(err).Msg("failed to save status")
		}
		if err := client.Publish(ctx, channel, mwah.SendStatus{DoNotDisturb: dnd}); err != nil {
			return fmt.Errorf("failed to notify partner: %w", err)
		}
		return nil
	},
}
