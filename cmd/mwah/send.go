package main

import (
	"context"
	"fmt"
	"time"

	mwah "github.com/mwah-app/mwah-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:       "send <heart|presence|status> [on|off]",
	Short:     "Send one event to the room",
	Long:      "Publish a single heart, presence ping or do-not-disturb status to the current room.",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"heart", "presence", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var ev mwah.OutboundEvent
		switch args[0] {
		case "heart":
			ev = mwah.SendHeart{}
		case "presence":
			ev = mwah.SendPresence{}
		case "status":
			if len(args) != 2 {
				return fmt.Errorf("status needs on or off")
			}
			dnd, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			ev = mwah.SendStatus{DoNotDisturb: dnd}
		default:
			return fmt.Errorf("unknown event %q (valid: heart, presence, status)", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger := newLogger(cfg)
		client := getClient(cfg, &logger)
		channel, err := requireRoom(cfg, client)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Publish(ctx, channel, ev); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("Sent %s to room %s\n", args[0], channel.RoomCode)
		return nil
	},
}
