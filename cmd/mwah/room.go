package main

import (
	"fmt"

	mwah "github.com/mwah-app/mwah-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(roomCmd)
	roomCmd.AddCommand(roomCreateCmd)
	roomCmd.AddCommand(roomJoinCmd)
	roomCmd.AddCommand(roomLeaveCmd)
}

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Create, join or leave a room",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new room and print its code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := mwah.GenerateRoomCode()
		if err != nil {
			return fmt.Errorf("failed to generate room code: %w", err)
		}
		if err := enterRoom(code); err != nil {
			return err
		}
		fmt.Printf("Created room %s\nShare this code with your partner.\n", code)
		return nil
	},
}

var roomJoinCmd = &cobra.Command{
	Use:   "join <code>",
	Short: "Join a room using a code from your partner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := mwah.NormalizeRoomCode(args[0])
		if err != nil {
			return err
		}
		if err := enterRoom(code); err != nil {
			return err
		}
		fmt.Printf("Joined room %s\n", code)
		return nil
	},
}

var roomLeaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Leave the current room",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Room.Code == "" {
			fmt.Println("Not in a room.")
			return nil
		}
		code := cfg.Room.Code
		cfg.Room.Code = ""
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Left room %s\n", code)
		return nil
	},
}

// enterRoom stores code as the active room, creating a sender id if needed.
func enterRoom(code string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Identity.SenderID == "" {
		cfg.Identity.SenderID = mwah.NewSenderID()
	}
	cfg.Room.Code = code
	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
