package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	mwah "github.com/mwah-app/mwah-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	listenDrainInterval    time.Duration
	listenPresenceInterval time.Duration
	listenSendOnEnter      bool
)

func init() {
	listenCmd.Flags().DurationVar(&listenDrainInterval, "drain-interval", mwah.DefaultDrainInterval, "Spacing between hearts shown during a burst")
	listenCmd.Flags().DurationVar(&listenPresenceInterval, "presence-interval", time.Minute, "How often to announce presence (0 disables)")
	listenCmd.Flags().BoolVar(&listenSendOnEnter, "send-on-enter", true, "Send a heart each time Enter is pressed")
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stay connected to the room and show incoming hearts",
	Long:  "Connect to the current room, print hearts and status changes from your partner, and send a heart on every Enter key press.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue := mwah.NewHeartQueue(func() {
			fmt.Println("♥  from your partner")
		}, &mwah.HeartQueueOptions{DrainInterval: listenDrainInterval})

		conn := client.NewRoomConnection(&mwah.RoomOptions{
			Wake: mwah.NewSleepDetector(0, 0),
		})

		var dnd atomic.Bool
		dnd.Store(cfg.Room.DND)

		conn.OnHeartReceived(func() {
			if !dnd.Load() {
				queue.Enqueue()
			}
		})
		conn.OnStatusReceived(func(partnerDND bool) {
			fmt.Printf("Partner do not disturb: %s\n", onOff(partnerDND))
		})
		conn.OnPresenceReceived(func() {
			fmt.Println("Partner is here")
		})

		if err := conn.Connect(channel); err != nil {
			return err
		}
		defer func() {
			conn.Disconnect()
			queue.CancelAll()
		}()

		go announce(ctx, client, conn, channel, dnd.Load(), &logger)
		if listenPresenceInterval > 0 {
			go presenceLoop(ctx, client, conn, channel, listenPresenceInterval, &logger)
		}
		if listenSendOnEnter {
			go sendOnEnter(ctx, conn)
			fmt.Printf("Listening in room %s. Press Enter to send a heart, Ctrl-C to quit.\n", channel.RoomCode)
		} else {
			fmt.Printf("Listening in room %s. Ctrl-C to quit.\n", channel.RoomCode)
		}

		<-ctx.Done()
		return nil
	},
}

// announce stores and broadcasts the local DND flag and prints the partner's
// last known DND flag.
func announce(ctx context.Context, client *mwah.Client, conn *mwah.RoomConnection, channel mwah.ChannelConfig, dnd bool, logger *zerolog.Logger) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Status.SaveDND(reqCtx, channel.RoomCode, channel.SenderID, dnd); err != nil {
		logger.Warn().Err(err).Msg("failed to save status")
	}
	conn.Send(mwah.SendStatus{DoNotDisturb: dnd})

	partnerDND, ok, err := client.Status.PartnerDND(reqCtx, channel.RoomCode, channel.SenderID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch partner status")
		return
	}
	if ok {
		fmt.Printf("Partner do not disturb: %s\n", onOff(partnerDND))
	}
}

func presenceLoop(ctx context.Context, client *mwah.Client, conn *mwah.RoomConnection, channel mwah.ChannelConfig, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if conn.State() == mwah.StateConnected {
			reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := client.Status.SavePresence(reqCtx, channel.RoomCode, channel.SenderID); err != nil {
				logger.Debug().Err(err).Msg("failed to save presence")
			}
			cancel()
			conn.Send(mwah.SendPresence{})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sendOnEnter(ctx context.Context, conn *mwah.RoomConnection) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if conn.SendHeart() {
			fmt.Println("Heart sent")
		}
	}
}
