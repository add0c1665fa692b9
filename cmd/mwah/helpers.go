package main

import (
	"fmt"
	"os"
	"time"

	mwah "github.com/mwah-app/mwah-go"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

var logLevelFlag string

func addLogFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&logLevelFlag, "log-level", "l", "", "log level (debug, info, warn, error); overrides default.log_level")
}

// newLogger builds a console logger at the flag level, falling back to the
// configured level and then to info.
func newLogger(cfg *Config) zerolog.Logger {
	level := logLevelFlag
	if level == "" {
		level = cfg.Default.LogLevel
	}
	if level == "" {
		level = "info"
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		logger.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// getClient creates a client for the configured relay.
func getClient(cfg *Config, logger *zerolog.Logger) *mwah.Client {
	opts := []mwah.ClientOption{mwah.WithLogger(logger)}
	if cfg.Default.Endpoint != "" {
		opts = append(opts, mwah.WithEndpoint(cfg.Default.Endpoint))
	}
	if cfg.Default.StatusEndpoint != "" {
		opts = append(opts, mwah.WithStatusEndpoint(cfg.Default.StatusEndpoint))
	}
	return mwah.NewClient(opts...)
}

// requireRoom returns the channel for the configured room, or an error
// telling the user which command to run first.
func requireRoom(cfg *Config, client *mwah.Client) (mwah.ChannelConfig, error) {
	if cfg.Identity.SenderID == "" {
		return mwah.ChannelConfig{}, fmt.Errorf("no sender id; run 'mwah init' first")
	}
	if cfg.Room.Code == "" {
		return mwah.ChannelConfig{}, fmt.Errorf("not in a room; run 'mwah room create' or 'mwah room join <code>'")
	}
	return client.Channel(cfg.Room.Code, cfg.Identity.SenderID), nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
