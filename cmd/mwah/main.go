package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.mwah/config.toml.
type Config struct {
	Default  ConfigDefault  `toml:"default"`
	Identity ConfigIdentity `toml:"identity"`
	Room     ConfigRoom     `toml:"room"`
}

// ConfigDefault holds relay settings.
type ConfigDefault struct {
	Endpoint       string `toml:"endpoint"`
	StatusEndpoint string `toml:"status_endpoint"`
	LogLevel       string `toml:"log_level"`
}

// ConfigIdentity holds this device's sender ID.
type ConfigIdentity struct {
	SenderID string `toml:"sender_id"`
}

// ConfigRoom holds the active room and the local do-not-disturb flag.
type ConfigRoom struct {
	Code string `toml:"code"`
	DND  bool   `toml:"dnd"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the config directory, creating it if needed. MWAH_HOME
// overrides the default of ~/.mwah.
func configDir() (string, error) {
	dir := os.Getenv("MWAH_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".mwah")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "room.dnd").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.endpoint)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "endpoint":
			cfg.Default.Endpoint = value
		case "status_endpoint":
			cfg.Default.StatusEndpoint = value
		case "log_level":
			cfg.Default.LogLevel = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "identity":
		switch field {
		case "sender_id":
			cfg.Identity.SenderID = value
		default:
			return fmt.Errorf("unknown field %q in section [identity]", field)
		}
	case "room":
		switch field {
		case "code":
			cfg.Room.Code = value
		case "dnd":
			dnd, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("room.dnd must be true or false: %w", err)
			}
			cfg.Room.DND = dnd
		default:
			return fmt.Errorf("unknown field %q in section [room]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, identity, room)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "mwah",
	Short: "Send hearts to your person",
	Long:  "Command-line client for mwah rooms.\nPair with a partner using a room code, then send and receive hearts.",
}

func init() {
	addLogFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
