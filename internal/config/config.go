// Package config loads the coordinator's runtime configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a coordinator instance.
type Config struct {
	// InstanceID identifies this coordinator in the shared directory and in
	// redirect responses. Falls back to a generated UUID when unset so a
	// single instance can still boot without orchestration wiring it up.
	InstanceID string

	// ListenAddress is the host:port the websocket handshake endpoint binds.
	ListenAddress string

	// DirectoryURL is the connection string for the shared directory
	// (redis://...).
	DirectoryURL string

	// SettlementDSN is the connection string for the settlement ledger
	// store (postgres://...). Empty disables settlement (logged once at
	// startup, never a fatal condition).
	SettlementDSN string

	// Environment gates side effects such as external notifications.
	// One of "development", "staging", "production".
	Environment string

	// LogLevel controls the slog handler's minimum level: debug, info,
	// warn, error.
	LogLevel string

	// Board carries default board-tuning values, overridable via an
	// optional YAML file. Nothing in the coordinator applies them to Play
	// messages: a Play must carry its own grid, bombs and min_players.
	Board BoardDefaults
}

// BoardDefaults holds default grid size, hazard count and player count.
// They are loaded into Config only; no Play message is filled from them.
type BoardDefaults struct {
	GridSize    int `yaml:"grid_size"`
	HazardCount int `yaml:"hazard_count"`
	MinPlayers  int `yaml:"min_players"`
}

// DirectoryTTLSeconds is the advertisement TTL refreshed on every directory
// write, per the shared directory wire format.
const DirectoryTTLSeconds = 120

// Default returns a Config populated with sensible defaults, no environment
// applied yet.
func Default() Config {
	return Config{
		InstanceID:    "",
		ListenAddress: "0.0.0.0:8080",
		DirectoryURL:  "redis://127.0.0.1:6379/0",
		SettlementDSN: "",
		Environment:   "development",
		LogLevel:      "info",
		Board: BoardDefaults{
			GridSize:    5,
			HazardCount: 3,
			MinPlayers:  2,
		},
	}
}

// Load builds a Config by applying defaults, then overriding from
// environment variables, then optionally layering a YAML board-tuning file
// named by BOARD_DEFAULTS_PATH (if set and present).
func Load() (Config, error) {
	cfg := Default()

	if v := os.Getenv("INSTANCE_ID"); v != "" {
		cfg.InstanceID = v
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if v := os.Getenv("LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("DIRECTORY_URL"); v != "" {
		cfg.DirectoryURL = v
	}
	if v := os.Getenv("SETTLEMENT_DSN"); v != "" {
		cfg.SettlementDSN = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if path := os.Getenv("BOARD_DEFAULTS_PATH"); path != "" {
		if err := cfg.loadBoardDefaults(path); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// loadBoardDefaults overlays BoardDefaults from a YAML file. A missing file
// is not an error: the compiled-in defaults stand.
func (c *Config) loadBoardDefaults(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading board defaults %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &c.Board); err != nil {
		return fmt.Errorf("parsing board defaults %s: %w", path, err)
	}

	return nil
}
