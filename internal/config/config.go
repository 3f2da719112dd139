package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the charity lottery server.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Lottery LotteryConfig `toml:"lottery"`
	Oracle  OracleConfig  `toml:"oracle"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	// AdminIdentity may initialize rounds, register charities and fund accounts.
	AdminIdentity string `toml:"admin_identity"`
	// EnableFaucet exposes the admin deposit endpoint.
	EnableFaucet bool `toml:"enable_faucet"`
	// SignatureWindow is how many seconds a signed request's timestamp may
	// differ from the server clock.
	SignatureWindow uint64 `toml:"signature_window"`
}

// LedgerConfig contains account store settings.
type LedgerConfig struct {
	Path string `toml:"path"`
}

// LotteryConfig contains protocol parameters.
type LotteryConfig struct {
	ProgramID string `toml:"program_id"`
	// MinRevealDelay is the number of slots after the commit slot before a
	// reveal is accepted.
	MinRevealDelay uint64 `toml:"min_reveal_delay"`
	// RevealWindow is D: reveal_deadline = commit_slot + D.
	RevealWindow          uint64 `toml:"reveal_window"`
	MaxTicketsPerPurchase uint64 `toml:"max_tickets_per_purchase"`
}

// OracleConfig contains randomness beacon settings.
type OracleConfig struct {
	// KeySeed seeds the beacon's BLS key. Empty means a fresh random key.
	KeySeed string `toml:"key_seed"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	File    string `toml:"file"`
	Verbose bool   `toml:"verbose"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".charity-lottery")

	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			SignatureWindow: 300,
		},
		Ledger: LedgerConfig{
			Path: filepath.Join(dataDir, "ledger.db"),
		},
		Lottery: LotteryConfig{
			ProgramID:             "charity-lottery",
			MinRevealDelay:        1,
			RevealWindow:          150,
			MaxTicketsPerPurchase: 100,
		},
		Log: LogConfig{
			File:    filepath.Join(dataDir, "charity-lottery.log"),
			Verbose: true,
		},
	}
}

// Load reads a TOML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := ValidateConfig(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
