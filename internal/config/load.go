package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "VAULTDRIVE_CONFIG"
	EnvClientID     = "VAULTDRIVE_CLIENT_ID"
	EnvClientSecret = "VAULTDRIVE_CLIENT_SECRET"
	EnvDriveURL     = "VAULTDRIVE_DRIVE_URL"
)

// Load reads and parses a TOML config file and validates it. Unknown keys are
// fatal — silently ignoring a typo in a config file leads to hard-to-debug
// behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with defaults. Supports the zero-config first run.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration with the override chain applied:
// defaults -> config file -> environment variables.
// cliPath, when non-empty, overrides both the default path and EnvConfig.
func Resolve(cliPath string) (*Config, string, error) {
	path := DefaultConfigPath()
	if env := os.Getenv(EnvConfig); env != "" {
		path = env
	}

	if cliPath != "" {
		path = cliPath
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}

	if v := os.Getenv(EnvClientID); v != "" {
		cfg.Provider.ClientID = v
	}

	if v := os.Getenv(EnvClientSecret); v != "" {
		cfg.Provider.ClientSecret = v
	}

	if v := os.Getenv(EnvDriveURL); v != "" {
		cfg.Provider.DriveURL = v
	}

	return cfg, path, nil
}

// DefaultConfigPath returns the platform config file location,
// ~/.config/vaultdrive/config.toml (respecting XDG_CONFIG_HOME).
func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "config.toml"
	}

	return filepath.Join(base, "vaultdrive", "config.toml")
}

// DefaultStorePath returns the credential store location,
// ~/.local/share/vaultdrive/credentials.db (respecting XDG_DATA_HOME).
func DefaultStorePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "vaultdrive", "credentials.db")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "credentials.db"
	}

	return filepath.Join(home, ".local", "share", "vaultdrive", "credentials.db")
}
