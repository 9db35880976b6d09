// Package config implements TOML configuration loading, validation, and
// platform path resolution for vaultdrive. It supports a three-layer override
// chain (defaults -> config file -> environment) with a handful of CLI flag
// overrides applied by the command layer.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top-level configuration parsed from a TOML file.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Portal   PortalConfig   `toml:"portal"`
	Session  SessionConfig  `toml:"session"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ProviderConfig holds the OAuth application registration. These are
// bootstrap values: once an administrator persists settings into the
// credential store, the store wins.
type ProviderConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	DriveURL     string   `toml:"drive_url"`
	RedirectURI  string   `toml:"redirect_uri"`
	Scopes       []string `toml:"scopes"`
}

// PortalConfig holds portal policy: who is an administrator and what display
// name to show when the provider returns a blank one.
type PortalConfig struct {
	AdminEmails        []string `toml:"admin_emails"`
	DefaultDisplayName string   `toml:"default_display_name"`
}

// SessionConfig controls the background token refresh cadence. The interval
// must stay below the provider's token lifetime (60 minutes for Google) or
// proactive refresh never fires before expiry.
type SessionConfig struct {
	RefreshInterval string `toml:"refresh_interval"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// Default values. The refresh cadence fires at the 50-minute mark against
// Google's 60-minute access token lifetime.
const (
	defaultRefreshInterval     = "50m"
	defaultRedirectURI         = "http://localhost/auth/callback"
	defaultDisplayNameFallback = "Portal User"
)

// DefaultScopes is the baseline consent scope set.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			RedirectURI: defaultRedirectURI,
			Scopes:      append([]string(nil), DefaultScopes...),
		},
		Portal: PortalConfig{
			DefaultDisplayName: defaultDisplayNameFallback,
		},
		Session: SessionConfig{
			RefreshInterval: defaultRefreshInterval,
		},
		Logging: LoggingConfig{
			LogLevel: "info",
		},
	}
}

// Validate checks a loaded Config for values that would misbehave at runtime.
func Validate(cfg *Config) error {
	if _, err := cfg.RefreshInterval(); err != nil {
		return err
	}

	switch cfg.Logging.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", cfg.Logging.LogLevel)
	}

	for _, email := range cfg.Portal.AdminEmails {
		if !strings.Contains(email, "@") {
			return fmt.Errorf("config: admin_emails entry %q is not an email address", email)
		}
	}

	if len(cfg.Provider.Scopes) == 0 {
		return fmt.Errorf("config: provider scopes must not be empty")
	}

	return nil
}

// RefreshInterval parses the session refresh interval.
func (c *Config) RefreshInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Session.RefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("config: invalid refresh_interval %q: %w", c.Session.RefreshInterval, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("config: refresh_interval must be positive, got %q", c.Session.RefreshInterval)
	}

	return d, nil
}
