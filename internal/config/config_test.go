package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, Validate(cfg))

	d, err := cfg.RefreshInterval()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Minute, d)

	assert.Equal(t, "http://localhost/auth/callback", cfg.Provider.RedirectURI)
	assert.Equal(t, "Portal User", cfg.Portal.DefaultDisplayName)
	assert.Len(t, cfg.Provider.Scopes, 3)
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[provider]
client_id = "cid"
client_secret = "secret"
drive_url = "https://drive.google.com/drive/folders/abc123xyz0"

[portal]
admin_emails = ["admin@example.edu"]
default_display_name = "Faculty Member"

[session]
refresh_interval = "45m"

[logging]
log_level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cid", cfg.Provider.ClientID)
	assert.Equal(t, []string{"admin@example.edu"}, cfg.Portal.AdminEmails)
	assert.Equal(t, "Faculty Member", cfg.Portal.DefaultDisplayName)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)

	d, err := cfg.RefreshInterval()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, d)

	// Defaults survive for keys the file omits.
	assert.Equal(t, "http://localhost/auth/callback", cfg.Provider.RedirectURI)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[provider]
client_idd = "typo"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad interval":  "[session]\nrefresh_interval = \"soon\"\n",
		"zero interval": "[session]\nrefresh_interval = \"0s\"\n",
		"bad log level": "[logging]\nlog_level = \"loud\"\n",
		"bad admin":     "[portal]\nadmin_emails = [\"not-an-email\"]\n",
		"empty scopes":  "[provider]\nscopes = []\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadOrDefaultWithMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolveEnvOverrides(t *testing.T) {
	t.Setenv(EnvClientID, "env-client")
	t.Setenv(EnvClientSecret, "env-secret")
	t.Setenv(EnvDriveURL, "https://drive.google.com/drive/folders/envfolder1")

	path := writeConfig(t, `
[provider]
client_id = "file-client"
`)
	t.Setenv(EnvConfig, path)

	cfg, usedPath, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, path, usedPath)

	// Environment wins over the file.
	assert.Equal(t, "env-client", cfg.Provider.ClientID)
	assert.Equal(t, "env-secret", cfg.Provider.ClientSecret)
	assert.Equal(t, "https://drive.google.com/drive/folders/envfolder1", cfg.Provider.DriveURL)
}

func TestResolveCLIPathWinsOverEnv(t *testing.T) {
	envPath := writeConfig(t, "[portal]\ndefault_display_name = \"Env\"\n")
	cliPath := writeConfig(t, "[portal]\ndefault_display_name = \"CLI\"\n")

	t.Setenv(EnvConfig, envPath)

	cfg, usedPath, err := Resolve(cliPath)
	require.NoError(t, err)
	assert.Equal(t, cliPath, usedPath)
	assert.Equal(t, "CLI", cfg.Portal.DefaultDisplayName)
}
