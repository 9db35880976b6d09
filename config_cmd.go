package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/curriculumvault/vaultdrive/internal/drive"
	"github.com/curriculumvault/vaultdrive/internal/identity"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage provider configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration",
		RunE:  runConfigShow,
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <client-id|client-secret|drive-url> <value>",
		Short: "Set a provider setting in the credential store",
		Long: `Set a provider setting. Settings live in the encrypted credential store,
not the config file, so they survive config file changes.

drive-url accepts a full Drive share URL in any of the formats the Drive UI
produces; the folder ID is extracted and validated before saving.`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigSet,
	}
}

// configOutput is the JSON schema for `config show --json`. The client secret
// is reported as present/absent, never printed.
type configOutput struct {
	ConfigFile      string   `json:"config_file,omitempty"`
	ClientID        string   `json:"client_id"`
	ClientSecretSet bool     `json:"client_secret_set"`
	DriveURL        string   `json:"drive_url"`
	RedirectURI     string   `json:"redirect_uri"`
	Scopes          []string `json:"scopes"`
	AdminEmails     []string `json:"admin_emails"`
	RefreshInterval string   `json:"refresh_interval"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	app, err := a.store.ProviderApp(ctx)
	if err != nil {
		return err
	}

	out := configOutput{
		ConfigFile:      a.configPath,
		ClientID:        app.ClientID,
		ClientSecretSet: app.ClientSecret != "",
		DriveURL:        app.DriveURL,
		RedirectURI:     a.cfg.Provider.RedirectURI,
		Scopes:          a.cfg.Provider.Scopes,
		AdminEmails:     a.cfg.Portal.AdminEmails,
		RefreshInterval: a.cfg.Session.RefreshInterval,
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	secret := "(not set)"
	if out.ClientSecretSet {
		secret = "(set)"
	}

	fmt.Printf("Config file:      %s\n", orDash(out.ConfigFile))
	fmt.Printf("Client ID:        %s\n", orDash(out.ClientID))
	fmt.Printf("Client secret:    %s\n", secret)
	fmt.Printf("Drive URL:        %s\n", orDash(out.DriveURL))
	fmt.Printf("Redirect URI:     %s\n", out.RedirectURI)
	fmt.Printf("Refresh interval: %s\n", out.RefreshInterval)

	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := requireAdminOrBootstrap(ctx, a); err != nil {
		return err
	}

	app, err := a.store.ProviderApp(ctx)
	if err != nil {
		return err
	}

	switch key {
	case "client-id":
		app.ClientID = value
	case "client-secret":
		app.ClientSecret = value
	case "drive-url":
		if _, err := drive.ExtractFolderID(value); err != nil {
			return fmt.Errorf("%q does not look like a Drive share URL or folder ID", value)
		}

		app.DriveURL = value
	default:
		return fmt.Errorf("unknown setting %q (expected client-id, client-secret, or drive-url)", key)
	}

	if err := a.store.SetProviderApp(ctx, app.ClientID, app.ClientSecret, app.DriveURL); err != nil {
		return err
	}

	statusf(flagQuiet, "Set %s.\n", key)

	return nil
}

// requireAdminOrBootstrap allows settings changes by admins, and by anyone
// when no one has signed in yet (first-run bootstrap).
func requireAdminOrBootstrap(ctx context.Context, a *app) error {
	snap, err := a.store.IdentitySnapshot(ctx)
	if err != nil {
		return err
	}

	if snap.Email == "" {
		return nil
	}

	if a.resolver.RoleFor(snap.Email) != identity.RoleAdmin {
		return fmt.Errorf("only administrators can change provider settings")
	}

	return nil
}
