package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Display session and credential status",
		RunE:  runStatus,
	}
}

// statusJSON is the JSON schema for `status --json`.
type statusJSON struct {
	SignedIn        bool   `json:"signed_in"`
	Email           string `json:"email,omitempty"`
	Role            string `json:"role,omitempty"`
	HasAccessToken  bool   `json:"has_access_token"`
	HasRefreshToken bool   `json:"has_refresh_token"`
	Configured      bool   `json:"configured"`
	DriveConfigured bool   `json:"drive_configured"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := collectStatus(ctx, a)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	if out.SignedIn {
		fmt.Printf("Signed in:     yes (%s, %s)\n", out.Email, out.Role)
	} else {
		fmt.Printf("Signed in:     no\n")
	}

	fmt.Printf("Access token:  %s\n", presence(out.HasAccessToken))
	fmt.Printf("Refresh token: %s\n", presence(out.HasRefreshToken))
	fmt.Printf("Provider app:  %s\n", configuredStr(out.Configured))
	fmt.Printf("Drive folder:  %s\n", configuredStr(out.DriveConfigured))

	return nil
}

func collectStatus(ctx context.Context, a *app) (statusJSON, error) {
	var out statusJSON

	tokens, err := a.store.Tokens(ctx)
	if err != nil {
		return out, err
	}

	snap, err := a.store.IdentitySnapshot(ctx)
	if err != nil {
		return out, err
	}

	app, err := a.store.ProviderApp(ctx)
	if err != nil {
		return out, err
	}

	out.HasAccessToken = tokens.AccessToken != ""
	out.HasRefreshToken = tokens.RefreshToken != ""
	out.Configured = app.ClientID != "" && app.ClientSecret != ""
	out.DriveConfigured = app.DriveURL != ""

	if snap.Email != "" {
		out.SignedIn = true
		out.Email = snap.Email
		out.Role = string(a.resolver.RoleFor(snap.Email))
	}

	return out, nil
}

func presence(b bool) string {
	if b {
		return "present"
	}

	return "absent"
}

func configuredStr(b bool) string {
	if b {
		return "configured"
	}

	return "not configured"
}
