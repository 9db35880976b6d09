package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/curriculumvault/vaultdrive/internal/session"
)

// consentTimeout bounds how long login waits for the browser redirect.
const consentTimeout = 5 * time.Minute

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google",
		Long: `Sign in to the portal with a Google account.

A saved refresh token is tried first; only when silent sign-in fails does the
browser consent flow run. The consent redirect is captured by a local
callback server on the configured redirect URI.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear saved credentials",
		RunE:  runLogout,
	}

	cmd.Flags().Bool("soft", false, "keep the refresh token so the next login is silent")

	return cmd
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user and portal role",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("login started")

	if err := a.session.Login(ctx); err != nil {
		return err
	}

	// Silent path: Login validated the saved refresh token and published the
	// identity without touching the browser.
	if a.session.State().Status == session.StatusAuthenticated {
		return printCurrentUser(ctx, a)
	}

	// Consent path: Login handed a URL to the navigator; capture the redirect.
	code, rawState, err := waitForCallback(ctx, a)
	if err != nil {
		return err
	}

	if err := a.session.HandleCallback(ctx, code, rawState); err != nil {
		return fmt.Errorf("completing sign-in: %w", err)
	}

	return printCurrentUser(ctx, a)
}

// waitForCallback runs a one-shot HTTP server on the configured redirect URI
// and returns the authorization code and state from the provider redirect.
func waitForCallback(ctx context.Context, a *app) (code, rawState string, err error) {
	redirect, err := url.Parse(a.cfg.Provider.RedirectURI)
	if err != nil {
		return "", "", fmt.Errorf("parsing redirect URI: %w", err)
	}

	host := redirect.Host
	if redirect.Port() == "" {
		host = net.JoinHostPort(redirect.Hostname(), "80")
	}

	listener, err := net.Listen("tcp", host)
	if err != nil {
		return "", "", fmt.Errorf("starting callback server on %s: %w", host, err)
	}

	type callback struct {
		code  string
		state string
		err   error
	}

	results := make(chan callback, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if errCode := q.Get("error"); errCode != "" {
			http.Error(w, "Sign-in failed. You can close this window.", http.StatusBadRequest)
			results <- callback{err: fmt.Errorf("provider denied authorization: %s", errCode)}

			return
		}

		fmt.Fprintln(w, "Sign-in complete. You can close this window.")
		results <- callback{code: q.Get("code"), state: q.Get("state")}
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			results <- callback{err: serveErr}
		}
	}()

	defer server.Close()

	a.logger.Info("waiting for consent redirect", "addr", host)

	select {
	case cb := <-results:
		if cb.err != nil {
			return "", "", cb.err
		}

		return cb.code, cb.state, nil
	case <-time.After(consentTimeout):
		return "", "", fmt.Errorf("timed out waiting for sign-in after %s", consentTimeout)
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	soft, _ := cmd.Flags().GetBool("soft")
	if soft {
		if err := a.session.SoftLogout(ctx); err != nil {
			return err
		}

		statusf(flagQuiet, "Signed out (refresh token kept).\n")

		return nil
	}

	return a.session.Logout(ctx)
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Picture string `json:"picture,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ident, err := currentIdentity(ctx, a)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(whoamiOutput{
			Email:   ident.Email,
			Name:    ident.Name,
			Role:    string(ident.Role),
			Picture: ident.PictureURL,
		})
	}

	fmt.Printf("User:  %s (%s)\n", ident.Name, ident.Email)
	fmt.Printf("Role:  %s\n", ident.Role)

	return nil
}

// printCurrentUser prints a short signed-in summary after login.
func printCurrentUser(ctx context.Context, a *app) error {
	ident, err := currentIdentity(ctx, a)
	if err != nil {
		return err
	}

	statusf(flagQuiet, "Signed in as %s (%s, %s)\n", ident.Name, ident.Email, ident.Role)

	return nil
}
