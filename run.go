package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/curriculumvault/vaultdrive/internal/config"
	"github.com/curriculumvault/vaultdrive/internal/session"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the session alive in the foreground",
		Long: `Run the session in the foreground: validate credentials on start, refresh
the access token proactively, and reload the config file when it changes.
Stops on SIGINT or SIGTERM.`,
		RunE: runRun,
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	states := a.session.Subscribe()

	if err := a.session.Start(ctx); err != nil {
		return err
	}

	if a.session.State().Status != session.StatusAuthenticated {
		return fmt.Errorf("not signed in — run 'vaultdrive login' first")
	}

	// Reload the config file in place so admin list and scope changes apply
	// without a restart. Only runs when a config file actually exists.
	if a.configPath != "" {
		go func() {
			watchErr := config.Watch(ctx, a.configPath, a.logger, func(cfg *config.Config) {
				a.resolver.SetAdminEmails(cfg.Portal.AdminEmails)
				statusf(flagQuiet, "Config reloaded.\n")
			})
			if watchErr != nil && ctx.Err() == nil {
				a.logger.Error("config watcher stopped", "error", watchErr.Error())
			}
		}()
	}

	statusf(flagQuiet, "Session running. Press Ctrl-C to stop.\n")

	for {
		select {
		case state := <-states:
			if state.Status == session.StatusUnauthenticated {
				return fmt.Errorf("session ended — run 'vaultdrive login' to sign in again")
			}
		case <-ctx.Done():
			statusf(flagQuiet, "Stopping.\n")
			return nil
		}
	}
}
