package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/curriculumvault/vaultdrive/internal/config"
	"github.com/curriculumvault/vaultdrive/internal/credstore"
	"github.com/curriculumvault/vaultdrive/internal/drive"
	"github.com/curriculumvault/vaultdrive/internal/identity"
	"github.com/curriculumvault/vaultdrive/internal/oauth"
	"github.com/curriculumvault/vaultdrive/internal/session"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagStorePath  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// httpClientTimeout is the default timeout for HTTP requests.
// Prevents hung connections from blocking CLI commands indefinitely.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vaultdrive",
		Short:   "Curriculum vault Drive portal CLI",
		Long:    "Sign in with Google, browse the shared curriculum Drive, and manage files per your portal role.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagStorePath, "store", "", "credential store path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newRenameCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newRunCmd())

	return cmd
}

// buildLogger creates an slog.Logger configured by the config file log level
// and CLI flags. --verbose and --quiet override config because CLI flags
// always win.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app holds the wired dependency graph every command runs against.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	store      *credstore.Store
	tokens     *oauth.Manager
	resolver   *identity.Resolver
	guard      *drive.Guard
	session    *session.Controller
	nav        *cliNavigator
}

// newApp resolves configuration, opens the credential store, and wires the
// token manager, identity resolver, operation guard, and session controller.
func newApp(ctx context.Context) (*app, error) {
	cfg, configPath, err := config.Resolve(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(cfg)

	storePath := flagStorePath
	if storePath == "" {
		storePath = config.DefaultStorePath()
	}

	if err := os.MkdirAll(filepath.Dir(storePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	store, err := credstore.Open(storePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	// Config-file provider settings seed the store so later commands work
	// without the file present. Stored values win once set.
	if err := seedProviderApp(ctx, store, cfg); err != nil {
		store.Close()
		return nil, err
	}

	httpClient := defaultHTTPClient()
	tokens := oauth.NewManager(store, oauth.GoogleEndpoints(), cfg.Provider.RedirectURI, httpClient, logger)
	resolver := identity.NewResolver(identity.GoogleProfileURL, cfg.Portal.AdminEmails, cfg.Portal.DefaultDisplayName, httpClient, logger)
	nav := &cliNavigator{quiet: flagQuiet}

	refreshInterval, err := cfg.RefreshInterval()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading config: %w", err)
	}

	scopes := cfg.Provider.Scopes
	if len(scopes) == 0 {
		scopes = config.DefaultScopes
	}

	ctrl := session.NewController(store, tokens, resolver, nav, scopes, refreshInterval, logger)

	client := drive.NewClient(drive.DefaultBaseURL, drive.DefaultUploadURL, httpClient, logger)
	guard := drive.NewGuard(client, tokens, store, scopes, drive.Hooks{
		SessionExpired: func(ctx context.Context) {
			if err := ctrl.SoftLogout(ctx); err != nil {
				logger.Error("soft logout after expiry", slog.String("error", err.Error()))
			}

			nav.Notify("Session expired. Run 'vaultdrive login' to sign in again.")
		},
		ReauthRequired: func(_ context.Context, consentURL string) {
			nav.Notify("Additional permissions are required. Open this URL to re-authorize:\n  " + consentURL)
		},
	}, logger)

	return &app{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		store:      store,
		tokens:     tokens,
		resolver:   resolver,
		guard:      guard,
		session:    ctrl,
		nav:        nav,
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	a.tokens.StopProactiveRefresh()

	if err := a.store.Close(); err != nil {
		a.logger.Error("closing credential store", slog.String("error", err.Error()))
	}
}

// seedProviderApp copies provider settings from the config file into the
// store when the store has none yet.
func seedProviderApp(ctx context.Context, store *credstore.Store, cfg *config.Config) error {
	stored, err := store.ProviderApp(ctx)
	if err != nil {
		return fmt.Errorf("reading provider settings: %w", err)
	}

	if stored.ClientID != "" || cfg.Provider.ClientID == "" {
		return nil
	}

	if err := store.SetProviderApp(ctx, cfg.Provider.ClientID, cfg.Provider.ClientSecret, cfg.Provider.DriveURL); err != nil {
		return fmt.Errorf("seeding provider settings: %w", err)
	}

	return nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
