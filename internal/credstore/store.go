// Package credstore implements the durable credential store backing the
// portal session: OAuth tokens, the cached identity snapshot, and the
// administrator-supplied provider application settings. Values live in an
// embedded SQLite database, one row per key, obfuscated before storage.
package credstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// TokenPair holds the persisted token fields. Either field may be empty —
// readers must tolerate each being absent independently (writes are
// last-writer-wins at the key level, never transactional across keys).
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Snapshot is the persisted identity snapshot. It is a continuity cache, not
// a source of truth — the resolver reconstructs identity from a valid token.
type Snapshot struct {
	Email   string
	Name    string
	Picture string
	Role    string
}

// ProviderApp holds the OAuth application settings an administrator supplies.
type ProviderApp struct {
	ClientID     string
	ClientSecret string
	DriveURL     string
}

// ClearOptions controls ClearAll. KeepRefreshToken produces a soft logout:
// the next startup must re-validate, but silent re-login stays possible.
type ClearOptions struct {
	KeepRefreshToken bool
}

// Store is a key/value credential store on an embedded SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	key    string

	getStmt *sql.Stmt
	putStmt *sql.Stmt
	delStmt *sql.Stmt
}

// Open opens (or creates) the store at dbPath, applies migrations, and
// prepares the row statements. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening credential store", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("credstore: open sqlite: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("credstore: set WAL mode: %w", err)
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger, key: defaultObfuscationKey}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("credstore: prepare statements: %w", err)
	}

	return s, nil
}

// runMigrations applies all pending schema migrations.
// Uses the goose v3 Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("credstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("credstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("credstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	s.getStmt, err = s.db.PrepareContext(ctx, "SELECT value FROM credentials WHERE key = ?")
	if err != nil {
		return err
	}

	s.putStmt, err = s.db.PrepareContext(ctx,
		"INSERT INTO credentials (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value")
	if err != nil {
		return err
	}

	s.delStmt, err = s.db.PrepareContext(ctx, "DELETE FROM credentials WHERE key = ?")
	if err != nil {
		return err
	}

	return nil
}

// Close releases the prepared statements and the database handle.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.getStmt, s.putStmt, s.delStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("credstore: closing database: %w", err)
	}

	return nil
}

// Put stores a value under key, obfuscating it first.
func (s *Store) Put(ctx context.Context, key, value string) error {
	if _, err := s.putStmt.ExecContext(ctx, key, encode(value, s.key)); err != nil {
		return fmt.Errorf("credstore: writing %s: %w", key, err)
	}

	return nil
}

// Get returns the value stored under key, or "" if the key is absent.
// A value that fails to decode is returned raw — stores written before
// obfuscation existed must keep reading correctly.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var stored string

	err := s.getStmt.QueryRowContext(ctx, key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("credstore: reading %s: %w", key, err)
	}

	plain, decErr := decode(stored, s.key)
	if decErr != nil {
		return stored, nil
	}

	return plain, nil
}

// Remove deletes the row for key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.delStmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("credstore: removing %s: %w", key, err)
	}

	return nil
}

// SetTokens stores the access token and, only when non-empty, the refresh
// token. The provider omits the refresh token on repeat consents — an
// existing one must never be overwritten with nothing.
func (s *Store) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.Put(ctx, KeyAccessToken, accessToken); err != nil {
		return err
	}

	if refreshToken != "" {
		if err := s.Put(ctx, KeyRefreshToken, refreshToken); err != nil {
			return err
		}
	}

	return nil
}

// Tokens reads the stored token pair. Absent fields read as empty strings.
func (s *Store) Tokens(ctx context.Context) (TokenPair, error) {
	access, err := s.Get(ctx, KeyAccessToken)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := s.Get(ctx, KeyRefreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// SetIdentitySnapshot persists the identity fields for optimistic display on
// the next startup.
func (s *Store) SetIdentitySnapshot(ctx context.Context, email, name, picture, role string) error {
	fields := map[string]string{
		KeyUserEmail:   email,
		KeyUserName:    name,
		KeyUserPicture: picture,
		KeyUserRole:    role,
	}

	for _, key := range []string{KeyUserEmail, KeyUserName, KeyUserPicture, KeyUserRole} {
		if err := s.Put(ctx, key, fields[key]); err != nil {
			return err
		}
	}

	return nil
}

// IdentitySnapshot reads the persisted identity fields.
func (s *Store) IdentitySnapshot(ctx context.Context) (Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)

	if snap.Email, err = s.Get(ctx, KeyUserEmail); err != nil {
		return Snapshot{}, err
	}

	if snap.Name, err = s.Get(ctx, KeyUserName); err != nil {
		return Snapshot{}, err
	}

	if snap.Picture, err = s.Get(ctx, KeyUserPicture); err != nil {
		return Snapshot{}, err
	}

	if snap.Role, err = s.Get(ctx, KeyUserRole); err != nil {
		return Snapshot{}, err
	}

	return snap, nil
}

// SetProviderApp stores the OAuth application settings.
func (s *Store) SetProviderApp(ctx context.Context, clientID, clientSecret, driveURL string) error {
	if err := s.Put(ctx, KeyClientID, clientID); err != nil {
		return err
	}

	if err := s.Put(ctx, KeyClientSecret, clientSecret); err != nil {
		return err
	}

	return s.Put(ctx, KeyDriveURL, driveURL)
}

// ProviderApp reads the OAuth application settings.
func (s *Store) ProviderApp(ctx context.Context) (ProviderApp, error) {
	var (
		app ProviderApp
		err error
	)

	if app.ClientID, err = s.Get(ctx, KeyClientID); err != nil {
		return ProviderApp{}, err
	}

	if app.ClientSecret, err = s.Get(ctx, KeyClientSecret); err != nil {
		return ProviderApp{}, err
	}

	if app.DriveURL, err = s.Get(ctx, KeyDriveURL); err != nil {
		return ProviderApp{}, err
	}

	return app, nil
}

// ClearAll erases every key in the sensitive set. With KeepRefreshToken, the
// refresh token is read before the sweep and rewritten after it.
func (s *Store) ClearAll(ctx context.Context, opts ClearOptions) error {
	var preserved string

	if opts.KeepRefreshToken {
		var err error

		preserved, err = s.Get(ctx, KeyRefreshToken)
		if err != nil {
			return err
		}
	}

	for _, key := range SensitiveKeys {
		if err := s.Remove(ctx, key); err != nil {
			return err
		}
	}

	if opts.KeepRefreshToken && preserved != "" {
		if err := s.Put(ctx, KeyRefreshToken, preserved); err != nil {
			return err
		}
	}

	s.logger.Info("credential store cleared", "kept_refresh_token", opts.KeepRefreshToken)

	return nil
}

// MigrateLegacyPlaintext re-encodes any stored value that is not yet
// obfuscated. Idempotent — already-obfuscated values are left untouched, so
// running it twice is a no-op.
func (s *Store) MigrateLegacyPlaintext(ctx context.Context, keys []string) error {
	for _, key := range keys {
		var stored string

		err := s.getStmt.QueryRowContext(ctx, key).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}

		if err != nil {
			return fmt.Errorf("credstore: reading %s for migration: %w", key, err)
		}

		if _, decErr := decode(stored, s.key); decErr == nil {
			continue
		}

		s.logger.Info("migrating legacy plaintext value", "key", key)

		if err := s.Put(ctx, key, stored); err != nil {
			return err
		}
	}

	return nil
}
