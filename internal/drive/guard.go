package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/curriculumvault/vaultdrive/internal/credstore"
	"github.com/curriculumvault/vaultdrive/internal/oauth"
)

// TokenManager is the slice of the token lifecycle manager the guard needs.
type TokenManager interface {
	EnsureValid(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
	BuildConsentURL(ctx context.Context, action string, scopes []string) (string, error)
}

// TokenClearer removes individual keys from the credential store.
type TokenClearer interface {
	Remove(ctx context.Context, key string) error
}

// Hooks are the guard's recovery callbacks into the session layer. Either
// may be nil.
type Hooks struct {
	// SessionExpired fires when a refresh after a 401 fails — the session is
	// gone and the surface should land the user on the unauthenticated route.
	SessionExpired func(ctx context.Context)

	// ReauthRequired fires when a token turns out to lack a needed scope.
	// consentURL carries a reauth-state consent redirect with the broadened
	// scope set.
	ReauthRequired func(ctx context.Context, consentURL string)
}

// Guard applies the portal's cross-cutting error policy to every storage API
// call: a 401 earns exactly one refresh-and-retry; a scope-starved 403 clears
// the token pair and forces fresh consent (refreshing would reissue the same
// insufficient scopes); everything else is surfaced typed, with no retry.
type Guard struct {
	client       *Client
	tokens       TokenManager
	store        TokenClearer
	logger       *slog.Logger
	reauthScopes []string
	hooks        Hooks
}

// NewGuard wraps a Drive client with the recovery policy. reauthScopes is the
// broadened scope set requested when escalating a scope failure.
func NewGuard(client *Client, tokens TokenManager, store TokenClearer, reauthScopes []string, hooks Hooks, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}

	return &Guard{
		client:       client,
		tokens:       tokens,
		store:        store,
		logger:       logger,
		reauthScopes: reauthScopes,
		hooks:        hooks,
	}
}

// run acquires a valid token, executes op, and applies the recovery policy
// to the failure, retrying op at most once.
func (g *Guard) run(ctx context.Context, op func(token string) error) error {
	token, err := g.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}

	err = op(token)
	if err == nil {
		return nil
	}

	var de *Error
	if !errors.As(err, &de) {
		return err
	}

	if de.InsufficientScope() {
		return g.escalateScope(ctx, err)
	}

	if de.StatusCode != http.StatusUnauthorized {
		return err
	}

	g.logger.Info("storage call unauthorized, refreshing once")

	fresh, refreshErr := g.tokens.Refresh(ctx)
	if refreshErr != nil {
		g.logger.Warn("refresh after 401 failed, expiring session", slog.String("error", refreshErr.Error()))

		if g.hooks.SessionExpired != nil {
			g.hooks.SessionExpired(ctx)
		}

		return fmt.Errorf("drive: session expired: %w", refreshErr)
	}

	if fresh == "" {
		// A concurrent refresh held the lock; pick up whatever it produced.
		fresh, refreshErr = g.tokens.EnsureValid(ctx)
		if refreshErr != nil {
			if g.hooks.SessionExpired != nil {
				g.hooks.SessionExpired(ctx)
			}

			return fmt.Errorf("drive: session expired: %w", refreshErr)
		}
	}

	// Single retry; whatever it returns is surfaced as-is.
	return op(fresh)
}

// escalateScope discards the token pair (other credential fields survive) and
// hands the surface a reauth consent URL with the broadened scope set.
// Deliberately no refresh: it would mint a token with the same scopes.
func (g *Guard) escalateScope(ctx context.Context, cause error) error {
	g.logger.Warn("token lacks required scope, forcing re-consent")

	if err := g.store.Remove(ctx, credstore.KeyAccessToken); err != nil {
		g.logger.Error("clearing access token", slog.String("error", err.Error()))
	}

	if err := g.store.Remove(ctx, credstore.KeyRefreshToken); err != nil {
		g.logger.Error("clearing refresh token", slog.String("error", err.Error()))
	}

	consentURL, err := g.tokens.BuildConsentURL(ctx, oauth.ActionReauth, g.reauthScopes)
	if err != nil {
		return fmt.Errorf("drive: building reauth consent URL: %w", err)
	}

	if g.hooks.ReauthRequired != nil {
		g.hooks.ReauthRequired(ctx, consentURL)
	}

	return fmt.Errorf("drive: %w: %w", oauth.ErrInsufficientScope, cause)
}

// ListChildren lists a folder through the guard.
func (g *Guard) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	var items []Item

	err := g.run(ctx, func(token string) error {
		var opErr error

		items, opErr = g.client.ListChildren(ctx, token, folderID)

		return opErr
	})

	return items, err
}

// GetFile stats a file through the guard.
func (g *Guard) GetFile(ctx context.Context, fileID string) (*Item, error) {
	var item *Item

	err := g.run(ctx, func(token string) error {
		var opErr error

		item, opErr = g.client.GetFile(ctx, token, fileID)

		return opErr
	})

	return item, err
}

// CreateFolder creates a folder through the guard.
func (g *Guard) CreateFolder(ctx context.Context, parentID, name string) (*Item, error) {
	var item *Item

	err := g.run(ctx, func(token string) error {
		var opErr error

		item, opErr = g.client.CreateFolder(ctx, token, parentID, name)

		return opErr
	})

	return item, err
}

// Rename renames an item through the guard.
func (g *Guard) Rename(ctx context.Context, fileID, newName string) (*Item, error) {
	var item *Item

	err := g.run(ctx, func(token string) error {
		var opErr error

		item, opErr = g.client.Rename(ctx, token, fileID, newName)

		return opErr
	})

	return item, err
}

// Delete deletes an item through the guard.
func (g *Guard) Delete(ctx context.Context, fileID string) error {
	return g.run(ctx, func(token string) error {
		return g.client.Delete(ctx, token, fileID)
	})
}

// Upload uploads content through the guard.
//
// The content reader is consumed on the first attempt, so the retry path
// needs a fresh reader: callers pass a factory instead of a reader.
func (g *Guard) Upload(ctx context.Context, parentID, name, mimeType string, open func() (io.ReadCloser, error)) (*Item, error) {
	var item *Item

	err := g.run(ctx, func(token string) error {
		content, openErr := open()
		if openErr != nil {
			return openErr
		}
		defer content.Close()

		var opErr error

		item, opErr = g.client.Upload(ctx, token, parentID, name, mimeType, content)

		return opErr
	})

	return item, err
}

// Download streams a file through the guard. The caller closes the reader.
func (g *Guard) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	var rc io.ReadCloser

	err := g.run(ctx, func(token string) error {
		var opErr error

		rc, opErr = g.client.Download(ctx, token, fileID)

		return opErr
	})

	return rc, err
}
