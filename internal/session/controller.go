// Package session implements the portal's top-level session state machine:
// startup validation, OAuth callback handling, login, and logout. It owns the
// published identity and keeps it consistent with the token state underneath.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/curriculumvault/vaultdrive/internal/credstore"
	"github.com/curriculumvault/vaultdrive/internal/identity"
	"github.com/curriculumvault/vaultdrive/internal/oauth"
)

// Status is the three-valued session state. A boolean cannot distinguish
// "still checking" from "checked, logged out", and the surface needs to.
type Status int

// Session states.
const (
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is what the controller publishes to the rest of the application.
type State struct {
	Status   Status
	Identity *identity.Identity
}

// Navigator is the surface's navigation and notification sink. The CLI
// implements it; tests record it.
type Navigator interface {
	ToLanding()
	ToPortal()
	ToConsent(url string)
	Notify(message string)
}

// TokenManager is the slice of the token lifecycle manager the controller
// drives.
type TokenManager interface {
	Exchange(ctx context.Context, code string) (oauth.TokenPair, error)
	EnsureValid(ctx context.Context) (string, error)
	BuildConsentURL(ctx context.Context, action string, scopes []string) (string, error)
	StartProactiveRefresh(ctx context.Context, interval time.Duration)
	StopProactiveRefresh()
}

// Resolver turns an access token into an identity.
type Resolver interface {
	Resolve(ctx context.Context, accessToken string) (*identity.Identity, error)
}

// Store is the slice of the credential store the controller uses.
type Store interface {
	Tokens(ctx context.Context) (credstore.TokenPair, error)
	IdentitySnapshot(ctx context.Context) (credstore.Snapshot, error)
	SetIdentitySnapshot(ctx context.Context, email, name, picture, role string) error
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	ClearAll(ctx context.Context, opts credstore.ClearOptions) error
	MigrateLegacyPlaintext(ctx context.Context, keys []string) error
}

// subscriberBuffer sizes each subscriber channel. Publishes never block:
// when a subscriber lags, its oldest pending state is dropped — only the
// latest state matters.
const subscriberBuffer = 1

// Controller sequences the session lifecycle and fans out state changes.
type Controller struct {
	store           Store
	tokens          TokenManager
	resolver        Resolver
	nav             Navigator
	logger          *slog.Logger
	scopes          []string
	refreshInterval time.Duration

	mu    sync.Mutex
	state State
	subs  []chan State
}

// NewController wires the session controller. scopes is the consent scope set
// used when login has to fall back to the consent redirect.
func NewController(store Store, tokens TokenManager, resolver Resolver, nav Navigator, scopes []string, refreshInterval time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		store:           store,
		tokens:          tokens,
		resolver:        resolver,
		nav:             nav,
		logger:          logger,
		scopes:          scopes,
		refreshInterval: refreshInterval,
		state:           State{Status: StatusUnknown},
	}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Subscribe returns a channel receiving every published state change.
// The channel is buffered; a slow consumer loses intermediate states, never
// the latest.
func (c *Controller) Subscribe() <-chan State {
	ch := make(chan State, subscriberBuffer)

	c.mu.Lock()
	c.subs = append(c.subs, ch)
	ch <- c.state
	c.mu.Unlock()

	return ch
}

// publish records and fans out a new state.
func (c *Controller) publish(state State) {
	c.mu.Lock()
	c.state = state

	for _, ch := range c.subs {
		select {
		case ch <- state:
		default:
			// Drop the stale pending state, then deliver the fresh one.
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
	c.mu.Unlock()

	c.logger.Debug("session state published", slog.String("status", state.Status.String()))
}

// Start runs the startup sequence: migrate any legacy plaintext store
// values, publish the cached identity optimistically when silent re-login is
// plausible, then validate for real and settle the state.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.store.MigrateLegacyPlaintext(ctx, credstore.SensitiveKeys); err != nil {
		c.logger.Warn("legacy store migration failed", slog.String("error", err.Error()))
	}

	tokens, err := c.store.Tokens(ctx)
	if err != nil {
		return err
	}

	snap, err := c.store.IdentitySnapshot(ctx)
	if err != nil {
		return err
	}

	// Optimistic publish: a cached identity plus a refresh token means silent
	// re-login will almost certainly succeed — show the user immediately
	// instead of a loading flash while validation runs.
	if snap.Email != "" && tokens.RefreshToken != "" {
		c.logger.Info("publishing cached identity optimistically", slog.String("email", snap.Email))
		c.publish(State{Status: StatusAuthenticated, Identity: snapshotIdentity(snap)})
	}

	if tokens.AccessToken == "" && tokens.RefreshToken == "" {
		c.publish(State{Status: StatusUnauthenticated})
		return nil
	}

	if err := c.validateAndPublish(ctx); err != nil {
		if errors.Is(err, oauth.ErrReauthRequired) {
			c.logger.Info("silent re-login failed, session cleared")
			c.clearSession(ctx)
			c.nav.ToLanding()

			return nil
		}

		return err
	}

	return nil
}

// validateAndPublish runs EnsureValid, resolves the identity from the live
// token, persists the snapshot, publishes, and starts proactive refresh.
func (c *Controller) validateAndPublish(ctx context.Context) error {
	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}

	ident, err := c.resolver.Resolve(ctx, token)
	if err != nil {
		// A profile failure means the token is not actually usable; take the
		// same recovery path as an invalid token.
		var pe *identity.ProfileError
		if errors.As(err, &pe) {
			return oauth.ErrReauthRequired
		}

		return err
	}

	if err := c.persistIdentity(ctx, ident); err != nil {
		return err
	}

	c.publish(State{Status: StatusAuthenticated, Identity: ident})
	c.tokens.StartProactiveRefresh(ctx, c.refreshInterval)

	return nil
}

// HandleCallback processes the OAuth redirect: exchanges the code, resolves
// and persists the identity, and lands the user on the portal (or their
// saved return path's portal view).
func (c *Controller) HandleCallback(ctx context.Context, code, rawState string) error {
	st := oauth.DecodeState(rawState)

	c.logger.Info("handling OAuth callback", slog.String("action", st.Type))

	pair, err := c.tokens.Exchange(ctx, code)
	if err != nil {
		c.notifyAuthFailure(ctx, err)
		c.nav.ToLanding()

		return err
	}

	ident, err := c.resolver.Resolve(ctx, pair.AccessToken)
	if err != nil {
		c.notifyAuthFailure(ctx, err)
		c.nav.ToLanding()

		return err
	}

	if err := c.persistIdentity(ctx, ident); err != nil {
		return err
	}

	c.publish(State{Status: StatusAuthenticated, Identity: ident})
	c.tokens.StartProactiveRefresh(ctx, c.refreshInterval)

	if rp := c.consumeReturnPath(ctx); rp != "" {
		c.logger.Info("resuming saved destination", slog.String("path", rp))
	}

	c.nav.ToPortal()

	return nil
}

// SaveReturnPath persists where the user was headed before being bounced
// through consent, so the callback can resume there.
func (c *Controller) SaveReturnPath(ctx context.Context, path string) error {
	return c.store.Put(ctx, credstore.KeyReturnPath, path)
}

// consumeReturnPath reads and clears the saved post-login destination.
func (c *Controller) consumeReturnPath(ctx context.Context) string {
	rp, err := c.store.Get(ctx, credstore.KeyReturnPath)
	if err != nil || rp == "" {
		return ""
	}

	if err := c.store.Put(ctx, credstore.KeyReturnPath, ""); err != nil {
		c.logger.Warn("clearing return path", slog.String("error", err.Error()))
	}

	return rp
}

// Login establishes a session: silently when a refresh token allows it,
// otherwise by sending the user through consent with the login state.
func (c *Controller) Login(ctx context.Context) error {
	tokens, err := c.store.Tokens(ctx)
	if err != nil {
		return err
	}

	if tokens.RefreshToken != "" {
		if err := c.validateAndPublish(ctx); err == nil {
			c.logger.Info("silent login succeeded")
			return nil
		}

		c.logger.Info("silent login failed, falling back to consent")
	}

	consentURL, err := c.tokens.BuildConsentURL(ctx, oauth.ActionLogin, c.scopes)
	if err != nil {
		c.notifyAuthFailure(ctx, err)
		return err
	}

	c.nav.ToConsent(consentURL)

	return nil
}

// Logout is the hard logout: every credential including the refresh token is
// cleared and the user lands on the unauthenticated route.
func (c *Controller) Logout(ctx context.Context) error {
	c.tokens.StopProactiveRefresh()

	if err := c.store.ClearAll(ctx, credstore.ClearOptions{}); err != nil {
		return err
	}

	c.publish(State{Status: StatusUnauthenticated})
	c.nav.ToLanding()

	c.logger.Info("logged out")

	return nil
}

// SoftLogout clears the session but keeps the refresh token, forcing a
// re-validation on next start without forcing full re-consent.
func (c *Controller) SoftLogout(ctx context.Context) error {
	c.tokens.StopProactiveRefresh()

	if err := c.store.ClearAll(ctx, credstore.ClearOptions{KeepRefreshToken: true}); err != nil {
		return err
	}

	c.publish(State{Status: StatusUnauthenticated})

	return nil
}

// clearSession drops in-memory and persisted session state after an
// unrecoverable auth failure.
func (c *Controller) clearSession(ctx context.Context) {
	c.tokens.StopProactiveRefresh()

	if err := c.store.ClearAll(ctx, credstore.ClearOptions{}); err != nil {
		c.logger.Error("clearing session", slog.String("error", err.Error()))
	}

	c.publish(State{Status: StatusUnauthenticated})
}

// notifyAuthFailure surfaces an auth failure as a user-facing notification.
// Missing provider configuration gets an actionable message for admins and a
// "contact administrator" message for everyone else.
func (c *Controller) notifyAuthFailure(ctx context.Context, err error) {
	if errors.Is(err, oauth.ErrNotConfigured) {
		snap, snapErr := c.store.IdentitySnapshot(ctx)
		if snapErr == nil && identity.Role(snap.Role) == identity.RoleAdmin {
			c.nav.Notify("Provider application is not configured. Set the client ID and secret with 'vaultdrive config set'.")
		} else {
			c.nav.Notify("Sign-in is not available. Contact your administrator.")
		}

		return
	}

	c.nav.Notify("Sign-in failed: " + err.Error())
}

// persistIdentity writes the identity snapshot fields and the cached
// identity blob.
func (c *Controller) persistIdentity(ctx context.Context, ident *identity.Identity) error {
	if err := c.store.SetIdentitySnapshot(ctx, ident.Email, ident.Name, ident.PictureURL, string(ident.Role)); err != nil {
		return err
	}

	blob, err := json.Marshal(ident)
	if err != nil {
		return err
	}

	return c.store.Put(ctx, credstore.KeyCurrentUser, string(blob))
}

// snapshotIdentity rebuilds a display identity from persisted snapshot
// fields. Role defaults to Viewer when the snapshot predates role caching.
func snapshotIdentity(snap credstore.Snapshot) *identity.Identity {
	role := identity.Role(snap.Role)

	switch role {
	case identity.RoleAdmin, identity.RoleStaff, identity.RoleViewer:
	default:
		role = identity.RoleViewer
	}

	return &identity.Identity{
		Email:      snap.Email,
		Name:       snap.Name,
		PictureURL: snap.Picture,
		Role:       role,
	}
}
