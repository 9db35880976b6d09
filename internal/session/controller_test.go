package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curriculumvault/vaultdrive/internal/credstore"
	"github.com/curriculumvault/vaultdrive/internal/identity"
	"github.com/curriculumvault/vaultdrive/internal/oauth"
)

// recordingNav captures navigation and notification calls.
type recordingNav struct {
	mu       sync.Mutex
	landings int
	portals  int
	consents []string
	notices  []string
}

func (n *recordingNav) ToLanding() {
	n.mu.Lock()
	n.landings++
	n.mu.Unlock()
}

func (n *recordingNav) ToPortal() {
	n.mu.Lock()
	n.portals++
	n.mu.Unlock()
}

func (n *recordingNav) ToConsent(url string) {
	n.mu.Lock()
	n.consents = append(n.consents, url)
	n.mu.Unlock()
}

func (n *recordingNav) Notify(message string) {
	n.mu.Lock()
	n.notices = append(n.notices, message)
	n.mu.Unlock()
}

// fakeTokens is a scripted TokenManager.
type fakeTokens struct {
	exchangePair oauth.TokenPair
	exchangeErr  error
	ensureToken  string
	ensureErr    error
	consentURL   string

	mu            sync.Mutex
	refreshActive bool
	stopped       bool
}

func (f *fakeTokens) Exchange(context.Context, string) (oauth.TokenPair, error) {
	return f.exchangePair, f.exchangeErr
}

func (f *fakeTokens) EnsureValid(context.Context) (string, error) {
	return f.ensureToken, f.ensureErr
}

func (f *fakeTokens) BuildConsentURL(_ context.Context, action string, _ []string) (string, error) {
	return f.consentURL + "?action=" + action, nil
}

func (f *fakeTokens) StartProactiveRefresh(context.Context, time.Duration) {
	f.mu.Lock()
	f.refreshActive = true
	f.mu.Unlock()
}

func (f *fakeTokens) StopProactiveRefresh() {
	f.mu.Lock()
	f.refreshActive = false
	f.stopped = true
	f.mu.Unlock()
}

// fakeResolver returns a canned identity.
type fakeResolver struct {
	ident *identity.Identity
	err   error
}

func (f *fakeResolver) Resolve(context.Context, string) (*identity.Identity, error) {
	return f.ident, f.err
}

func newTestStore(t *testing.T) *credstore.Store {
	t.Helper()

	s, err := credstore.Open(filepath.Join(t.TempDir(), "creds.db"), slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func testIdentity() *identity.Identity {
	return &identity.Identity{
		ID:    "u1",
		Email: "jo@example.edu",
		Name:  "Jo",
		Role:  identity.RoleAdmin,
	}
}

func newController(store Store, tokens TokenManager, resolver Resolver, nav Navigator) *Controller {
	return NewController(store, tokens, resolver, nav, []string{"scope-a"}, 50*time.Minute, slog.Default())
}

func TestStartWithEmptyStore(t *testing.T) {
	store := newTestStore(t)
	nav := &recordingNav{}
	c := newController(store, &fakeTokens{}, &fakeResolver{}, nav)

	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, StatusUnauthenticated, c.State().Status)
	assert.Nil(t, c.State().Identity)
}

func TestStartPublishesOptimisticallyThenSettles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetTokens(ctx, "stored-access", "stored-refresh"))
	require.NoError(t, store.SetIdentitySnapshot(ctx, "jo@example.edu", "Jo", "", "Admin"))

	tokens := &fakeTokens{ensureToken: "validated-access"}
	resolver := &fakeResolver{ident: testIdentity()}
	nav := &recordingNav{}
	c := newController(store, tokens, resolver, nav)

	states := c.Subscribe()
	<-states // initial Unknown

	require.NoError(t, c.Start(ctx))

	assert.Equal(t, StatusAuthenticated, c.State().Status)
	require.NotNil(t, c.State().Identity)
	assert.Equal(t, "jo@example.edu", c.State().Identity.Email)

	tokens.mu.Lock()
	assert.True(t, tokens.refreshActive, "proactive refresh must start")
	tokens.mu.Unlock()
}

func TestStartClearsSessionWhenSilentLoginFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetTokens(ctx, "stored-access", "revoked-refresh"))
	require.NoError(t, store.SetIdentitySnapshot(ctx, "jo@example.edu", "Jo", "", "Viewer"))

	tokens := &fakeTokens{ensureErr: oauth.ErrReauthRequired}
	nav := &recordingNav{}
	c := newController(store, tokens, &fakeResolver{}, nav)

	require.NoError(t, c.Start(ctx))

	assert.Equal(t, StatusUnauthenticated, c.State().Status)
	assert.Equal(t, 1, nav.landings)

	pair, err := store.Tokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, pair.AccessToken)
	assert.Empty(t, pair.RefreshToken)
}

func TestStartTreatsProfileFailureAsReauth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetTokens(ctx, "stored-access", "refresh"))

	tokens := &fakeTokens{ensureToken: "validated"}
	resolver := &fakeResolver{err: &identity.ProfileError{StatusCode: http.StatusUnauthorized}}
	nav := &recordingNav{}
	c := newController(store, tokens, resolver, nav)

	require.NoError(t, c.Start(ctx))

	assert.Equal(t, StatusUnauthenticated, c.State().Status)
}

func TestHandleCallbackSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tokens := &fakeTokens{exchangePair: oauth.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}}
	resolver := &fakeResolver{ident: testIdentity()}
	nav := &recordingNav{}
	c := newController(store, tokens, resolver, nav)

	require.NoError(t, c.HandleCallback(ctx, "auth-code", `{"type":"login"}`))

	assert.Equal(t, StatusAuthenticated, c.State().Status)
	assert.Equal(t, 1, nav.portals)

	snap, err := store.IdentitySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jo@example.edu", snap.Email)
	assert.Equal(t, "Admin", snap.Role)

	blob, err := store.Get(ctx, credstore.KeyCurrentUser)
	require.NoError(t, err)
	assert.Contains(t, blob, "jo@example.edu")
}

func TestHandleCallbackConsumesReturnPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tokens := &fakeTokens{exchangePair: oauth.TokenPair{AccessToken: "a", RefreshToken: "r"}}
	c := newController(store, tokens, &fakeResolver{ident: testIdentity()}, &recordingNav{})

	require.NoError(t, c.SaveReturnPath(ctx, "/portal/folder/abc"))
	require.NoError(t, c.HandleCallback(ctx, "code", `{"type":"drive"}`))

	rp, err := store.Get(ctx, credstore.KeyReturnPath)
	require.NoError(t, err)
	assert.Empty(t, rp, "return path must be cleared after use")
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	store := newTestStore(t)

	tokens := &fakeTokens{exchangeErr: fmt.Errorf("oauth: boom")}
	nav := &recordingNav{}
	c := newController(store, tokens, &fakeResolver{}, nav)

	err := c.HandleCallback(context.Background(), "bad-code", "")
	require.Error(t, err)

	assert.Equal(t, 1, nav.landings)
	assert.NotEmpty(t, nav.notices)
}

func TestHandleCallbackNotConfiguredMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("admin gets actionable message", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.SetIdentitySnapshot(ctx, "admin@example.edu", "A", "", "Admin"))

		nav := &recordingNav{}
		c := newController(store, &fakeTokens{exchangeErr: oauth.ErrNotConfigured}, &fakeResolver{}, nav)

		require.Error(t, c.HandleCallback(ctx, "code", ""))
		require.NotEmpty(t, nav.notices)
		assert.Contains(t, nav.notices[0], "config set")
	})

	t.Run("viewer is told to contact an administrator", func(t *testing.T) {
		store := newTestStore(t)

		nav := &recordingNav{}
		c := newController(store, &fakeTokens{exchangeErr: oauth.ErrNotConfigured}, &fakeResolver{}, nav)

		require.Error(t, c.HandleCallback(ctx, "code", ""))
		require.NotEmpty(t, nav.notices)
		assert.Contains(t, nav.notices[0], "administrator")
	})
}

func TestLoginFallsBackToConsent(t *testing.T) {
	store := newTestStore(t)

	tokens := &fakeTokens{consentURL: "https://consent.example.com"}
	nav := &recordingNav{}
	c := newController(store, tokens, &fakeResolver{}, nav)

	require.NoError(t, c.Login(context.Background()))

	require.Len(t, nav.consents, 1)
	assert.Contains(t, nav.consents[0], "action="+oauth.ActionLogin)
}

func TestLoginSilentWhenRefreshTokenWorks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetTokens(ctx, "", "good-refresh"))

	tokens := &fakeTokens{ensureToken: "minted-access"}
	resolver := &fakeResolver{ident: testIdentity()}
	nav := &recordingNav{}
	c := newController(store, tokens, resolver, nav)

	require.NoError(t, c.Login(ctx))

	assert.Equal(t, StatusAuthenticated, c.State().Status)
	assert.Empty(t, nav.consents, "no consent redirect on silent login")
}

func TestLogoutClearsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetTokens(ctx, "access", "refresh"))
	require.NoError(t, store.SetIdentitySnapshot(ctx, "jo@example.edu", "Jo", "", "Viewer"))

	tokens := &fakeTokens{}
	nav := &recordingNav{}
	c := newController(store, tokens, &fakeResolver{}, nav)

	require.NoError(t, c.Logout(ctx))

	assert.Equal(t, StatusUnauthenticated, c.State().Status)
	assert.Equal(t, 1, nav.landings)

	tokens.mu.Lock()
	assert.True(t, tokens.stopped)
	tokens.mu.Unlock()

	pair, err := store.Tokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, pair.AccessToken)
	assert.Empty(t, pair.RefreshToken)
}

func TestSoftLogoutKeepsRefreshToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetTokens(ctx, "access", "refresh"))

	c := newController(store, &fakeTokens{}, &fakeResolver{}, &recordingNav{})

	require.NoError(t, c.SoftLogout(ctx))

	assert.Equal(t, StatusUnauthenticated, c.State().Status)

	pair, err := store.Tokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, pair.AccessToken)
	assert.Equal(t, "refresh", pair.RefreshToken)
}

func TestSubscribeNeverBlocksPublisher(t *testing.T) {
	store := newTestStore(t)
	c := newController(store, &fakeTokens{}, &fakeResolver{}, &recordingNav{})

	ch := c.Subscribe()

	// Nobody reads the channel; repeated publishes must not deadlock.
	for i := 0; i < 10; i++ {
		c.publish(State{Status: StatusAuthenticated})
		c.publish(State{Status: StatusUnauthenticated})
	}

	// The latest state is what a late reader sees.
	var last State
	for {
		select {
		case s := <-ch:
			last = s
			continue
		default:
		}

		break
	}

	assert.Equal(t, StatusUnauthenticated, last.Status)
}

// TestStartupSilentReLogin exercises the real token manager against mock
// provider endpoints: an expired access token plus a valid refresh token must
// settle authenticated with no interaction.
func TestStartupSilentReLogin(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetProviderApp(ctx, "client", "secret", ""))
	require.NoError(t, store.SetTokens(ctx, "expired-access", "valid-refresh"))
	require.NoError(t, store.SetIdentitySnapshot(ctx, "jo@example.edu", "Jo", "", "Viewer"))

	introspect := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") == "fresh-access" {
			fmt.Fprint(w, `{"expires_in":3600}`)
			return
		}

		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_token"}`)
	}))
	defer introspect.Close()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token":"fresh-access","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	profile := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fresh-access", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id":"u1","email":"jo@example.edu","name":"Jo"}`)
	}))
	defer profile.Close()

	endpoints := oauth.Endpoints{TokenURL: tokenSrv.URL, IntrospectURL: introspect.URL, AuthURL: "https://unused.example.com"}
	manager := oauth.NewManager(store, endpoints, "http://localhost/auth/callback", http.DefaultClient, slog.Default())
	resolver := identity.NewResolver(profile.URL, []string{"jo@example.edu"}, "Portal User", http.DefaultClient, slog.Default())

	nav := &recordingNav{}
	c := NewController(store, manager, resolver, nav, []string{"scope"}, 50*time.Minute, slog.Default())

	require.NoError(t, c.Start(ctx))

	defer manager.StopProactiveRefresh()

	state := c.State()
	assert.Equal(t, StatusAuthenticated, state.Status)
	require.NotNil(t, state.Identity)
	assert.Equal(t, identity.RoleAdmin, state.Identity.Role)

	pair, err := store.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", pair.AccessToken)

	assert.Empty(t, nav.consents, "silent re-login must not redirect to consent")
}
