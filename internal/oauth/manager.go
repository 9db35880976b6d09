package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/curriculumvault/vaultdrive/internal/credstore"
)

// Endpoints are the provider URLs the manager talks to. Defaults come from
// Google; tests point them at an httptest server.
type Endpoints struct {
	TokenURL      string
	IntrospectURL string
	AuthURL       string
}

// GoogleEndpoints returns the production Google endpoint set.
func GoogleEndpoints() Endpoints {
	return Endpoints{
		TokenURL:      google.Endpoint.TokenURL,
		IntrospectURL: "https://www.googleapis.com/oauth2/v1/tokeninfo",
		AuthURL:       google.Endpoint.AuthURL,
	}
}

// CredentialStore is the slice of the credential store the manager needs.
type CredentialStore interface {
	Tokens(ctx context.Context) (credstore.TokenPair, error)
	SetTokens(ctx context.Context, accessToken, refreshToken string) error
	ProviderApp(ctx context.Context) (credstore.ProviderApp, error)
	ClearAll(ctx context.Context, opts credstore.ClearOptions) error
}

// ValidationResult reports whether a token passed introspection and the
// wall-clock deadline computed from the remaining lifetime.
type ValidationResult struct {
	Valid     bool
	ExpiresAt time.Time
}

// TokenPair is what an authorization code exchange yields. RefreshToken is
// empty when the provider omits it (repeat consents without prompt=consent).
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Manager owns the access/refresh token pair. All reads and writes of the
// pair go through the credential store; the manager holds no token state of
// its own, so two managers over one store see each other's rotations.
type Manager struct {
	store      CredentialStore
	httpClient *http.Client
	logger     *slog.Logger
	endpoints  Endpoints

	redirectURI string

	// refreshMu serializes refresh. TryLock makes the at-most-one-in-flight
	// guarantee structural: a second caller observes the held lock and
	// returns a no-op instead of racing a duplicate rotation.
	refreshMu sync.Mutex

	timerMu     sync.Mutex
	timerCancel context.CancelFunc
	timerDone   chan struct{}
}

// NewManager creates a token lifecycle manager over the given store.
func NewManager(store CredentialStore, endpoints Endpoints, redirectURI string, httpClient *http.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Manager{
		store:       store,
		httpClient:  httpClient,
		logger:      logger,
		endpoints:   endpoints,
		redirectURI: redirectURI,
	}
}

// tokenResponse mirrors the provider's token endpoint JSON. A body carrying
// an error field counts as failure even on a 200.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Exchange posts an authorization code to the token endpoint and persists the
// resulting pair. The refresh token is stored only if the provider issued one.
func (m *Manager) Exchange(ctx context.Context, code string) (TokenPair, error) {
	app, err := m.store.ProviderApp(ctx)
	if err != nil {
		return TokenPair{}, err
	}

	if app.ClientID == "" || app.ClientSecret == "" {
		return TokenPair{}, ErrNotConfigured
	}

	m.logger.Info("exchanging authorization code")

	form := url.Values{
		"client_id":     {app.ClientID},
		"client_secret": {app.ClientSecret},
		"code":          {code},
		"redirect_uri":  {m.redirectURI},
		"grant_type":    {"authorization_code"},
	}

	tr, err := m.postTokenForm(ctx, form)
	if err != nil {
		return TokenPair{}, err
	}

	if err := m.store.SetTokens(ctx, tr.AccessToken, tr.RefreshToken); err != nil {
		return TokenPair{}, err
	}

	m.logger.Info("authorization code exchanged",
		slog.Bool("refresh_token_issued", tr.RefreshToken != ""),
		slog.Int64("expires_in", tr.ExpiresIn),
	)

	return TokenPair{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}, nil
}

// Refresh mints a new access token from the stored refresh token.
//
// At most one refresh is in flight at a time. A caller arriving while another
// refresh is outstanding gets ("", nil) without any network call — it does
// not wait for the in-flight result. Callers that need the fresh token after
// a no-op return must re-read the store.
//
// On provider rejection the entire credential set is cleared before the error
// is returned; the caller is expected to fall back to re-authentication.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	if !m.refreshMu.TryLock() {
		m.logger.Debug("refresh already in flight, skipping")
		return "", nil
	}
	defer m.refreshMu.Unlock()

	tokens, err := m.store.Tokens(ctx)
	if err != nil {
		return "", err
	}

	if tokens.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}

	app, err := m.store.ProviderApp(ctx)
	if err != nil {
		return "", err
	}

	if app.ClientID == "" || app.ClientSecret == "" {
		return "", ErrNotConfigured
	}

	m.logger.Info("refreshing access token")

	form := url.Values{
		"client_id":     {app.ClientID},
		"client_secret": {app.ClientSecret},
		"refresh_token": {tokens.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	tr, err := m.postTokenForm(ctx, form)
	if err != nil {
		if _, rejected := asExchangeError(err); rejected {
			m.logger.Warn("refresh rejected, clearing credentials", slog.String("error", err.Error()))

			if clearErr := m.store.ClearAll(ctx, credstore.ClearOptions{}); clearErr != nil {
				m.logger.Error("clearing credentials after failed refresh", slog.String("error", clearErr.Error()))
			}
		}

		return "", err
	}

	// The provider may rotate the refresh token; SetTokens keeps the old one
	// when the response omits it.
	if err := m.store.SetTokens(ctx, tr.AccessToken, tr.RefreshToken); err != nil {
		return "", err
	}

	m.logger.Info("access token refreshed",
		slog.Bool("refresh_token_rotated", tr.RefreshToken != ""),
	)

	return tr.AccessToken, nil
}

// postTokenForm posts a form to the token endpoint and decodes the response.
func (m *Manager) postTokenForm(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("oauth: creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: token endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oauth: reading token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("oauth: decoding token response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices || tr.Error != "" {
		return nil, &ExchangeError{
			StatusCode:  resp.StatusCode,
			Code:        tr.Error,
			Description: tr.ErrorDescription,
		}
	}

	if tr.AccessToken == "" {
		return nil, fmt.Errorf("oauth: token response missing access_token")
	}

	return &tr, nil
}

// asExchangeError unwraps an *ExchangeError if err carries one.
func asExchangeError(err error) (*ExchangeError, bool) {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee, true
	}

	return nil, false
}

// introspectResponse mirrors the tokeninfo endpoint JSON.
type introspectResponse struct {
	ExpiresIn int64  `json:"expires_in"`
	Email     string `json:"email"`
	Scope     string `json:"scope"`
}

// Validate calls the introspection endpoint for the given token.
//
// Expiry is computed as now + expires_in at validation time, not at token
// issue time. Repeated validations therefore keep extending the apparent
// deadline relative to when they were checked. That laziness is deliberate:
// the deadline is only used to decide "refresh now or later", and a token the
// provider still reports lifetime for is good enough to use now.
//
// A rejected token yields {Valid: false} with a nil error. A transport
// failure yields a non-nil error — the token may still be good, so callers
// treat that as "try a refresh" rather than a hard failure.
func (m *Manager) Validate(ctx context.Context, token string) (ValidationResult, error) {
	u := m.endpoints.IntrospectURL + "?access_token=" + url.QueryEscape(token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("oauth: creating introspection request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("oauth: introspection endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		m.logger.Info("token rejected by introspection", slog.Int("status", resp.StatusCode))
		return ValidationResult{Valid: false}, nil
	}

	var ir introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return ValidationResult{}, fmt.Errorf("oauth: decoding introspection response: %w", err)
	}

	if ir.ExpiresIn <= 0 {
		return ValidationResult{Valid: false}, nil
	}

	return ValidationResult{
		Valid:     true,
		ExpiresAt: time.Now().Add(time.Duration(ir.ExpiresIn) * time.Second),
	}, nil
}

// EnsureValid is the primary entry point: it returns a usable access token,
// refreshing or failing over as needed.
//
// Decision tree: no access token -> refresh if a refresh token exists, else
// ReauthRequired. Access token present -> validate; invalid or unreachable
// introspection -> refresh as fallback before giving up.
func (m *Manager) EnsureValid(ctx context.Context) (string, error) {
	tokens, err := m.store.Tokens(ctx)
	if err != nil {
		return "", err
	}

	if tokens.AccessToken == "" {
		if tokens.RefreshToken == "" {
			return "", ErrReauthRequired
		}

		return m.refreshAndReread(ctx)
	}

	res, err := m.Validate(ctx, tokens.AccessToken)
	if err != nil {
		// Introspection unreachable — the token may still be good, but we
		// cannot tell. A refresh settles it either way.
		m.logger.Warn("validation failed, attempting refresh", slog.String("error", err.Error()))
		return m.refreshAndReread(ctx)
	}

	if !res.Valid {
		return m.refreshAndReread(ctx)
	}

	m.logger.Debug("access token valid", slog.Time("expires_at", res.ExpiresAt))

	return tokens.AccessToken, nil
}

// refreshAndReread refreshes and returns the fresh access token, re-reading
// the store when the refresh was a concurrent no-op.
func (m *Manager) refreshAndReread(ctx context.Context) (string, error) {
	token, err := m.Refresh(ctx)
	if err != nil {
		return "", err
	}

	if token != "" {
		return token, nil
	}

	// Another caller held the refresh lock. Whatever it wrote is the current
	// truth; fail with ReauthRequired only if nothing is there.
	tokens, err := m.store.Tokens(ctx)
	if err != nil {
		return "", err
	}

	if tokens.AccessToken == "" {
		return "", ErrReauthRequired
	}

	return tokens.AccessToken, nil
}

// StartProactiveRefresh begins the background refresh loop. Each tick
// silently refreshes while a refresh token is present; failures are logged
// and swallowed — the next interactive call surfaces the problem. Starting
// while a loop is already running restarts it with the new interval.
func (m *Manager) StartProactiveRefresh(ctx context.Context, interval time.Duration) {
	m.StopProactiveRefresh()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.timerMu.Lock()
	m.timerCancel = cancel
	m.timerDone = done
	m.timerMu.Unlock()

	m.logger.Info("proactive refresh scheduled", slog.Duration("interval", interval))

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.proactiveTick(loopCtx)
			}
		}
	}()
}

// proactiveTick performs one background refresh attempt.
func (m *Manager) proactiveTick(ctx context.Context) {
	tokens, err := m.store.Tokens(ctx)
	if err != nil {
		m.logger.Warn("proactive refresh: reading store", slog.String("error", err.Error()))
		return
	}

	if tokens.RefreshToken == "" {
		m.logger.Debug("proactive refresh: no refresh token, skipping")
		return
	}

	if _, err := m.Refresh(ctx); err != nil {
		// Swallowed on purpose — the user is not interrupted by a background
		// failure.
		m.logger.Warn("proactive refresh failed", slog.String("error", err.Error()))
	}
}

// StopProactiveRefresh cancels the background refresh loop and waits for it
// to exit. Safe to call when no loop is running.
func (m *Manager) StopProactiveRefresh() {
	m.timerMu.Lock()
	cancel, done := m.timerCancel, m.timerDone
	m.timerCancel, m.timerDone = nil, nil
	m.timerMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	m.logger.Info("proactive refresh stopped")
}
