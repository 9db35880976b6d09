package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// GoogleProfileURL is the production profile endpoint.
const GoogleProfileURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// ProfileError is a non-success response from the profile endpoint. Callers
// must treat it exactly like an invalid token and take the same recovery path.
type ProfileError struct {
	StatusCode int
	Message    string
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("identity: profile endpoint returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Resolver maps access tokens to identities. Role assignment is a pure
// function of the email: membership in the admin allow-list (compared
// case-insensitively) yields Admin, anything else Viewer.
type Resolver struct {
	profileURL  string
	httpClient  *http.Client
	logger      *slog.Logger
	defaultName string

	mu     sync.RWMutex
	admins map[string]struct{}
}

// NewResolver creates a resolver with the given admin allow-list and the
// display-name fallback used when the provider returns a blank name.
func NewResolver(profileURL string, adminEmails []string, defaultName string, httpClient *http.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Resolver{
		profileURL:  profileURL,
		httpClient:  httpClient,
		logger:      logger,
		admins:      adminSet(adminEmails),
		defaultName: defaultName,
	}
}

func adminSet(adminEmails []string) map[string]struct{} {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		admins[strings.ToLower(email)] = struct{}{}
	}

	return admins
}

// SetAdminEmails replaces the admin allow-list. Used on config reload.
func (r *Resolver) SetAdminEmails(adminEmails []string) {
	r.mu.Lock()
	r.admins = adminSet(adminEmails)
	r.mu.Unlock()
}

// RoleFor returns the role for an email address. Pure and case-insensitive.
func (r *Resolver) RoleFor(email string) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.admins[strings.ToLower(email)]; ok {
		return RoleAdmin
	}

	return RoleViewer
}

// profileResponse mirrors the provider's userinfo JSON.
type profileResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Resolve calls the profile endpoint with the bearer token and derives the
// portal identity.
func (r *Resolver) Resolve(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: creating profile request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: profile endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			body = []byte("(failed to read response body)")
		}

		return nil, &ProfileError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var pr profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("identity: decoding profile response: %w", err)
	}

	name := strings.TrimSpace(pr.Name)
	if name == "" {
		name = r.defaultName
	}

	now := time.Now()

	ident := &Identity{
		ID:         pr.ID,
		Email:      pr.Email,
		Name:       name,
		PictureURL: pr.Picture,
		Role:       r.RoleFor(pr.Email),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	r.logger.Info("identity resolved",
		slog.String("email", ident.Email),
		slog.String("role", string(ident.Role)),
	)

	return ident, nil
}
