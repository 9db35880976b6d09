// Package oauth implements the portal's token lifecycle: authorization code
// exchange, serialized refresh, introspection-based validation, and the
// background refresh that keeps a session alive across the provider's
// 60-minute access token lifetime.
package oauth

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to classify.
var (
	// ErrReauthRequired means no silent recovery path remains — the user must
	// go back through consent.
	ErrReauthRequired = errors.New("oauth: re-authentication required")

	// ErrNoRefreshToken means a refresh was requested but no refresh token is
	// stored. It is a ReauthRequired condition.
	ErrNoRefreshToken = fmt.Errorf("oauth: no refresh token stored: %w", ErrReauthRequired)

	// ErrNotConfigured means the provider application id/secret are absent
	// from the credential store. An administrator has to supply them.
	ErrNotConfigured = errors.New("oauth: provider application not configured")

	// ErrInvalidToken is the introspection endpoint rejecting a token.
	ErrInvalidToken = errors.New("oauth: invalid token")

	// ErrExpired is a token past its computed expiry.
	ErrExpired = errors.New("oauth: token expired")

	// ErrInsufficientScope marks a token that lacks a permission the caller
	// needs. Refreshing reissues the same scopes, so recovery is a fresh
	// consent with a broadened scope set, never a refresh.
	ErrInsufficientScope = errors.New("oauth: insufficient scope")
)

// ExchangeError carries the provider's error code and description from a
// failed token endpoint call (exchange or refresh grant).
type ExchangeError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *ExchangeError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth: token endpoint rejected request (HTTP %d): %s: %s", e.StatusCode, e.Code, e.Description)
	}

	return fmt.Sprintf("oauth: token endpoint rejected request (HTTP %d): %s", e.StatusCode, e.Code)
}
