// Package drive provides the Google Drive v3 client the portal's file
// browser runs on, plus the operation guard that turns authentication
// failures into token refresh or re-consent.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Production API hosts.
const (
	DefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"

	userAgent = "vaultdrive/0.1"
)

// insufficientScopeMarker is the literal substring Google places in the error
// message when a token lacks a required OAuth scope.
const insufficientScopeMarker = "insufficient authentication scopes"

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, drive.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("drive: bad request")
	ErrUnauthorized = errors.New("drive: unauthorized")
	ErrForbidden    = errors.New("drive: forbidden")
	ErrNotFound     = errors.New("drive: not found")
	ErrServerError  = errors.New("drive: server error")
)

// Error wraps a sentinel with the HTTP status and the provider's error
// message body.
type Error struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	return fmt.Sprintf("drive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InsufficientScope reports whether the error is a 403 caused by missing
// OAuth scopes rather than ordinary authorization denial. The two demand
// opposite recovery: a refresh reissues the same scopes, so scope failures
// need a fresh consent instead.
func (e *Error) InsufficientScope() bool {
	return e.StatusCode == http.StatusForbidden && strings.Contains(e.Message, insufficientScopeMarker)
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// errorBody mirrors the Drive API error envelope.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client is an HTTP client for the Drive API. It constructs requests,
// attaches the bearer token, and classifies errors. It never retries — the
// guard layer owns the single refresh-and-retry policy.
type Client struct {
	baseURL    string
	uploadURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Drive API client.
func NewClient(baseURL, uploadURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		uploadURL:  uploadURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// do executes a single request against the given full URL. Non-2xx responses
// are decoded into *Error with the provider's error.message. The caller is
// responsible for closing the response body on success.
func (c *Client) do(ctx context.Context, method, fullURL, token, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("drive: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive: %s %s: %w", method, fullURL, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	raw, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		raw = []byte("(failed to read response body)")
	}

	message := string(raw)

	var eb errorBody
	if jsonErr := json.Unmarshal(raw, &eb); jsonErr == nil && eb.Error.Message != "" {
		message = eb.Error.Message
	}

	return nil, &Error{
		StatusCode: resp.StatusCode,
		Message:    message,
		Err:        classifyStatus(resp.StatusCode),
	}
}
