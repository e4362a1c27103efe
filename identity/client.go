// Package identity talks to the Qwirl identity backend: OAuth code
// exchange, refresh-token rotation and the current-user probe.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/TheQwirl/qwirl-session/sessions"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Backend endpoint paths, relative to the API base URL.
const (
	PathAuthCallback = "/users/auth-callback"
	PathRefreshToken = "/users/refresh-token"
	PathMe           = "/users/me"
	PathLogout       = "/users/logout"
)

const (
	// httpClientTimeout is used when no client is supplied.
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps response reads; identity payloads are small JSON.
	maxResponseBytes = 1024 * 1024

	// clientTypeGoogle is the only OAuth provider the backend exchanges for.
	clientTypeGoogle = "google"
)

// Client is a thin JSON client for the identity endpoints. It never
// attaches an access token on its own and never retries: the code exchange
// is single-use and refresh retries belong to the refresh coordinator.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for the backend at baseURL. If httpClient is
// nil a client with a 30 second timeout is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ExchangeCode hands the full OAuth callback URL (code and state included)
// to the backend, which performs the provider exchange and answers with a
// session. A 400, 401 or 403 answer wraps ErrInvalidCredentials.
func (c *Client) ExchangeCode(ctx context.Context, callbackURL string) (*sessions.Credentials, error) {
	q := url.Values{}
	q.Set("client_type", clientTypeGoogle)
	q.Set("url", callbackURL)

	body, err := c.do(ctx, http.MethodGet, PathAuthCallback+"?"+q.Encode(), nil, "")
	if err != nil {
		if code := StatusCode(err); code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden {
			return nil, fmt.Errorf("exchanging authorization code: %w: %w", qerrors.ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	creds, err := ParseCredentials(body)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return creds, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh trades a refresh token for a new access/refresh pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*sessions.Credentials, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("marshalling refresh request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, PathRefreshToken, payload, "")
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	creds, err := ParseCredentials(body)
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return creds, nil
}

// Logout tells the backend the session is over. Callers treat failures as
// best effort.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	if _, err := c.do(ctx, http.MethodPost, PathLogout, nil, accessToken); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, accessToken string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	path := endpoint
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "sending request to " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: "reading response from " + path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Body:       sanitizeResponseBody(body),
		}
	}
	return body, nil
}

// ParseCredentials extracts a session from an identity response. Tokens
// are accepted at the top level or under "data"; a body without both
// tokens is ErrTokenMissingInResponse. A user that cannot be decoded is
// dropped rather than failing the session.
func ParseCredentials(body []byte) (*sessions.Credentials, error) {
	if !gjson.ValidBytes(body) {
		return nil, qerrors.Wrapf(qerrors.ErrUnexpectedResponse, "invalid json %q", sanitizeResponseBody(body))
	}
	access := firstOf(body, "access_token", "data.access_token").String()
	refresh := firstOf(body, "refresh_token", "data.refresh_token").String()
	if access == "" || refresh == "" {
		return nil, qerrors.ErrTokenMissingInResponse
	}

	creds := &sessions.Credentials{AccessToken: access, RefreshToken: refresh}
	user, err := parseUserAt(body, "user", "data.user")
	if err != nil {
		// the tokens are still good; the user is fetched again from /users/me
		log.Warn().Err(err).Msg("ignoring unreadable user in session response")
		return creds, nil
	}
	creds.User = user
	return creds, nil
}

// ParseUser extracts the user from a /users/me response, which is either
// the bare user object or wrapped in "user" or "data".
func ParseUser(body []byte) (*sessions.UserSummary, error) {
	if !gjson.ValidBytes(body) {
		return nil, qerrors.Wrapf(qerrors.ErrUnexpectedResponse, "invalid json %q", sanitizeResponseBody(body))
	}
	user, err := parseUserAt(body, "user", "data.user", "data")
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	if root := gjson.ParseBytes(body); root.IsObject() && root.Get("id").Exists() {
		return decodeUser(root.Raw)
	}
	return nil, qerrors.Wrapf(qerrors.ErrUnexpectedResponse, "no user in response")
}

func parseUserAt(body []byte, paths ...string) (*sessions.UserSummary, error) {
	res := firstOf(body, paths...)
	if !res.Exists() || !res.IsObject() {
		return nil, nil
	}
	return decodeUser(res.Raw)
}

func decodeUser(raw string) (*sessions.UserSummary, error) {
	var u sessions.UserSummary
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	return &u, nil
}

func firstOf(body []byte, paths ...string) gjson.Result {
	for _, p := range paths {
		if res := gjson.GetBytes(body, p); res.Exists() && res.Type != gjson.Null {
			return res
		}
	}
	return gjson.Result{}
}
