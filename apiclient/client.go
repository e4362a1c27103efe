// Package apiclient sends requests to the Qwirl API on behalf of a session.
// Every request carries the current access token; a 401 triggers one
// refresh and one resend, never more.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TheQwirl/qwirl-session/identity"
	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/TheQwirl/qwirl-session/internal/metrics"
	"github.com/TheQwirl/qwirl-session/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const httpClientTimeout = 30 * time.Second

// TokenStore is the read side of the session the pipeline works for.
type TokenStore interface {
	AccessToken() string
	Credentials() sessions.Credentials
}

// Refresher is the refresh coordinator of the same execution context.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*sessions.Credentials, error)
	Terminate()
}

// Client is the authorized request pipeline.
type Client struct {
	httpClient *http.Client
	baseURL    string
	store      TokenStore
	refresher  Refresher
	exempt     map[string]struct{}
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithExemptPaths adds paths that are sent without a token and whose 401s
// are returned as-is.
func WithExemptPaths(paths ...string) Option {
	return func(c *Client) {
		for _, p := range paths {
			c.exempt[p] = struct{}{}
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New builds a pipeline for the API at baseURL. The refresh and
// code-exchange endpoints are always exempt.
func New(baseURL string, store TokenStore, refresher Refresher, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: httpClientTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		store:      store,
		refresher:  refresher,
		exempt: map[string]struct{}{
			identity.PathRefreshToken: {},
			identity.PathAuthCallback: {},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRequest builds a request for path (relative to the API base URL).
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeNeedsRefresh
	outcomeTransport
)

// Do sends req through the pipeline:
//
//	prepare -> send -> classify -> ok | needsRefresh | transport
//	needsRefresh -> refresh -> resend once -> classify
//
// On success the response is returned and must be closed by the caller.
// Non-401 error statuses are successes as far as the pipeline is concerned.
// Failures are *Error values.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := prepareBody(req); err != nil {
		return nil, c.fail(req, KindTransport, 0, err)
	}
	exempt := c.isExempt(req)

	sentToken := ""
	if !exempt {
		sentToken = c.store.AccessToken()
	}
	resp, err := c.send(req, sentToken)
	switch c.classify(resp, err, exempt) {
	case outcomeTransport:
		return nil, c.fail(req, KindTransport, 0, err)
	case outcomeOK:
		c.metrics.ObserveRequest(metrics.RequestOK)
		return resp, nil
	}
	drain(resp)

	retryToken, err := c.tokenForRetry(req.Context(), sentToken)
	if err != nil {
		kind := KindUnauthorized
		if errors.Is(err, qerrors.ErrTransport) {
			kind = KindTransport
		}
		return nil, c.fail(req, kind, http.StatusUnauthorized, err)
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return nil, c.fail(req, KindTransport, 0, err)
	}
	resp, err = c.send(retry, retryToken)
	switch c.classify(resp, err, false) {
	case outcomeTransport:
		return nil, c.fail(req, KindTransport, 0, err)
	case outcomeOK:
		c.metrics.ObserveRequest(metrics.RequestRetried)
		return resp, nil
	}
	drain(resp)

	// A fresh token was rejected as well: end the session instead of
	// looping through another refresh.
	log.Info().Str("method", req.Method).Str("path", req.URL.Path).Msg("retried request still unauthorized, ending session")
	c.refresher.Terminate()
	return nil, c.fail(req, KindSessionTerminated, http.StatusUnauthorized, nil)
}

// tokenForRetry returns the token to resend with. When another request
// already refreshed the session after sentToken was read, that token is
// used without a second refresh.
func (c *Client) tokenForRetry(ctx context.Context, sentToken string) (string, error) {
	current := c.store.Credentials()
	if current.AccessToken != "" && current.AccessToken != sentToken {
		return current.AccessToken, nil
	}
	creds, err := c.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

func (c *Client) send(req *http.Request, accessToken string) (*http.Response, error) {
	req.Header.Del("Authorization")
	if accessToken != "" {
		tok := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
		tok.SetAuthHeader(req)
	}
	return c.httpClient.Do(req)
}

func (c *Client) classify(resp *http.Response, err error, exempt bool) outcome {
	if err != nil {
		return outcomeTransport
	}
	if resp.StatusCode == http.StatusUnauthorized && !exempt {
		return outcomeNeedsRefresh
	}
	return outcomeOK
}

func (c *Client) isExempt(req *http.Request) bool {
	path := req.URL.Path
	if base := c.basePath(); base != "" {
		path = strings.TrimPrefix(path, base)
	}
	_, ok := c.exempt[path]
	return ok
}

func (c *Client) basePath() string {
	i := strings.Index(c.baseURL, "://")
	if i < 0 {
		return ""
	}
	rest := c.baseURL[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rest[j:]
	}
	return ""
}

func (c *Client) fail(req *http.Request, kind Kind, status int, err error) error {
	switch kind {
	case KindTransport:
		c.metrics.ObserveRequest(metrics.RequestTransport)
	case KindUnauthorized:
		c.metrics.ObserveRequest(metrics.RequestDenied)
	case KindSessionTerminated:
		c.metrics.ObserveRequest(metrics.RequestTerminated)
	}
	return &Error{Kind: kind, Method: req.Method, Path: req.URL.Path, StatusCode: status, Err: err}
}

// prepareBody makes sure the body can be replayed for the retry.
func prepareBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	buf, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	req.Body, _ = req.GetBody()
	req.ContentLength = int64(len(buf))
	return nil
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return retry, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}
