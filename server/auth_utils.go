package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const stateLength = 24

// randRead is swapped in tests.
var randRead = rand.Read

// generateRandomString creates a random base64url string
func generateRandomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := randRead(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// getOAuthConfig returns the provider configuration for the login
// redirect. Endpoints come from OIDC discovery on the configured issuer and
// are cached once discovery succeeds; until then the static Google
// endpoints are used.
func (s *Server) getOAuthConfig(ctx context.Context) *oauth2.Config {
	s.oauthConfigLock.RLock()
	cfg := s.oauthConfig
	s.oauthConfigLock.RUnlock()
	if cfg != nil {
		return cfg
	}

	cfg = &oauth2.Config{
		ClientID:    s.config.GetClientID(),
		Endpoint:    endpoints.Google,
		RedirectURL: s.config.GetPublicURL() + RouteAuthCallback,
		Scopes:      []string{oidc.ScopeOpenID, "profile", "email"},
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, s.httpClient), s.config.GetOIDCIssuer())
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("issuer", s.config.GetOIDCIssuer()).Msg("OIDC discovery failed, using static endpoints")
		return cfg
	}
	cfg.Endpoint = provider.Endpoint()

	s.oauthConfigLock.Lock()
	s.oauthConfig = cfg
	s.oauthConfigLock.Unlock()
	return cfg
}

// redirectWithError sends the browser to path with a machine-readable
// error code.
func redirectWithError(w http.ResponseWriter, r *http.Request, path, code string) {
	http.Redirect(w, r, path+"?error="+url.QueryEscape(code), http.StatusSeeOther)
}
