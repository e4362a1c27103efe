package config

import "time"

type OAuthConfig interface {
	GetOIDCIssuer() string
	GetClientID() string
	GetAccessCookieTTL() time.Duration
	GetRefreshCookieTTL() time.Duration
	GetUserCookieTTL() time.Duration
	GetStateCookieTTL() time.Duration
	GetRefreshTimeout() time.Duration
	GetHTTPTimeout() time.Duration
}

type OAuth struct {
	OIDCIssuer       string        `env:"OIDC_ISSUER" envDefault:"https://accounts.google.com"`
	ClientID         string        `env:"GOOGLE_CLIENT_ID"`
	AccessCookieTTL  time.Duration `env:"ACCESS_COOKIE_TTL" envDefault:"24h"`
	RefreshCookieTTL time.Duration `env:"REFRESH_COOKIE_TTL" envDefault:"168h"`
	RefreshTimeout   time.Duration `env:"REFRESH_TIMEOUT" envDefault:"10s"`
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
}

var _ OAuthConfig = OAuth{}

func (o OAuth) GetOIDCIssuer() string {
	return o.OIDCIssuer
}

func (o OAuth) GetClientID() string {
	return o.ClientID
}

func (o OAuth) GetAccessCookieTTL() time.Duration {
	return o.AccessCookieTTL
}

func (o OAuth) GetRefreshCookieTTL() time.Duration {
	return o.RefreshCookieTTL
}

// GetUserCookieTTL follows the refresh cookie: the cached summary is only
// useful while the session can still be renewed.
func (o OAuth) GetUserCookieTTL() time.Duration {
	return o.RefreshCookieTTL
}

func (OAuth) GetStateCookieTTL() time.Duration {
	return 10 * time.Minute
}

func (o OAuth) GetRefreshTimeout() time.Duration {
	return o.RefreshTimeout
}

func (o OAuth) GetHTTPTimeout() time.Duration {
	return o.HTTPTimeout
}
