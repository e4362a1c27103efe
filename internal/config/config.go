// Package config loads the relay configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	CorsConfig
	OAuthConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetAPIURL() string
	GetPublicURL() string
	IsProduction() bool
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	OAuth
	Security
}

var _ Config = mainConfig{}

// Load reads .env (if present) and then the process environment.
// A missing NEXT_PUBLIC_API_URL is an error.
func Load() (Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom builds a Config from the given variables only. Useful in tests.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	c := mainConfig{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return c, nil
}

func (c *mainConfig) validate() error {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if c.APIURL == "" {
		return fmt.Errorf("%s is required", apiURLVar)
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", apiURLVar, c.APIURL)
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	if c.AccessCookieTTL <= 0 || c.RefreshCookieTTL <= 0 {
		return fmt.Errorf("cookie lifetimes must be positive")
	}
	return nil
}
