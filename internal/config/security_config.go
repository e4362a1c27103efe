package config

import "time"

type SecurityConfig interface {
	GetSecureCookies() bool
	GetExpiryLeeway() time.Duration
}

type Security struct {
	ExpiryLeeway time.Duration `env:"TOKEN_EXPIRY_LEEWAY" envDefault:"30s"`
}

var _ SecurityConfig = mainConfig{}

// GetSecureCookies is true only in production so local development over
// plain http keeps working.
func (c mainConfig) GetSecureCookies() bool {
	return c.IsProduction()
}

func (s Security) GetExpiryLeeway() time.Duration {
	return s.ExpiryLeeway
}
