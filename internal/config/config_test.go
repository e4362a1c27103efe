package config_test

import (
	"testing"
	"time"

	"github.com/TheQwirl/qwirl-session/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c, err := config.LoadFrom(map[string]string{
			"NEXT_PUBLIC_API_URL": "https://api.qwirl.test/",
		})
		require.NoError(t, err)

		require.Equal(t, "https://api.qwirl.test", c.GetAPIURL())
		require.Equal(t, ":8080", c.GetPort())
		require.Equal(t, "DEV", c.GetEnv())
		require.False(t, c.IsProduction())
		require.False(t, c.GetSecureCookies())
		require.Equal(t, 24*time.Hour, c.GetAccessCookieTTL())
		require.Equal(t, 7*24*time.Hour, c.GetRefreshCookieTTL())
		require.Equal(t, c.GetRefreshCookieTTL(), c.GetUserCookieTTL())
		require.Equal(t, 30*time.Second, c.GetExpiryLeeway())
		require.Equal(t, "https://accounts.google.com", c.GetOIDCIssuer())
		require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("http://localhost:3000"))
	})

	t.Run("missing api url is fatal", func(t *testing.T) {
		_, err := config.LoadFrom(map[string]string{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "NEXT_PUBLIC_API_URL")
	})

	t.Run("relative api url is rejected", func(t *testing.T) {
		_, err := config.LoadFrom(map[string]string{"NEXT_PUBLIC_API_URL": "/api"})
		require.Error(t, err)
	})

	t.Run("production", func(t *testing.T) {
		c, err := config.LoadFrom(map[string]string{
			"NEXT_PUBLIC_API_URL": "https://api.qwirl.test",
			"APP_ENV":             "production",
			"PORT":                "9000",
			"ALLOWED_ORIGINS":     "https://qwirl.app, https://www.qwirl.app",
			"ACCESS_COOKIE_TTL":   "12h",
		})
		require.NoError(t, err)

		require.True(t, c.IsProduction())
		require.True(t, c.GetSecureCookies())
		require.Equal(t, ":9000", c.GetPort())
		require.Equal(t, 12*time.Hour, c.GetAccessCookieTTL())
		origins := c.GetAllowedOrigins()
		require.True(t, origins.IsAllowedOrigin("https://qwirl.app"))
		require.True(t, origins.IsAllowedOrigin("https://www.qwirl.app"))
		require.Equal(t, "https://qwirl.app, https://www.qwirl.app", origins.String())
	})
}
