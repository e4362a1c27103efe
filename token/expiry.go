package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenExpiry reads the exp claim of a JWT access token without
// verifying its signature. The relay never trusts the claim for
// authorisation; it only uses it to refresh before the backend would reject
// the token. Opaque tokens report ok=false.
func AccessTokenExpiry(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether raw is a JWT whose exp is before now+leeway.
// Tokens without a readable expiry are never considered expired; the
// backend gets to decide with a 401.
func Expired(raw string, now time.Time, leeway time.Duration) bool {
	exp, ok := AccessTokenExpiry(raw)
	if !ok {
		return false
	}
	return !now.Add(leeway).Before(exp)
}
