// Package sessions defines the credentials that make up one Qwirl session:
// an access/refresh token pair plus a cached summary of the signed-in user.
package sessions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// UserSummary is the denormalised projection of the backend user kept next
// to the tokens so pages can render without a round trip. Fields the relay
// does not know about are kept in Extra and written back unchanged.
type UserSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Username       string `json:"username"`
	Avatar         string `json:"avatar"`
	PrimaryQwirlID string `json:"primary_qwirl_id"`

	Extra map[string]any `json:"-"`
}

var userSummaryFields = map[string]struct{}{
	"id": {}, "name": {}, "email": {}, "username": {}, "avatar": {}, "primary_qwirl_id": {},
}

type userSummaryAlias UserSummary

func (u UserSummary) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(userSummaryAlias(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]any, len(u.Extra)+len(userSummaryFields))
	for k, v := range u.Extra {
		merged[k] = v
	}
	var known map[string]any
	if err := json.Unmarshal(base, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON accepts the id fields as JSON strings or numbers; the
// backend is not consistent about which it sends.
func (u *UserSummary) UnmarshalJSON(data []byte) error {
	var alias userSummaryAlias
	wire := struct {
		*userSummaryAlias
		ID             json.RawMessage `json:"id"`
		PrimaryQwirlID json.RawMessage `json:"primary_qwirl_id"`
	}{userSummaryAlias: &alias}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var err error
	if alias.ID, err = flexibleID(wire.ID); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if alias.PrimaryQwirlID, err = flexibleID(wire.PrimaryQwirlID); err != nil {
		return fmt.Errorf("primary_qwirl_id: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range userSummaryFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		alias.Extra = raw
	}
	*u = UserSummary(alias)
	return nil
}

// flexibleID reads an identifier sent as a string, a number or null.
// Numbers keep their literal text, so 42 becomes "42".
func flexibleID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", raw)
	}
	return n.String(), nil
}

// Credentials is the access/refresh/user triple for one session.
type Credentials struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *UserSummary `json:"user"`
}

// Valid reports whether both tokens are present.
func (c Credentials) Valid() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Empty reports whether nothing of the session is left.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == "" && c.User == nil
}

// WithUserFallback returns c with User set to prev when c carries none.
// Refresh responses may omit the user; the cached one stays valid then.
func (c Credentials) WithUserFallback(prev *UserSummary) Credentials {
	if c.User == nil {
		c.User = prev
	}
	return c
}

// EncodeUser serialises a user summary for the "user" cookie.
func EncodeUser(u *UserSummary) (string, error) {
	if u == nil {
		return "", nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("encoding user: %w", err)
	}
	return url.QueryEscape(string(b)), nil
}

// DecodeUser parses a "user" cookie value. Both escaped and raw JSON values
// are accepted; an empty value yields nil.
func DecodeUser(value string) (*UserSummary, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if !strings.HasPrefix(value, "{") {
		unescaped, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("unescaping user cookie: %w", err)
		}
		value = unescaped
	}
	var u UserSummary
	if err := json.Unmarshal([]byte(value), &u); err != nil {
		return nil, fmt.Errorf("decoding user cookie: %w", err)
	}
	return &u, nil
}
