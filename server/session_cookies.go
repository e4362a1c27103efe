package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/TheQwirl/qwirl-session/sessions"
	"github.com/rs/zerolog/log"
)

const (
	CookieAccessToken  = "access-token"
	CookieRefreshToken = "refresh-token"
	CookieUser         = "user"
	CookieOAuthState   = "oauth-state"
)

// cookieSettings are the attributes shared by every session cookie.
type cookieSettings struct {
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
	userTTL    time.Duration
	stateTTL   time.Duration
}

func (cs cookieSettings) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   cs.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	}
}

// expired is written instead of deleting: empty value, Max-Age=0.
func (cs cookieSettings) expired(name string) *http.Cookie {
	c := cs.cookie(name, "", 0)
	c.MaxAge = -1
	return c
}

// cookieJar is the credential state of one relay request. It reads the
// session cookies once and collects changes until flush writes them to the
// response; nothing is shared between requests.
type cookieJar struct {
	settings cookieSettings

	mu      sync.Mutex
	creds   sessions.Credentials
	dirty   bool
	cleared bool
}

func newCookieJar(r *http.Request, settings cookieSettings) *cookieJar {
	j := &cookieJar{settings: settings}
	if c, err := r.Cookie(CookieAccessToken); err == nil {
		j.creds.AccessToken = c.Value
	}
	if c, err := r.Cookie(CookieRefreshToken); err == nil {
		j.creds.RefreshToken = c.Value
	}
	if c, err := r.Cookie(CookieUser); err == nil {
		user, err := sessions.DecodeUser(c.Value)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring unreadable user cookie")
		}
		j.creds.User = user
	}
	return j
}

func (j *cookieJar) Credentials() sessions.Credentials {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.creds
}

func (j *cookieJar) AccessToken() string {
	return j.Credentials().AccessToken
}

func (j *cookieJar) SetSession(creds sessions.Credentials) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.creds = creds
	j.dirty = true
	j.cleared = false
}

// SetUser replaces the cached user when a session is still held.
func (j *cookieJar) SetUser(user *sessions.UserSummary) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cleared || (j.creds.AccessToken == "" && j.creds.RefreshToken == "") {
		return
	}
	j.creds.User = user
	j.dirty = true
}

func (j *cookieJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.creds = sessions.Credentials{}
	j.dirty = true
	j.cleared = true
}

func (j *cookieJar) Cleared() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cleared
}

// flush writes the pending state as Set-Cookie headers. All three session
// cookies are always written together. It must run before the status line.
func (j *cookieJar) flush(w http.ResponseWriter) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.dirty {
		return
	}
	j.dirty = false

	if j.cleared {
		j.settings.clearSession(w)
		return
	}

	userValue, err := sessions.EncodeUser(j.creds.User)
	if err != nil {
		log.Warn().Err(err).Msg("dropping user cookie")
		userValue = ""
	}
	http.SetCookie(w, j.settings.cookie(CookieAccessToken, j.creds.AccessToken, j.settings.accessTTL))
	http.SetCookie(w, j.settings.cookie(CookieRefreshToken, j.creds.RefreshToken, j.settings.refreshTTL))
	if userValue == "" {
		http.SetCookie(w, j.settings.expired(CookieUser))
	} else {
		http.SetCookie(w, j.settings.cookie(CookieUser, userValue, j.settings.userTTL))
	}
}

func (cs cookieSettings) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, cs.expired(CookieAccessToken))
	http.SetCookie(w, cs.expired(CookieRefreshToken))
	http.SetCookie(w, cs.expired(CookieUser))
}

func (cs cookieSettings) setState(w http.ResponseWriter, state string) {
	http.SetCookie(w, cs.cookie(CookieOAuthState, state, cs.stateTTL))
}

func (cs cookieSettings) clearState(w http.ResponseWriter) {
	http.SetCookie(w, cs.expired(CookieOAuthState))
}
