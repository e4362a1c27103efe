package token

import (
	"errors"
	"sync"

	"github.com/TheQwirl/qwirl-session/sessions"
	"golang.org/x/oauth2"
)

// ErrNoAccessToken is returned by Store.Token when no session is held.
var ErrNoAccessToken = errors.New("no access token")

// Store holds the credentials of the current session in memory. It is the
// only place the access token lives on the client side; nothing is
// persisted by the store itself.
type Store struct {
	mu        sync.RWMutex
	creds     sessions.Credentials
	listeners map[int]func(authenticated bool)
	nextID    int
}

var _ oauth2.TokenSource = (*Store)(nil)

// NewStore returns a store seeded with creds. Pass the zero value for an
// empty store.
func NewStore(creds sessions.Credentials) *Store {
	return &Store{
		creds:     creds,
		listeners: make(map[int]func(bool)),
	}
}

func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.RefreshToken
}

func (s *Store) User() *sessions.UserSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.User
}

// Credentials returns a copy of the whole triple.
func (s *Store) Credentials() sessions.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Authenticated reports whether an access token is held.
func (s *Store) Authenticated() bool {
	return s.AccessToken() != ""
}

// SetSession replaces all three fields at once and notifies listeners.
func (s *Store) SetSession(creds sessions.Credentials) {
	s.mu.Lock()
	s.creds = creds
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notify(listeners, creds.AccessToken != "")
}

// SetUser replaces the cached user and keeps the tokens. It is a no-op
// when no session is held, so a late who-am-I answer cannot resurrect a
// cleared session.
func (s *Store) SetUser(user *sessions.UserSummary) {
	s.mu.Lock()
	if s.creds.AccessToken == "" && s.creds.RefreshToken == "" {
		s.mu.Unlock()
		return
	}
	s.creds.User = user
	creds := s.creds
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notify(listeners, creds.AccessToken != "")
}

// Clear drops the whole session and notifies listeners.
func (s *Store) Clear() {
	s.mu.Lock()
	s.creds = sessions.Credentials{}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notify(listeners, false)
}

// Subscribe registers fn to be called after every SetSession, SetUser or Clear.
// Listeners run on the mutating goroutine, outside the store lock.
func (s *Store) Subscribe(fn func(authenticated bool)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[int]func(bool))
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Token implements oauth2.TokenSource. The expiry comes from the access
// token's exp claim when it is a JWT and is left zero otherwise.
func (s *Store) Token() (*oauth2.Token, error) {
	creds := s.Credentials()
	if creds.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}
	if exp, ok := AccessTokenExpiry(creds.AccessToken); ok {
		tok.Expiry = exp
	}
	return tok, nil
}

func (s *Store) snapshotListeners() []func(bool) {
	out := make([]func(bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(bool), authenticated bool) {
	for _, fn := range listeners {
		fn(authenticated)
	}
}
