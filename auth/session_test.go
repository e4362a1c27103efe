package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheQwirl/qwirl-session/apiclient"
	"github.com/TheQwirl/qwirl-session/auth"
	"github.com/TheQwirl/qwirl-session/identity"
	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/TheQwirl/qwirl-session/sessions"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend accepts one access token at a time; refreshing "R" rotates the
// session to A2/R2.
type backend struct {
	srv *httptest.Server

	mu            sync.Mutex
	validToken    string
	refreshStatus int
	denyAll       bool
	holdDenied    func()

	refreshCalls atomic.Int32
	meCalls      atomic.Int32
	logoutCalls  atomic.Int32
	logoutToken  atomic.Value
}

func newBackend(t *testing.T, validToken string) *backend {
	t.Helper()
	b := &backend{validToken: validToken, refreshStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+identity.PathRefreshToken, func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.refreshStatus != http.StatusOK {
			http.Error(w, `{"detail":"invalid refresh token"}`, b.refreshStatus)
			return
		}
		if req.RefreshToken != "R" {
			http.Error(w, `{"detail":"invalid refresh token"}`, http.StatusUnauthorized)
			return
		}
		b.validToken = "A2"
		w.Write([]byte(`{"access_token":"A2","refresh_token":"R2"}`))
	})
	mux.HandleFunc("GET "+identity.PathMe, func(w http.ResponseWriter, r *http.Request) {
		b.meCalls.Add(1)
		if !b.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":{"id":"u1","name":"Ada","primary_qwirl_id":"q1"}}`))
	})
	mux.HandleFunc("GET /feed", func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			if b.holdDenied != nil {
				b.holdDenied()
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"items":[]}`))
	})
	mux.HandleFunc("POST "+identity.PathLogout, func(w http.ResponseWriter, r *http.Request) {
		b.logoutCalls.Add(1)
		b.logoutToken.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET "+identity.PathAuthCallback, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") != "https://relay.test/api/auth/callback?code=good" {
			http.Error(w, `{"detail":"bad code"}`, http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.validToken = "A"
		b.mu.Unlock()
		w.Write([]byte(`{"access_token":"A","refresh_token":"R","user":{"id":"u1","name":"Ada"}}`))
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) authorized(r *http.Request) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.denyAll && r.Header.Get("Authorization") == "Bearer "+b.validToken
}

func (b *backend) revoke(next string) {
	b.mu.Lock()
	b.validToken = next
	b.mu.Unlock()
}

func (b *backend) session(creds sessions.Credentials, opts ...auth.SessionOption) *auth.Session {
	return auth.NewSession(b.srv.URL, creds, append([]auth.SessionOption{auth.WithHTTPClient(b.srv.Client())}, opts...)...)
}

func recordStatuses(s *auth.Session) func() []auth.Status {
	var mu sync.Mutex
	var seen []auth.Status
	s.Subscribe(func(st auth.State) {
		mu.Lock()
		seen = append(seen, st.Status)
		mu.Unlock()
	})
	return func() []auth.Status {
		mu.Lock()
		defer mu.Unlock()
		return append([]auth.Status(nil), seen...)
	}
}

func jwtExpiringAt(t *testing.T, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("valid cookie token", func(t *testing.T) {
		b := newBackend(t, "A")
		s := b.session(sessions.Credentials{AccessToken: "A", RefreshToken: "R"})
		require.Equal(t, auth.StatusLoading, s.State().Status)

		state, err := s.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, auth.StatusAuthenticated, state.Status)
		assert.Equal(t, "q1", state.User.PrimaryQwirlID)
		assert.Equal(t, "u1", s.Store().User().ID)
		assert.Zero(t, b.refreshCalls.Load())
	})

	t.Run("no credentials", func(t *testing.T) {
		b := newBackend(t, "A")
		s := b.session(sessions.Credentials{})

		state, err := s.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, auth.StatusUnauthenticated, state.Status)
		assert.Zero(t, b.meCalls.Load())
	})

	t.Run("expired access token is refreshed first", func(t *testing.T) {
		b := newBackend(t, "A2")
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		expired := jwtExpiringAt(t, now.Add(10*time.Second))
		s := b.session(sessions.Credentials{AccessToken: expired, RefreshToken: "R"},
			auth.WithNowTime(func() time.Time { return now }),
			auth.WithExpiryLeeway(30*time.Second))

		state, err := s.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, auth.StatusAuthenticated, state.Status)
		assert.EqualValues(t, 1, b.refreshCalls.Load())
		assert.EqualValues(t, 1, b.meCalls.Load())
		assert.Equal(t, "A2", s.Store().AccessToken())
	})

	t.Run("refresh token only", func(t *testing.T) {
		b := newBackend(t, "A2")
		s := b.session(sessions.Credentials{RefreshToken: "R"})

		state, err := s.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, auth.StatusAuthenticated, state.Status)
		assert.Equal(t, "R2", s.Store().RefreshToken())
	})

	t.Run("rejected refresh token", func(t *testing.T) {
		b := newBackend(t, "A2")
		b.refreshStatus = http.StatusForbidden
		s := b.session(sessions.Credentials{RefreshToken: "R"})

		state, err := s.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, auth.StatusUnauthenticated, state.Status)
		assert.True(t, s.Store().Credentials().Empty())
	})

	t.Run("stale access token without refresh token", func(t *testing.T) {
		b := newBackend(t, "other")
		s := b.session(sessions.Credentials{AccessToken: "A"})

		state, err := s.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, auth.StatusUnauthenticated, state.Status)
		assert.Zero(t, b.refreshCalls.Load())
	})

	t.Run("backend unreachable stays loading", func(t *testing.T) {
		b := newBackend(t, "A")
		b.srv.Close()
		creds := sessions.Credentials{AccessToken: "A", RefreshToken: "R"}
		s := b.session(creds)

		state, err := s.Bootstrap(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, qerrors.ErrTransport)
		assert.Equal(t, auth.StatusLoading, state.Status)
		assert.Equal(t, creds, s.Store().Credentials())
	})
}

func TestConcurrentExpiryStaysAuthenticated(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, "A")
	s := b.session(sessions.Credentials{AccessToken: "A", RefreshToken: "R"})
	_, err := s.Bootstrap(ctx)
	require.NoError(t, err)
	statuses := recordStatuses(s)

	// A expires server side; four requests hit the wall together
	b.revoke("A2")
	const parallel = 4
	var arrived sync.WaitGroup
	arrived.Add(parallel)
	b.holdDenied = func() {
		arrived.Done()
		arrived.Wait()
	}

	var wg sync.WaitGroup
	errs := make(chan error, parallel)
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.API().GetJSON(ctx, "/feed", nil)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, b.refreshCalls.Load())
	assert.Equal(t, "A2", s.Store().AccessToken())
	assert.Equal(t, "R2", s.Store().RefreshToken())
	assert.Equal(t, auth.StatusAuthenticated, s.State().Status)
	assert.NotContains(t, statuses(), auth.StatusLoading)
	assert.NotContains(t, statuses(), auth.StatusUnauthenticated)
}

func TestForbiddenRefreshSignsOut(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, "A")
	s := b.session(sessions.Credentials{AccessToken: "A", RefreshToken: "R"})
	_, err := s.Bootstrap(ctx)
	require.NoError(t, err)

	b.revoke("A2")
	b.mu.Lock()
	b.refreshStatus = http.StatusForbidden
	b.mu.Unlock()

	err = s.API().GetJSON(ctx, "/feed", nil)
	var apiErr *apiclient.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiclient.KindUnauthorized, apiErr.Kind)
	assert.Equal(t, auth.StatusUnauthenticated, s.State().Status)
	assert.True(t, s.Store().Credentials().Empty())

	// later calls fail without hammering the refresh endpoint
	err = s.API().GetJSON(ctx, "/feed", nil)
	require.Error(t, err)
	assert.EqualValues(t, 1, b.refreshCalls.Load())
	assert.Equal(t, auth.StatusUnauthenticated, s.State().Status)
}

func TestRetriedUnauthorizedSignsOut(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, "A")
	s := b.session(sessions.Credentials{AccessToken: "A", RefreshToken: "R"})
	_, err := s.Bootstrap(ctx)
	require.NoError(t, err)

	b.mu.Lock()
	b.denyAll = true
	b.mu.Unlock()

	err = s.API().GetJSON(ctx, "/feed", nil)
	require.ErrorIs(t, err, qerrors.ErrSessionTerminated)
	assert.Equal(t, auth.StatusUnauthenticated, s.State().Status)
	assert.True(t, s.Store().Credentials().Empty())
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("with user", func(t *testing.T) {
		b := newBackend(t, "A")
		s := b.session(sessions.Credentials{})
		_, _ = s.Bootstrap(ctx)

		require.NoError(t, s.Login(ctx, sessions.Credentials{AccessToken: "A", RefreshToken: "R", User: ada}))
		assert.Equal(t, auth.State{Status: auth.StatusAuthenticated, User: ada}, s.State())
		assert.Zero(t, b.meCalls.Load())
	})

	t.Run("fetches user when missing", func(t *testing.T) {
		b := newBackend(t, "A")
		s := b.session(sessions.Credentials{})

		require.NoError(t, s.Login(ctx, sessions.Credentials{AccessToken: "A", RefreshToken: "R"}))
		assert.Equal(t, "Ada", s.State().User.Name)
		assert.EqualValues(t, 1, b.meCalls.Load())
	})

	t.Run("incomplete credentials", func(t *testing.T) {
		b := newBackend(t, "A")
		s := b.session(sessions.Credentials{})

		err := s.Login(ctx, sessions.Credentials{AccessToken: "A"})
		require.ErrorIs(t, err, qerrors.ErrTokenMissingInResponse)
		assert.Equal(t, auth.StatusLoading, s.State().Status)
	})
}

func TestExchange(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, "")
	s := b.session(sessions.Credentials{})

	err := s.Exchange(ctx, "https://relay.test/api/auth/callback?code=bad")
	var se *identity.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)

	require.NoError(t, s.Exchange(ctx, "https://relay.test/api/auth/callback?code=good"))
	assert.True(t, s.State().Authenticated())
	assert.Equal(t, "A", s.Store().AccessToken())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, "A")
	s := b.session(sessions.Credentials{AccessToken: "A", RefreshToken: "R"})
	_, err := s.Bootstrap(ctx)
	require.NoError(t, err)

	s.Logout(ctx)

	assert.Equal(t, auth.StatusUnauthenticated, s.State().Status)
	assert.True(t, s.Store().Credentials().Empty())
	assert.EqualValues(t, 1, b.logoutCalls.Load())
	assert.Equal(t, "Bearer A", b.logoutToken.Load())

	t.Run("backend down still signs out", func(t *testing.T) {
		b := newBackend(t, "A")
		s := b.session(sessions.Credentials{AccessToken: "A", RefreshToken: "R"})
		_, err := s.Bootstrap(ctx)
		require.NoError(t, err)
		b.srv.Close()

		s.Logout(ctx)
		assert.Equal(t, auth.StatusUnauthenticated, s.State().Status)
		assert.True(t, s.Store().Credentials().Empty())
	})
}
