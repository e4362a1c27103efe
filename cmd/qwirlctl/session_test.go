package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/TheQwirl/qwirl-session/auth"
	"github.com/TheQwirl/qwirl-session/identity"
	"github.com/TheQwirl/qwirl-session/internal/credstore"
	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/TheQwirl/qwirl-session/sessions"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+identity.PathRefreshToken, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.RefreshToken != "R" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"access_token":"A2","refresh_token":"R2"}`))
	})
	mux.HandleFunc("GET "+identity.PathMe, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"u1","name":"Ada"}`))
	})
	mux.HandleFunc("POST "+identity.PathLogout, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func seed(t *testing.T, opts *options, creds sessions.Credentials) {
	t.Helper()
	store, err := credstore.Open(opts.dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(opts.apiURL, creds))
	require.NoError(t, store.Close())
}

func load(t *testing.T, opts *options) sessions.Credentials {
	t.Helper()
	store, err := credstore.Open(opts.dbPath)
	require.NoError(t, err)
	defer store.Close()
	creds, err := store.Load(opts.apiURL)
	require.NoError(t, err)
	return creds
}

func TestOpenSession_SavesRotatedTokens(t *testing.T) {
	api := newAPI(t)
	opts := &options{apiURL: api.URL, dbPath: filepath.Join(t.TempDir(), "creds.db")}
	seed(t, opts, sessions.Credentials{AccessToken: "A1", RefreshToken: "R"})

	cs, err := openSession(opts)
	require.NoError(t, err)
	state, err := cs.Bootstrap(context.Background())
	require.NoError(t, err)
	require.Equal(t, auth.StatusAuthenticated, state.Status)
	require.NoError(t, cs.Close())

	creds := load(t, opts)
	assert.Equal(t, "A2", creds.AccessToken)
	assert.Equal(t, "R2", creds.RefreshToken)
	require.NotNil(t, creds.User)
	assert.Equal(t, "Ada", creds.User.Name)
}

func TestOpenSession_TerminalRefreshForgetsSession(t *testing.T) {
	api := newAPI(t)
	opts := &options{apiURL: api.URL, dbPath: filepath.Join(t.TempDir(), "creds.db")}
	seed(t, opts, sessions.Credentials{AccessToken: "A1", RefreshToken: "stale"})

	cs, err := openSession(opts)
	require.NoError(t, err)
	_, err = cs.Refresh(context.Background())
	require.Error(t, err)
	require.NoError(t, cs.Close())

	assert.True(t, load(t, opts).Empty())
}

func TestOpenSession_LogoutForgetsSession(t *testing.T) {
	api := newAPI(t)
	opts := &options{apiURL: api.URL, dbPath: filepath.Join(t.TempDir(), "creds.db")}
	seed(t, opts, sessions.Credentials{AccessToken: "A2", RefreshToken: "R2"})

	cs, err := openSession(opts)
	require.NoError(t, err)
	cs.Logout(context.Background())
	require.NoError(t, cs.Close())

	assert.True(t, load(t, opts).Empty())
}

func TestOpenSession_RequiresAPI(t *testing.T) {
	_, err := openSession(&options{dbPath: filepath.Join(t.TempDir(), "creds.db")})
	require.Error(t, err)
}

func TestCommands_SignedOut(t *testing.T) {
	api := newAPI(t)
	opts := &options{apiURL: api.URL, dbPath: filepath.Join(t.TempDir(), "creds.db")}

	for _, cmd := range []*cobra.Command{meCmd(opts), refreshCmd(opts)} {
		t.Run(cmd.Name(), func(t *testing.T) {
			cmd.SetArgs([]string{})
			err := cmd.Execute()
			require.ErrorIs(t, err, qerrors.ErrNotAuthenticated)
		})
	}
}
