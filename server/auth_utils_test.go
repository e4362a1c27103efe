package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TheQwirl/qwirl-session/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandomString(t *testing.T) {
	a, err := generateRandomString(stateLength)
	require.NoError(t, err)
	b, err := generateRandomString(stateLength)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestLogin_StateGenerationFailure(t *testing.T) {
	orig := randRead
	randRead = func([]byte) (int, error) { return 0, errors.New("entropy unavailable") }
	t.Cleanup(func() { randRead = orig })

	_, err := generateRandomString(stateLength)
	require.Error(t, err)

	cfg, err := config.LoadFrom(map[string]string{
		"NEXT_PUBLIC_API_URL": "http://api.test",
		"APP_ENV":             "test",
		"GOOGLE_CLIENT_ID":    "client-123",
	})
	require.NoError(t, err)
	s, err := New(cfg)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.LoginHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteAuthLogin, nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, RouteLoginPage+"?error="+ErrorCodeInternalCallback, rec.Header().Get("Location"))
	assert.Empty(t, rec.Result().Cookies(), "no state cookie without a state")
}
