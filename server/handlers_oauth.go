package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/TheQwirl/qwirl-session/identity"
	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// LoginHandler starts the provider flow: a random state goes into a short
// lived cookie and the browser is sent to the authorisation endpoint.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.GetClientID() == "" {
			zerolog.Ctx(r.Context()).Error().Msg("login requested but GOOGLE_CLIENT_ID is not configured")
			redirectWithError(w, r, RouteLoginPage, ErrorCodeInternalCallback)
			return
		}

		state, err := generateRandomString(stateLength)
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("generating oauth state")
			redirectWithError(w, r, RouteLoginPage, ErrorCodeInternalCallback)
			return
		}
		s.cookies.setState(w, state)

		cfg := s.getOAuthConfig(r.Context())
		http.Redirect(w, r, cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusFound)
	}
}

// CallbackHandler is the OAuth redirect target. The Qwirl API redeems the
// code (once, never retried) and the resulting session is written as the
// three session cookies.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())
		query := r.URL.Query()

		fail := func(code string, err error) {
			s.metrics.ObserveCallback(code)
			logger.Warn().Err(err).Str("error_code", code).Msg("oauth callback failed")
			redirectWithError(w, r, RouteLoginPage, code)
		}

		expectedState := ""
		if c, err := r.Cookie(CookieOAuthState); err == nil {
			expectedState = c.Value
			s.cookies.clearState(w)
		}

		if providerErr := query.Get("error"); providerErr != "" {
			fail(ErrorCodeInvalidCredentials, qerrors.Wrapf(qerrors.ErrInvalidCredentials, "provider returned %s", providerErr))
			return
		}
		code := query.Get("code")
		if code == "" {
			fail(ErrorCodeAuthorizationCodeMissing, qerrors.ErrMissingCode)
			return
		}
		if expectedState != "" && query.Get("state") != expectedState {
			fail(ErrorCodeInvalidCredentials, fmt.Errorf("%w: %w", qerrors.ErrInvalidCredentials, qerrors.ErrStateMismatch))
			return
		}
		if s.identity == nil {
			fail(ErrorCodeInternalCallback, qerrors.ErrMissingBaseURL)
			return
		}

		creds, err := s.identity.ExchangeCode(r.Context(), s.externalURL(r))
		if err != nil {
			fail(callbackErrorCode(err), err)
			return
		}

		jar := newCookieJar(r, s.cookies)
		jar.SetSession(*creds)
		jar.flush(w)

		s.metrics.ObserveCallback("success")
		logger.Info().Bool("user_cached", creds.User != nil).Msg("session created from oauth callback")
		http.Redirect(w, r, RouteFeed, http.StatusSeeOther)
	}
}

func callbackErrorCode(err error) string {
	var se *identity.StatusError
	switch {
	case errors.Is(err, qerrors.ErrInvalidCredentials):
		return ErrorCodeInvalidCredentials
	case errors.As(err, &se):
		return ErrorCodeTokenExchangeFailed
	case errors.Is(err, qerrors.ErrTokenMissingInResponse):
		return ErrorCodeTokenMissing
	default:
		return ErrorCodeInternalCallback
	}
}
