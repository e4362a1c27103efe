package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/TheQwirl/qwirl-session/apiclient"
	"github.com/TheQwirl/qwirl-session/identity"
	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/TheQwirl/qwirl-session/token"
	"github.com/TheQwirl/qwirl-session/token/refresh"
	"github.com/rs/zerolog"
)

const (
	errorUpstreamUnavailable = "upstream_unavailable"
	errorNoRefreshToken      = "no_refresh_token"
	errorRefreshFailed       = "refresh_failed"
	errorNotConfigured       = "api_not_configured"

	backendLogoutTimeout = 5 * time.Second
)

// requestSession is the refresh coordinator and request pipeline of one
// relay request, both bound to that request's cookie jar.
type requestSession struct {
	jar         *cookieJar
	coordinator *refresh.Coordinator
	api         *apiclient.Client
}

func (s *Server) newRequestSession(r *http.Request) *requestSession {
	jar := newCookieJar(r, s.cookies)
	coordinator := refresh.New(s.identity, jar,
		refresh.WithTimeout(s.config.GetRefreshTimeout()),
		refresh.WithMetrics(s.metrics),
	)
	api := apiclient.New(s.identity.BaseURL(), jar, coordinator,
		apiclient.WithHTTPClient(s.httpClient),
		apiclient.WithMetrics(s.metrics),
	)
	return &requestSession{jar: jar, coordinator: coordinator, api: api}
}

// MeHandler is the session probe used on page load. An expired access
// token is refreshed before asking the API who the user is, and the
// pipeline refreshes once more on a 401. A session the backend rejected is
// cleared; an unreachable backend leaves the cookies alone and answers 502.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())
		if s.identity == nil {
			writeJSON(w, http.StatusInternalServerError, meResponse{Error: errorNotConfigured})
			return
		}

		rs := s.newRequestSession(r)
		creds := rs.jar.Credentials()
		if creds.AccessToken == "" && creds.RefreshToken == "" {
			if !creds.Empty() {
				rs.jar.Clear()
				rs.jar.flush(w)
			}
			writeJSON(w, http.StatusUnauthorized, meResponse{})
			return
		}

		if creds.RefreshToken != "" &&
			(creds.AccessToken == "" || token.Expired(creds.AccessToken, s.nowTime(), s.config.GetExpiryLeeway())) {
			if _, err := rs.coordinator.Refresh(r.Context(), creds.RefreshToken); err != nil {
				s.writeMeFailure(w, r, rs.jar, err)
				return
			}
		}

		raw, err := rs.api.Raw(r.Context(), http.MethodGet, identity.PathMe)
		if err != nil {
			s.writeMeFailure(w, r, rs.jar, err)
			return
		}
		user, err := identity.ParseUser(raw)
		if err != nil {
			logger.Warn().Err(err).Msg("unreadable who-am-I response")
			rs.jar.flush(w)
			writeJSON(w, http.StatusBadGateway, meResponse{Error: errorUpstreamUnavailable})
			return
		}

		rs.jar.SetUser(user)
		rs.jar.flush(w)
		writeJSON(w, http.StatusOK, meResponse{User: user, IsAuthenticated: true})
	}
}

func (s *Server) writeMeFailure(w http.ResponseWriter, r *http.Request, jar *cookieJar, err error) {
	jar.flush(w)
	if jar.Cleared() {
		zerolog.Ctx(r.Context()).Info().Err(err).Msg("session rejected by backend, cookies cleared")
		writeJSON(w, http.StatusUnauthorized, meResponse{})
		return
	}
	zerolog.Ctx(r.Context()).Warn().Err(err).Bool("transport", errors.Is(err, qerrors.ErrTransport)).Msg("who-am-I failed, keeping session")
	writeJSON(w, http.StatusBadGateway, meResponse{Error: errorUpstreamUnavailable})
}

// RefreshHandler renews the session held in the cookies on behalf of the
// browser.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.identity == nil {
			writeJSON(w, http.StatusInternalServerError, successResponse{Error: errorNotConfigured})
			return
		}
		rs := s.newRequestSession(r)
		refreshToken := rs.jar.Credentials().RefreshToken
		if refreshToken == "" {
			writeJSON(w, http.StatusUnauthorized, successResponse{Error: errorNoRefreshToken})
			return
		}

		creds, err := rs.coordinator.Refresh(r.Context(), refreshToken)
		rs.jar.flush(w)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, successResponse{Success: true, User: creds.User})
		case rs.jar.Cleared():
			writeJSON(w, http.StatusUnauthorized, successResponse{Error: errorRefreshFailed})
		default:
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("refresh failed, keeping session")
			writeJSON(w, http.StatusBadGateway, successResponse{Error: errorUpstreamUnavailable})
		}
	}
}

// LogoutHandler expires all three session cookies in one response and then
// tells the backend, best effort.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jar := newCookieJar(r, s.cookies)
		accessToken := jar.AccessToken()
		jar.Clear()
		jar.flush(w)

		if s.identity != nil && accessToken != "" {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), backendLogoutTimeout)
			defer cancel()
			if err := s.identity.Logout(ctx, accessToken); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("backend logout failed")
			}
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}
