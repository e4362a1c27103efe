package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/TheQwirl/qwirl-session/apiclient"
	"github.com/TheQwirl/qwirl-session/identity"
	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/TheQwirl/qwirl-session/internal/metrics"
	"github.com/TheQwirl/qwirl-session/sessions"
	"github.com/TheQwirl/qwirl-session/token"
	"github.com/TheQwirl/qwirl-session/token/refresh"
	"github.com/rs/zerolog/log"
)

const defaultExpiryLeeway = 30 * time.Second

// Session is one client execution context: a single token store, refresh
// coordinator, request pipeline and lifecycle controller that share the
// same credentials.
type Session struct {
	store       *token.Store
	identity    *identity.Client
	coordinator *refresh.Coordinator
	api         *apiclient.Client
	controller  *Controller

	leeway  time.Duration
	nowTime func() time.Time
}

type sessionOptions struct {
	httpClient     *http.Client
	metrics        *metrics.Metrics
	refreshTimeout time.Duration
	leeway         time.Duration
	nowTime        func() time.Time
}

type SessionOption func(*sessionOptions)

func WithHTTPClient(hc *http.Client) SessionOption {
	return func(o *sessionOptions) { o.httpClient = hc }
}

func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(o *sessionOptions) { o.metrics = m }
}

func WithRefreshTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) { o.refreshTimeout = d }
}

// WithExpiryLeeway sets how close to its exp an access token is refreshed
// during Bootstrap.
func WithExpiryLeeway(d time.Duration) SessionOption {
	return func(o *sessionOptions) { o.leeway = d }
}

// WithNowTime sets the clock (primarily for testing)
func WithNowTime(now func() time.Time) SessionOption {
	return func(o *sessionOptions) { o.nowTime = now }
}

// NewSession builds a session against the API at baseURL, seeded with
// creds (the zero value for a signed-out client). The lifecycle starts in
// Loading until Bootstrap or Login resolves it.
func NewSession(baseURL string, creds sessions.Credentials, opts ...SessionOption) *Session {
	o := sessionOptions{leeway: defaultExpiryLeeway, nowTime: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		store:      token.NewStore(creds),
		identity:   identity.NewClient(baseURL, o.httpClient),
		controller: NewController(),
		leeway:     o.leeway,
		nowTime:    o.nowTime,
	}
	s.coordinator = refresh.New(s.identity, s.store,
		refresh.WithTimeout(o.refreshTimeout),
		refresh.WithMetrics(o.metrics),
	)
	s.api = apiclient.New(baseURL, s.store, s.coordinator,
		apiclient.WithHTTPClient(o.httpClient),
		apiclient.WithMetrics(o.metrics),
	)

	s.coordinator.OnTerminal(func(err error) {
		kind := EventRefreshTerminal
		if errors.Is(err, qerrors.ErrSessionTerminated) {
			kind = EventRetryUnauthorized
		}
		s.controller.Apply(Event{Kind: kind})
	})
	s.coordinator.OnRefresh(func(creds sessions.Credentials) {
		s.controller.Apply(Event{Kind: EventRefreshed, User: creds.User})
	})
	return s
}

// API is the authorized request pipeline bound to this session.
func (s *Session) API() *apiclient.Client { return s.api }

// Store exposes the token store, e.g. to persist credentials on change.
func (s *Session) Store() *token.Store { return s.store }

func (s *Session) State() State { return s.controller.State() }

func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	return s.controller.Subscribe(fn)
}

// Bootstrap resolves the Loading state with a who-am-I call using the
// credentials the session was seeded with. An access token that is
// missing or about to expire is refreshed first when a refresh token is
// held. Transport failures leave the state in Loading and are returned so
// the caller can try again.
func (s *Session) Bootstrap(ctx context.Context) (State, error) {
	creds := s.store.Credentials()
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		state, _ := s.controller.Apply(Event{Kind: EventWhoAmIFailed})
		return state, nil
	}

	if creds.RefreshToken != "" &&
		(creds.AccessToken == "" || token.Expired(creds.AccessToken, s.nowTime(), s.leeway)) {
		log.Debug().Msg("access token missing or expiring, refreshing before who-am-I")
		if _, err := s.coordinator.Refresh(ctx, creds.RefreshToken); err != nil {
			return s.resolveFailure(err)
		}
	}

	user, err := s.Me(ctx)
	if err != nil {
		return s.resolveFailure(err)
	}
	state, _ := s.controller.Apply(Event{Kind: EventWhoAmISucceeded, User: user})
	return state, nil
}

// resolveFailure settles Loading after a failed bootstrap step. Only a
// session that is gone moves to Unauthenticated.
func (s *Session) resolveFailure(err error) (State, error) {
	if s.store.Credentials().Empty() {
		state, _ := s.controller.Apply(Event{Kind: EventWhoAmIFailed})
		return state, nil
	}
	return s.controller.State(), err
}

// Me fetches the signed-in user through the pipeline and caches it next to
// the tokens.
func (s *Session) Me(ctx context.Context) (*sessions.UserSummary, error) {
	raw, err := s.api.Raw(ctx, http.MethodGet, identity.PathMe)
	if err != nil {
		return nil, err
	}
	user, err := identity.ParseUser(raw)
	if err != nil {
		return nil, err
	}
	s.store.SetUser(user)
	return user, nil
}

// Refresh renews the session now, sharing any refresh already in flight.
func (s *Session) Refresh(ctx context.Context) (*sessions.Credentials, error) {
	return s.coordinator.Refresh(ctx, s.store.RefreshToken())
}

// Login installs a freshly issued session. When creds carry no user it is
// fetched before the state turns Authenticated.
func (s *Session) Login(ctx context.Context, creds sessions.Credentials) error {
	if !creds.Valid() {
		return qerrors.ErrTokenMissingInResponse
	}
	s.store.SetSession(creds)

	user := creds.User
	if user == nil {
		var err error
		if user, err = s.Me(ctx); err != nil {
			return qerrors.Wrapf(err, "fetching user after login")
		}
	}
	s.controller.Apply(Event{Kind: EventLoggedIn, User: user})
	return nil
}

// Exchange completes an OAuth callback: the backend redeems the code in
// callbackURL once, and the resulting session is installed.
func (s *Session) Exchange(ctx context.Context, callbackURL string) error {
	creds, err := s.identity.ExchangeCode(ctx, callbackURL)
	if err != nil {
		return err
	}
	return s.Login(ctx, *creds)
}

// Logout clears the session locally first, then tells the backend. The
// backend call is best effort; its failure is logged and not returned.
func (s *Session) Logout(ctx context.Context) {
	accessToken := s.store.AccessToken()
	s.store.Clear()
	s.controller.Apply(Event{Kind: EventLoggedOut})

	if accessToken == "" {
		return
	}
	if err := s.identity.Logout(ctx, accessToken); err != nil {
		log.Warn().Err(err).Msg("backend logout failed")
	}
}
