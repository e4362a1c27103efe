package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/TheQwirl/qwirl-session/identity"
	"github.com/TheQwirl/qwirl-session/internal/config"
	"github.com/TheQwirl/qwirl-session/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

type Server struct {
	env        string // Environment (e.g., "DEV", "production")
	mux        *http.ServeMux
	routes     []string
	config     config.Config
	cookies    cookieSettings
	httpClient *http.Client
	identity   *identity.Client
	metrics    *metrics.Metrics

	oauthConfig     *oauth2.Config
	oauthConfigLock sync.RWMutex

	nowTime func() time.Time
}

type Option func(*Server)

// WithHTTPClient sets the client used for the Qwirl API and OIDC discovery.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Server) {
		if hc != nil {
			s.httpClient = hc
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithNowTime sets the clock (primarily for testing)
func WithNowTime(now func() time.Time) Option {
	return func(s *Server) {
		s.nowTime = now
	}
}

func New(cfg config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[Server New] config is required")
	}

	s := &Server{
		env:        cfg.GetEnv(),
		mux:        http.NewServeMux(),
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.GetHTTPTimeout()},
		nowTime:    time.Now,
		cookies: cookieSettings{
			secure:     cfg.GetSecureCookies(),
			accessTTL:  cfg.GetAccessCookieTTL(),
			refreshTTL: cfg.GetRefreshCookieTTL(),
			userTTL:    cfg.GetUserCookieTTL(),
			stateTTL:   cfg.GetStateCookieTTL(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if apiURL := cfg.GetAPIURL(); apiURL != "" {
		s.identity = identity.NewClient(apiURL, s.httpClient)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Debug().Msgf("[%s] %s", color+paddedMethod+ResetColor, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

// externalURL rebuilds the URL the browser used for r, based on PUBLIC_URL
// when configured.
func (s *Server) externalURL(r *http.Request) string {
	base := s.config.GetPublicURL()
	if base == "" {
		base = getScheme(r) + "://" + r.Host
	}
	return strings.TrimRight(base, "/") + r.URL.RequestURI()
}
