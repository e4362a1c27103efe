// Package refresh turns a refresh token into a new session, making sure
// concurrent callers share a single call to the identity backend.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/TheQwirl/qwirl-session/identity"
	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/TheQwirl/qwirl-session/internal/metrics"
	"github.com/TheQwirl/qwirl-session/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// flightKey is constant: there is one refresh slot per coordinator, so
// every caller joins whatever refresh is in flight.
const flightKey = "refresh"

const defaultTimeout = 10 * time.Second

// Backend performs the network refresh.
type Backend interface {
	Refresh(ctx context.Context, refreshToken string) (*sessions.Credentials, error)
}

// Persister owns the credentials the coordinator reads and replaces: the
// client-side token store, or the cookie jar of one relay response.
type Persister interface {
	Credentials() sessions.Credentials
	SetSession(creds sessions.Credentials)
	Clear()
}

// Coordinator deduplicates refreshes and applies their outcome to the
// persister. One coordinator serves one execution context.
type Coordinator struct {
	backend   Backend
	persister Persister
	group     singleflight.Group
	timeout   time.Duration
	metrics   *metrics.Metrics

	mu         sync.Mutex
	onTerminal []func(error)
	onRefresh  []func(sessions.Credentials)
}

type Option func(*Coordinator)

// WithTimeout bounds each backend call. Defaults to 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func New(backend Backend, persister Persister, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:   backend,
		persister: persister,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnTerminal registers fn to run after a terminal failure has cleared the
// session.
func (c *Coordinator) OnTerminal(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTerminal = append(c.onTerminal, fn)
}

// OnRefresh registers fn to run after a successful refresh has been
// persisted.
func (c *Coordinator) OnRefresh(fn func(creds sessions.Credentials)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRefresh = append(c.onRefresh, fn)
}

// Refresh returns a new session for refreshToken. Callers arriving while a
// refresh is in flight wait for it and receive the same result. The call
// to the backend is detached from ctx so one caller giving up does not
// fail the others; ctx only bounds how long this caller waits.
//
// Errors wrap ErrRefreshTerminal when the session was cleared, and
// ErrTransport when the backend could not be reached (the session is kept).
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (*sessions.Credentials, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.refresh(flightCtx, refreshToken)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.ObserveRefreshShared()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sessions.Credentials), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for refresh: %w", qerrors.ErrTransport, ctx.Err())
	}
}

// Terminate clears the session as if the backend had rejected the refresh
// token. Used when a request still fails authorisation after a successful
// refresh.
func (c *Coordinator) Terminate() {
	c.terminate(qerrors.ErrSessionTerminated)
}

func (c *Coordinator) refresh(ctx context.Context, refreshToken string) (*sessions.Credentials, error) {
	current := c.persister.Credentials()

	// The token was rotated by a refresh that finished before this caller
	// got here. Re-using the old one would be rejected and end the session.
	if refreshToken != "" && current.Valid() && current.RefreshToken != refreshToken {
		log.Debug().Msg("refresh token already rotated, reusing current session")
		return &current, nil
	}

	if refreshToken == "" {
		c.metrics.ObserveRefresh(metrics.RefreshTerminal)
		c.terminate(qerrors.ErrNoRefreshToken)
		return nil, fmt.Errorf("%w: %w", qerrors.ErrRefreshTerminal, qerrors.ErrNoRefreshToken)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	creds, err := c.backend.Refresh(ctx, refreshToken)
	if err == nil && (creds == nil || !creds.Valid()) {
		err = qerrors.ErrTokenMissingInResponse
	}
	if err != nil {
		switch {
		case isTerminal(err):
			c.metrics.ObserveRefresh(metrics.RefreshTerminal)
			log.Info().Err(err).Msg("refresh rejected, ending session")
			c.terminate(err)
			return nil, fmt.Errorf("%w: %w", qerrors.ErrRefreshTerminal, err)
		case isTransport(err):
			c.metrics.ObserveRefresh(metrics.RefreshTransport)
			log.Warn().Err(err).Msg("refresh failed to reach backend, keeping session")
			if !errors.Is(err, qerrors.ErrTransport) {
				err = fmt.Errorf("%w: %w", qerrors.ErrTransport, err)
			}
			return nil, err
		default:
			c.metrics.ObserveRefresh(metrics.RefreshError)
			log.Warn().Err(err).Msg("refresh failed, keeping session")
			return nil, err
		}
	}

	next := creds.WithUserFallback(current.User)
	c.persister.SetSession(next)
	c.metrics.ObserveRefresh(metrics.RefreshSuccess)
	log.Debug().Msg("session refreshed")

	for _, fn := range c.refreshListeners() {
		fn(next)
	}
	return &next, nil
}

func (c *Coordinator) terminate(cause error) {
	c.persister.Clear()
	for _, fn := range c.terminalListeners() {
		fn(cause)
	}
}

func (c *Coordinator) terminalListeners() []func(error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.onTerminal)
}

func (c *Coordinator) refreshListeners() []func(sessions.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.onRefresh)
}

// isTerminal: the backend rejected the refresh token (401/403) or answered
// 2xx with a body that is not a session.
func isTerminal(err error) bool {
	var se *identity.StatusError
	if errors.As(err, &se) {
		return se.Unauthorized()
	}
	return errors.Is(err, qerrors.ErrTokenMissingInResponse) ||
		errors.Is(err, qerrors.ErrUnexpectedResponse)
}

func isTransport(err error) bool {
	return identity.IsTransport(err) ||
		errors.Is(err, qerrors.ErrTransport) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
