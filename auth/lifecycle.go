// Package auth holds the session lifecycle state machine and the client-side
// Session that wires a token store, refresh coordinator and request pipeline
// around it.
package auth

import (
	"sync"

	"github.com/TheQwirl/qwirl-session/sessions"
	"github.com/rs/zerolog/log"
)

type Status int

const (
	StatusLoading Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is what subscribers observe. User is set only when Authenticated.
type State struct {
	Status Status
	User   *sessions.UserSummary
}

func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

type EventKind int

const (
	EventWhoAmISucceeded EventKind = iota + 1
	EventWhoAmIFailed
	EventLoggedIn
	EventLoggedOut
	EventRefreshed
	EventRefreshTerminal
	EventRetryUnauthorized
)

var eventNames = map[EventKind]string{
	EventWhoAmISucceeded:   "whoami_succeeded",
	EventWhoAmIFailed:      "whoami_failed",
	EventLoggedIn:          "logged_in",
	EventLoggedOut:         "logged_out",
	EventRefreshed:         "refreshed",
	EventRefreshTerminal:   "refresh_terminal",
	EventRetryUnauthorized: "retry_unauthorized",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one input to the state machine. User accompanies the events that
// establish or refresh a session.
type Event struct {
	Kind EventKind
	User *sessions.UserSummary
}

// Transition applies e to s. Illegal events return s unchanged and false.
// Nothing transitions into Loading: once resolved, re-validation happens
// in place.
func Transition(s State, e Event) (State, bool) {
	switch e.Kind {
	case EventWhoAmISucceeded:
		if s.Status == StatusUnauthenticated || e.User == nil {
			return s, false
		}
		return State{Status: StatusAuthenticated, User: e.User}, true

	case EventWhoAmIFailed:
		if s.Status != StatusLoading {
			return s, false
		}
		return State{Status: StatusUnauthenticated}, true

	case EventLoggedIn:
		if e.User == nil {
			return s, false
		}
		return State{Status: StatusAuthenticated, User: e.User}, true

	case EventRefreshed:
		if s.Status != StatusAuthenticated {
			return s, false
		}
		if e.User != nil {
			s.User = e.User
		}
		return s, true

	case EventLoggedOut, EventRefreshTerminal, EventRetryUnauthorized:
		if s.Status == StatusUnauthenticated {
			return s, false
		}
		return State{Status: StatusUnauthenticated}, true
	}
	return s, false
}

// Controller holds the current State and fans transitions out to
// subscribers.
type Controller struct {
	mu          sync.Mutex
	state       State
	subscribers map[int]func(State)
	nextID      int
}

// NewController starts in Loading.
func NewController() *Controller {
	return &Controller{
		state:       State{Status: StatusLoading},
		subscribers: make(map[int]func(State)),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Apply runs e through Transition and notifies subscribers when it was
// accepted. Subscribers run on the calling goroutine, outside the lock.
func (c *Controller) Apply(e Event) (State, bool) {
	c.mu.Lock()
	prev := c.state
	next, ok := Transition(prev, e)
	if !ok {
		c.mu.Unlock()
		log.Debug().Stringer("event", e.Kind).Stringer("status", prev.Status).Msg("ignoring session event")
		return prev, false
	}
	c.state = next
	subs := make([]func(State), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	if prev.Status != next.Status {
		log.Info().Stringer("event", e.Kind).Stringer("from", prev.Status).Stringer("to", next.Status).Msg("session state changed")
	}
	for _, fn := range subs {
		fn(next)
	}
	return next, true
}

// Subscribe registers fn for every accepted transition.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}
