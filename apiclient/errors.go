package apiclient

import (
	"fmt"

	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindTransport: no response was received (network failure, abort,
	// cancelled context). The session is untouched.
	KindTransport Kind = iota + 1
	// KindUnauthorized: the backend answered 401 and the session could not
	// be refreshed.
	KindUnauthorized
	// KindSessionTerminated: the request still got 401 after a successful
	// refresh; the session has been ended.
	KindSessionTerminated
	// KindStatus: any other non-2xx answer, returned by the JSON helpers.
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnauthorized:
		return "unauthorized"
	case KindSessionTerminated:
		return "session_terminated"
	case KindStatus:
		return "status"
	}
	return "unknown"
}

// Error is returned by Client.Do and the JSON helpers.
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	switch e.Kind {
	case KindTransport:
		errs = append(errs, qerrors.ErrTransport)
	case KindUnauthorized:
		errs = append(errs, qerrors.ErrUnauthorized)
	case KindSessionTerminated:
		errs = append(errs, qerrors.ErrSessionTerminated, qerrors.ErrUnauthorized)
	}
	return errs
}
