package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session relay
var (
	// Transport errors (no HTTP response was received)
	ErrTransport = errors.New("transport error")

	// Authorization errors
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrSessionTerminated  = errors.New("session terminated")
	ErrNoRefreshToken     = errors.New("no refresh token")
	ErrRefreshTerminal    = errors.New("refresh rejected")
	ErrInvalidCredentials = errors.New("invalid credentials or code")

	// Upstream response errors
	ErrTokenMissingInResponse = errors.New("token missing in response")
	ErrUnexpectedResponse     = errors.New("unexpected response")

	// Configuration errors
	ErrMissingBaseURL = errors.New("api base url is not configured")
	ErrMissingCode    = errors.New("authorization code missing")
	ErrStateMismatch  = errors.New("oauth state mismatch")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import
func New(text string) error {
	return errors.New(text)
}
