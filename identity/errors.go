package identity

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
)

// TransportError means no HTTP response was received: connection refused,
// DNS failure, timeout or a cancelled context.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() []error {
	return []error{e.Err, qerrors.ErrTransport}
}

// StatusError is a non-2xx answer from the identity backend.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Unauthorized reports a 401 or 403, the statuses the backend uses for a
// rejected token or code.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsTransport reports whether err (or any error in its chain) means no
// response was received.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages and logs.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	var clean []byte
	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]
			continue
		}
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}
		body = body[size:]
	}
	return string(clean)
}
