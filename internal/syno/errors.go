package syno

import (
	"errors"
	"fmt"
)

// authErrorMessages maps the SYNO.API.Auth error codes DSM is known to
// report to operator-readable text.
var authErrorMessages = map[int]string{
	400: "no such account or incorrect password",
	401: "account disabled",
	402: "permission denied",
	403: "two-factor verification code required",
	404: "two-factor verification failed",
	406: "two-factor verification must be enabled",
	407: "IP address blocked",
	408: "password expired and cannot be changed",
	409: "password expired",
	410: "password must be changed",
}

// ErrorMessage translates a DSM error code. Codes outside the catalog
// yield a generic message that still names the code.
func ErrorMessage(code int) string {
	if msg, ok := authErrorMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error (code %d)", code)
}

// ErrNotAuthenticated is returned by session-requiring operations when
// the client holds no session token.
var ErrNotAuthenticated = errors.New("not authenticated, call Login first")

// APIError is an application-level failure: a well-formed DSM response
// that reports an error code. API errors are never retried.
type APIError struct {
	Op   string
	Code int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("syno %s: %s (code %d)", e.Op, ErrorMessage(e.Code), e.Code)
}

// CredentialRejected reports whether the failure invalidates the
// password the caller presented, so any cached copy should be wiped.
func (e *APIError) CredentialRejected() bool {
	switch e.Code {
	case 400, 408, 409, 410:
		return true
	}
	return false
}

// OTPRejected reports whether the failure concerns the one-time code
// rather than the password.
func (e *APIError) OTPRejected() bool {
	return e.Code == 404 || e.Code == 406
}

// TransportError is a network-level failure: request construction,
// connection, timeout, non-2xx status, or an unreadable body. Only
// transport errors are retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("syno %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a transport-level
// failure worth retrying.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
