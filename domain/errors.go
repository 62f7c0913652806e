package domain

import (
	"fmt"
	"net/http"
)

// OAuth error codes from RFC 6749, plus the registration-time codes this
// server reports to end users.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeTokenExpired            = "token_expired"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"

	// Registration error codes. These are not OAuth wire codes but are part
	// of the public contract of the registration operation.
	ErrorCodeUserExists      = "user-exists"
	ErrorCodeInvalidEmail    = "invalid-email"
	ErrorCodeInvalidPassword = "invalid-password"
	ErrorCodePasswordTooWeak = "password-too-weak"
)

// Error is the typed domain error raised by every protocol operation.
// The transport layer is the only place an Error is translated into an
// RFC 6749 §5.2 wire body and HTTP status; domain code never suppresses one.
type Error struct {
	Code        string // OAuth error code (e.g. "invalid_grant")
	Description string // human-readable description
	ErrorURI    string // optional documentation link
	State       string // optional client state, echoed on authorize errors
	Status      int    // HTTP status the transport should use
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithState returns a copy of the error carrying the client's state
// parameter so the transport can echo it per RFC 6749 §4.1.2.1.
func (e *Error) WithState(state string) *Error {
	clone := *e
	clone.State = state
	return &clone
}

// NewError creates a new domain error.
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// ErrInvalidRequest indicates a malformed or missing parameter, or an
// operation invoked from the wrong state (e.g. double code issuance).
func ErrInvalidRequest(desc string) *Error {
	return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
}

// ErrInvalidClient indicates an unknown client id.
func ErrInvalidClient(desc string) *Error {
	return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
}

// ErrInvalidGrant indicates an invalid, expired, or already-used
// authorization code or refresh token.
func ErrInvalidGrant(desc string) *Error {
	return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
}

// ErrInvalidScope indicates a requested or required scope is not granted
// or not understood.
func ErrInvalidScope(desc string) *Error {
	return NewError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
}

// ErrInvalidToken indicates a malformed or unverifiable bearer token.
func ErrInvalidToken(desc string) *Error {
	return NewError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
}

// ErrTokenExpired indicates a bearer token whose exp claim has passed.
func ErrTokenExpired(desc string) *Error {
	return NewError(ErrorCodeTokenExpired, desc, http.StatusUnauthorized)
}

// ErrAccessDenied indicates the resource owner could not be authenticated
// or declined the request.
func ErrAccessDenied(desc string) *Error {
	return NewError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
}

// ErrInvalidRedirectURI indicates the presented redirect URI does not match
// the one bound to the client or the authorization request.
func ErrInvalidRedirectURI(desc string) *Error {
	return NewError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
}

// ErrUnsupportedGrantType indicates a grant_type this server does not issue.
func ErrUnsupportedGrantType(desc string) *Error {
	return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
}

// ErrUnsupportedResponseType indicates a response_type other than "code".
func ErrUnsupportedResponseType(desc string) *Error {
	return NewError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
}

// ErrServerError indicates an unexpected internal failure.
func ErrServerError(desc string) *Error {
	return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
}

// ErrUserExists indicates a registration attempt with an email that is
// already taken.
func ErrUserExists(desc string) *Error {
	return NewError(ErrorCodeUserExists, desc, http.StatusConflict)
}

// ErrInvalidEmail indicates a registration email that fails validation.
func ErrInvalidEmail(desc string) *Error {
	return NewError(ErrorCodeInvalidEmail, desc, http.StatusBadRequest)
}

// ErrInvalidPassword indicates a password with surrounding whitespace or
// one that exceeds the hash-engine byte limit.
func ErrInvalidPassword(desc string) *Error {
	return NewError(ErrorCodeInvalidPassword, desc, http.StatusBadRequest)
}

// ErrPasswordTooWeak indicates a password below the length or distinct
// character thresholds.
func ErrPasswordTooWeak(desc string) *Error {
	return NewError(ErrorCodePasswordTooWeak, desc, http.StatusBadRequest)
}
