package strand

import "github.com/strandauth/strand/domain"

// Error is the typed protocol error every operation returns. The HTTP layer
// translates it into an RFC 6749 §5.2 wire body and status.
type Error = domain.Error

// OAuth error codes (RFC 6749 §5.2) plus the registration-time codes.
const (
	ErrorCodeInvalidRequest          = domain.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = domain.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = domain.ErrorCodeInvalidGrant
	ErrorCodeInvalidScope            = domain.ErrorCodeInvalidScope
	ErrorCodeInvalidToken            = domain.ErrorCodeInvalidToken
	ErrorCodeTokenExpired            = domain.ErrorCodeTokenExpired
	ErrorCodeAccessDenied            = domain.ErrorCodeAccessDenied
	ErrorCodeInvalidRedirectURI      = domain.ErrorCodeInvalidRedirectURI
	ErrorCodeUnsupportedGrantType    = domain.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = domain.ErrorCodeUnsupportedResponseType
	ErrorCodeServerError             = domain.ErrorCodeServerError

	ErrorCodeUserExists      = domain.ErrorCodeUserExists
	ErrorCodeInvalidEmail    = domain.ErrorCodeInvalidEmail
	ErrorCodeInvalidPassword = domain.ErrorCodeInvalidPassword
	ErrorCodePasswordTooWeak = domain.ErrorCodePasswordTooWeak
)

// Scope names understood by this provider.
const (
	ScopeAuthenticate = domain.ScopeAuthenticate
	ScopeRefresh      = domain.ScopeRefresh
	ScopeOpenID       = domain.ScopeOpenID
	ScopeProfile      = domain.ScopeProfile
)
