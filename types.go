package strand

import "github.com/strandauth/strand/server"

// TokenResponse is the /token endpoint's success body (RFC 6749 §5.1).
type TokenResponse = server.Tokens

// RegistrationResponse is the body returned on successful user registration.
type RegistrationResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// AuthorizationResponse describes a pending authorization request. The
// client presents it to the resource owner and posts credentials back to
// the prompt endpoint with the same request id.
type AuthorizationResponse struct {
	RequestID string `json:"request_id"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	State     string `json:"state"`
}
