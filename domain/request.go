package domain

import (
	"crypto/subtle"
	"errors"
	"time"
)

// RequestStatus is the derived lifecycle state of an authorization request.
type RequestStatus string

const (
	// StatusCreated means no authorization code has been issued yet.
	StatusCreated RequestStatus = "created"

	// StatusCodeIssued means a code is attached and not yet exchanged.
	StatusCodeIssued RequestStatus = "code_issued"

	// StatusRedeemed means the attached code was exchanged; terminal.
	StatusRedeemed RequestStatus = "redeemed"
)

// AuthorizationParams carries the validated /authorize query parameters into
// the state machine.
type AuthorizationParams struct {
	ResponseType        string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizationRequest is the core state machine of the authorization-code
// flow: Created -> CodeIssued -> Redeemed. It exclusively owns its (at most
// one) AuthorizationCode.
//
// Revision is the optimistic-concurrency token managed by the request store;
// the in-memory machine arbitrates a single instance, the store arbitrates
// across processes so exactly one of two concurrent redemptions wins.
type AuthorizationRequest struct {
	ID                  ID                 `json:"id"`
	ClientID            string             `json:"client_id"`
	RedirectURI         string             `json:"redirect_uri"`
	State               string             `json:"state"`
	CodeChallenge       string             `json:"code_challenge"`
	CodeChallengeMethod string             `json:"code_challenge_method"`
	Scope               ScopeSet           `json:"scope"`
	Code                *AuthorizationCode `json:"code,omitempty"`
	Revision            int64              `json:"revision"`
}

// NewAuthorizationRequest validates params against the resolved client and
// starts a request in the Created state. The caller (facade) is responsible
// for resolving the client; an unknown client id never reaches here.
//
// An empty requested scope defaults to the client's full registered scope.
func NewAuthorizationRequest(client *Client, params AuthorizationParams) (*AuthorizationRequest, error) {
	if client == nil || !client.Registered {
		return nil, ErrInvalidClient("unknown client")
	}
	if params.ResponseType != "code" {
		return nil, ErrUnsupportedResponseType("only the authorization code flow is supported").WithState(params.State)
	}
	if params.State == "" {
		return nil, ErrInvalidRequest("state parameter is required for CSRF protection")
	}
	if params.RedirectURI != client.RedirectURI {
		// Never echoed into a redirect: an unregistered URI must not receive
		// error parameters (RFC 6749 §4.1.2.1).
		return nil, ErrInvalidRedirectURI("redirect URI is not registered for this client")
	}

	scope := client.Scope
	if params.Scope != "" {
		requested, err := ParseScopes(params.Scope)
		if err != nil {
			var derr *Error
			if errors.As(err, &derr) {
				return nil, derr.WithState(params.State)
			}
			return nil, err
		}
		if !requested.IsSubsetOf(client.Scope) {
			return nil, ErrInvalidScope("requested scope exceeds the client's registered scope").WithState(params.State)
		}
		scope = requested
	}

	return &AuthorizationRequest{
		ID:                  NewID(),
		ClientID:            client.ID,
		RedirectURI:         params.RedirectURI,
		State:               params.State,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		Scope:               scope,
	}, nil
}

// Status derives the request's lifecycle state.
func (r *AuthorizationRequest) Status() RequestStatus {
	switch {
	case r.Code == nil:
		return StatusCreated
	case r.Code.IsExchanged():
		return StatusRedeemed
	default:
		return StatusCodeIssued
	}
}

// IssueAuthorizationCode attaches a fresh code bound to subject, moving the
// request from Created to CodeIssued.
//
// Re-issuing over a live code is rejected rather than replaced: a silent
// replacement would let an attacker who controls the prompt fixate a code of
// their choosing on a victim's request.
func (r *AuthorizationRequest) IssueAuthorizationCode(subject ID, gen CodeGenerator, clock Clock, ttl time.Duration) (*AuthorizationCode, error) {
	if r.Code != nil {
		if r.Code.IsExchanged() {
			return nil, ErrInvalidRequest("authorization request has already been redeemed").WithState(r.State)
		}
		if !r.Code.IsExpired(clock) {
			return nil, ErrInvalidRequest("an authorization code has already been issued for this request").WithState(r.State)
		}
		// The prior code expired unredeemed; the request may be retried.
	}
	code, err := newAuthorizationCode(subject, gen, clock, ttl)
	if err != nil {
		return nil, err
	}
	r.Code = code
	return code, nil
}

// UseAuthorizationCode redeems the attached code against the presented code
// string and returns the subject it was issued for. After a successful call
// the request is Redeemed and every further attempt fails.
func (r *AuthorizationRequest) UseAuthorizationCode(presented string, clock Clock) (ID, error) {
	if r.Code == nil {
		return "", ErrInvalidRequest("no authorization code has been issued for this request")
	}
	stored, err := r.Code.Redeem(clock)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return "", ErrInvalidGrant("authorization code mismatch")
	}
	return r.Code.Subject, nil
}

// Clone returns a deep copy of the request so stores never share mutable
// aggregates with callers.
func (r *AuthorizationRequest) Clone() *AuthorizationRequest {
	out := *r
	out.Code = r.Code.clone()
	return &out
}
