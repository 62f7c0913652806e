package domain

import "unicode/utf8"

// maxClientNameLength bounds the human-readable client name.
const maxClientNameLength = 128

// Client is a registered OAuth client. Clients are immutable after
// registration; a redirect URI or scope change is a new registration.
type Client struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Scope       ScopeSet `json:"scope"`
	RedirectURI string   `json:"redirect_uri"`
	Registered  bool     `json:"registered"`
}

// NewClient validates and creates a client registration. Every client must
// be granted ScopeAuthenticate: a client that cannot mint authenticating
// access tokens is useless, and requiring it here keeps the invariant out of
// every downstream scope check.
func NewClient(id, name string, scope ScopeSet, redirectURI string) (*Client, error) {
	if id == "" {
		return nil, ErrInvalidClient("client id must not be empty")
	}
	if name == "" {
		return nil, ErrInvalidRequest("client name must not be empty")
	}
	if utf8.RuneCountInString(name) > maxClientNameLength {
		return nil, ErrInvalidRequest("client name exceeds 128 characters")
	}
	if !scope.Has(ScopeAuthenticate) {
		return nil, ErrInvalidScope("client scope must include " + ScopeAuthenticate)
	}
	if redirectURI == "" {
		return nil, ErrInvalidRedirectURI("client redirect URI must not be empty")
	}
	return &Client{
		ID:          id,
		Name:        name,
		Scope:       scope,
		RedirectURI: redirectURI,
		Registered:  true,
	}, nil
}
