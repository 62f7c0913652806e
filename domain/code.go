package domain

import "time"

// AuthorizationCode is the single-use, time-bounded credential issued to an
// approved authorization request and exchanged once for tokens.
//
// States: issued -> exchanged (terminal). Expiry is derived from the clock
// against Expires, never stored.
type AuthorizationCode struct {
	Subject   ID           `json:"subject"`
	Code      string       `json:"code"`
	Issued    NumericDate  `json:"issued"`
	Expires   NumericDate  `json:"expires"`
	Exchanged *NumericDate `json:"exchanged,omitempty"`
}

// newAuthorizationCode mints a code for subject, valid for ttl from now.
// Only an AuthorizationRequest may issue codes, hence unexported.
func newAuthorizationCode(subject ID, gen CodeGenerator, clock Clock, ttl time.Duration) (*AuthorizationCode, error) {
	if subject.IsZero() {
		return nil, ErrServerError("authorization code subject must not be empty")
	}
	issued := clock.NowSeconds()
	expires := NumericDateFromTime(clock.Now().Add(ttl))
	if !issued.Before(expires) {
		return nil, ErrServerError("authorization code would expire at or before issuance")
	}
	code := gen.GenerateAuthorizationCode()
	if code == "" {
		return nil, ErrServerError("code generator returned an empty code")
	}
	return &AuthorizationCode{
		Subject: subject,
		Code:    code,
		Issued:  issued,
		Expires: expires,
	}, nil
}

// Redeem marks the code exchanged and returns the stored code string for
// the caller's equality check. A code can be redeemed at most once; the
// Exchanged timestamp is set here and never cleared.
func (c *AuthorizationCode) Redeem(clock Clock) (string, error) {
	if c.Exchanged != nil {
		return "", ErrInvalidGrant("authorization code has already been used")
	}
	now := clock.NowSeconds()
	if !now.Before(c.Expires) {
		return "", ErrInvalidGrant("authorization code has expired")
	}
	c.Exchanged = &now
	return c.Code, nil
}

// IsExchanged reports whether the code has been redeemed.
func (c *AuthorizationCode) IsExchanged() bool {
	return c.Exchanged != nil
}

// IsExpired reports whether the code's lifetime has elapsed.
func (c *AuthorizationCode) IsExpired(clock Clock) bool {
	return !clock.NowSeconds().Before(c.Expires)
}

// clone returns a deep copy so stores can hand out aggregates without
// sharing mutable state.
func (c *AuthorizationCode) clone() *AuthorizationCode {
	if c == nil {
		return nil
	}
	out := *c
	if c.Exchanged != nil {
		ex := *c.Exchanged
		out.Exchanged = &ex
	}
	return &out
}
