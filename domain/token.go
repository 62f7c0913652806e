package domain

// TokenPayload is the claim set carried by every token this server signs:
// access tokens, refresh tokens, and ID tokens all share the shape and
// differ only in scope, audience, and lifetime.
type TokenPayload struct {
	JTI      string      `json:"jti"`
	Issuer   string      `json:"iss"`
	Subject  string      `json:"sub"`
	Audience string      `json:"aud,omitempty"`
	Exp      NumericDate `json:"exp"`
	Iat      NumericDate `json:"iat"`
	Scope    ScopeSet    `json:"scope"`
	Email    string      `json:"email,omitempty"` // ID tokens only
}

// NewTokenPayload validates the claim invariants at sign time.
func NewTokenPayload(jti, issuer, subject string, iat, exp NumericDate, scope ScopeSet) (*TokenPayload, error) {
	if jti == "" {
		return nil, ErrServerError("token jti must not be empty")
	}
	if issuer == "" {
		return nil, ErrServerError("token issuer must not be empty")
	}
	if subject == "" {
		return nil, ErrServerError("token subject must not be empty")
	}
	if !iat.Before(exp) {
		return nil, ErrServerError("token iat must be before exp")
	}
	return &TokenPayload{
		JTI:     jti,
		Issuer:  issuer,
		Subject: subject,
		Exp:     exp,
		Iat:     iat,
		Scope:   scope,
	}, nil
}

// RefreshTokenValue projects the payload onto the stored refresh-token view.
func (p *TokenPayload) RefreshTokenValue() RefreshToken {
	return RefreshToken{
		JTI: p.JTI,
		Exp: p.Exp,
		Aud: p.Audience,
	}
}
