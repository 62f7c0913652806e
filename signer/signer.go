// Package signer implements token signing and verification with HMAC-SHA256
// JSON Web Tokens. Claim-level validation (issuer, expiry, scope) is left to
// the caller so failures surface in a deterministic order; this package only
// answers "was this token signed by us".
package signer

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/strandauth/strand/domain"
)

// minSecretBytes is the floor for HS256 key material. HMAC-SHA256 keys
// shorter than the hash output weaken the MAC.
const minSecretBytes = 32

// HS256Signer signs token payloads with a shared HMAC-SHA256 secret.
type HS256Signer struct {
	secret []byte
}

var _ domain.Signer = (*HS256Signer)(nil)

// New creates a signer from the given secret.
func New(secret []byte) (*HS256Signer, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", minSecretBytes, len(secret))
	}
	return &HS256Signer{secret: secret}, nil
}

// Sign serializes the payload into a compact JWS.
func (s *HS256Signer) Sign(payload *domain.TokenPayload) (string, error) {
	if payload == nil {
		return "", errors.New("cannot sign a nil payload")
	}

	claims := jwt.MapClaims{
		"jti":   payload.JTI,
		"iss":   payload.Issuer,
		"sub":   payload.Subject,
		"exp":   payload.Exp.Unix(),
		"iat":   payload.Iat.Unix(),
		"scope": payload.Scope.String(),
	}
	if payload.Audience != "" {
		claims["aud"] = payload.Audience
	}
	if payload.Email != "" {
		claims["email"] = payload.Email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and checks its signature, restricting the
// accepted algorithm to HS256 so an attacker cannot downgrade to "none" or
// swap in an asymmetric key. Expiry and issuer checks are intentionally
// disabled here; the caller validates claims.
func (s *HS256Signer) Verify(tokenString string) (*domain.TokenPayload, error) {
	parsed, err := jwt.Parse(tokenString,
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, domain.ErrInvalidToken("token signature verification failed")
	}
	return payloadFromClaims(parsed.Claims)
}

// Decode parses the token's claims WITHOUT verifying the signature. Use
// only where authenticity is established by other means.
func (s *HS256Signer) Decode(tokenString string) (*domain.TokenPayload, error) {
	parsed, _, err := jwt.NewParser(jwt.WithoutClaimsValidation()).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, domain.ErrInvalidToken("malformed token")
	}
	return payloadFromClaims(parsed.Claims)
}

func payloadFromClaims(claims jwt.Claims) (*domain.TokenPayload, error) {
	mapClaims, ok := claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrInvalidToken("unexpected claim format")
	}

	payload := &domain.TokenPayload{
		JTI:      stringClaim(mapClaims, "jti"),
		Issuer:   stringClaim(mapClaims, "iss"),
		Subject:  stringClaim(mapClaims, "sub"),
		Audience: stringClaim(mapClaims, "aud"),
		Email:    stringClaim(mapClaims, "email"),
	}

	exp, err := numericClaim(mapClaims, "exp")
	if err != nil {
		return nil, err
	}
	payload.Exp = exp

	iat, err := numericClaim(mapClaims, "iat")
	if err != nil {
		return nil, err
	}
	payload.Iat = iat

	scope, err := domain.ParseScopes(stringClaim(mapClaims, "scope"))
	if err != nil {
		return nil, domain.ErrInvalidToken("token carries a malformed scope claim")
	}
	payload.Scope = scope

	return payload, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// numericClaim reads a NumericDate claim. encoding/json decodes JWT numbers
// as float64; tokens we signed ourselves carry whole seconds so the
// truncation is lossless.
func numericClaim(claims jwt.MapClaims, key string) (domain.NumericDate, error) {
	switch v := claims[key].(type) {
	case float64:
		return domain.NewNumericDate(int64(v))
	case int64:
		return domain.NewNumericDate(v)
	default:
		return 0, domain.ErrInvalidToken(fmt.Sprintf("token is missing the %s claim", key))
	}
}
