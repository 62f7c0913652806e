package domain

import "time"

// Clock supplies the current time. Injecting it keeps the state machine
// deterministic under test and confines the only side effect in this
// package to a single seam.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NowSeconds returns the current time as whole epoch seconds.
	NowSeconds() NumericDate
}

// CodeGenerator produces authorization code strings. Implementations must
// draw at least 256 bits from a cryptographic source; codes are bearer
// credentials until redeemed.
type CodeGenerator interface {
	GenerateAuthorizationCode() string
}

// PasswordHasher hashes and verifies passwords. The hash algorithm
// (bcrypt in production) is outside the domain contract.
type PasswordHasher interface {
	// Hash derives a storable hash from a plaintext password.
	Hash(plaintext string) (string, error)

	// Compare reports whether plaintext matches the stored hash.
	Compare(plaintext, hash string) bool
}

// Signer signs and verifies token payloads. Key material and the signature
// algorithm live entirely behind this interface.
type Signer interface {
	// Sign serializes and signs a payload into a compact token.
	Sign(payload *TokenPayload) (string, error)

	// Decode parses a token's claims WITHOUT verifying the signature.
	// Use only where the caller verifies through other means.
	Decode(token string) (*TokenPayload, error)

	// Verify parses a token and checks its signature. Claim-level checks
	// (issuer, expiry, scope) remain the caller's responsibility so error
	// ordering stays deterministic.
	Verify(token string) (*TokenPayload, error)
}
