// Package pkce implements Proof Key for Code Exchange verification
// (RFC 7636). Verification is a pure function over the presented verifier
// and the challenge stored at authorization time; it has no side effects.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/strandauth/strand/domain"
)

// Code challenge methods (RFC 7636 §4.2). MethodNone disables PKCE entirely
// and is only acceptable for legacy, non-production flows.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
	MethodNone  = "none"
)

// Verifier length bounds from RFC 7636 §4.1.
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// Verify compares a presented code verifier against the stored challenge
// under the given method. Comparisons are constant-time; the inputs are
// already hashed or high-entropy, so no further timing hardening is needed.
//
// An unsupported method is a protocol error (invalid_request), not a
// verification failure.
func Verify(codeVerifier, codeChallenge, method string) (bool, error) {
	switch method {
	case MethodNone:
		return true, nil

	case MethodPlain:
		if err := validateVerifier(codeVerifier); err != nil {
			return false, err
		}
		return subtle.ConstantTimeCompare([]byte(codeVerifier), []byte(codeChallenge)) == 1, nil

	case MethodS256:
		if err := validateVerifier(codeVerifier); err != nil {
			return false, err
		}
		sum := sha256.Sum256([]byte(codeVerifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(codeChallenge)) == 1, nil

	default:
		return false, domain.ErrInvalidRequest(fmt.Sprintf("unsupported code_challenge_method: %s", method))
	}
}

// ChallengeS256 derives the S256 challenge for a verifier. Servers use it in
// tests and clients use it when building authorization requests.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// validateVerifier enforces the RFC 7636 §4.1 verifier grammar: 43-128
// characters from [A-Za-z0-9-._~]. Rejecting everything else keeps control
// bytes and injection attempts out of hash input and logs.
func validateVerifier(verifier string) error {
	if verifier == "" {
		return domain.ErrInvalidRequest("code_verifier is required when a code_challenge is present")
	}
	if len(verifier) < MinVerifierLength {
		return domain.ErrInvalidRequest(fmt.Sprintf("code_verifier must be at least %d characters (RFC 7636)", MinVerifierLength))
	}
	if len(verifier) > MaxVerifierLength {
		return domain.ErrInvalidRequest(fmt.Sprintf("code_verifier must be at most %d characters (RFC 7636)", MaxVerifierLength))
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return domain.ErrInvalidRequest("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}
	return nil
}
