package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/strandauth/strand/domain"
)

// authorizationCodeBytes is the entropy drawn per authorization code.
// 32 bytes (256 bits) encodes to a 43-character base64url string, well past
// the 128-bit minimum RFC 6749 §10.10 asks of code guessing resistance.
const authorizationCodeBytes = 32

// CodeGenerator produces authorization codes from crypto/rand.
type CodeGenerator struct{}

var _ domain.CodeGenerator = CodeGenerator{}

// NewCodeGenerator returns the production authorization code source.
func NewCodeGenerator() CodeGenerator {
	return CodeGenerator{}
}

// GenerateAuthorizationCode returns a freshly generated, URL-safe code.
// It panics if the system RNG fails; there is no safe fallback for bearer
// credential generation.
func (CodeGenerator) GenerateAuthorizationCode() string {
	b := make([]byte, authorizationCodeBytes)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
