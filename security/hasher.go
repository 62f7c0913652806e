package security

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/strandauth/strand/domain"
)

// BcryptHasher hashes passwords with bcrypt. The zero cost falls back to
// bcrypt.DefaultCost.
type BcryptHasher struct {
	cost int
}

var _ domain.PasswordHasher = BcryptHasher{}

// NewBcryptHasher creates a hasher at the given cost. Costs outside the
// bcrypt range are clamped to the default.
func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return BcryptHasher{cost: cost}
}

// Hash derives a storable bcrypt hash from plaintext.
func (h BcryptHasher) Hash(plaintext string) (string, error) {
	cost := h.cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Compare reports whether plaintext matches the stored hash.
func (h BcryptHasher) Compare(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
