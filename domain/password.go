package domain

import "strings"

const (
	// minPasswordLength is the minimum number of characters in a password.
	minPasswordLength = 12

	// minDistinctPasswordRunes is the minimum number of distinct characters,
	// a cheap guard against "aaaabbbbcccc"-style passwords.
	minDistinctPasswordRunes = 6

	// maxPasswordBytes is the bcrypt input limit; bytes beyond 72 are
	// silently ignored by the hash engine, so longer inputs are rejected
	// outright instead.
	maxPasswordBytes = 72
)

// Password holds a validated plaintext password. It exists only for the
// window between input validation and hashing and is never persisted.
// The value is unexported so it cannot leak through struct serialization.
type Password struct {
	value string
}

// ParsePassword validates raw password input.
func ParsePassword(raw string) (Password, error) {
	if strings.TrimSpace(raw) != raw {
		return Password{}, ErrInvalidPassword("password must not have leading or trailing whitespace")
	}
	if len(raw) > maxPasswordBytes {
		return Password{}, ErrInvalidPassword("password exceeds 72 bytes")
	}
	runes := []rune(raw)
	if len(runes) < minPasswordLength {
		return Password{}, ErrPasswordTooWeak("password must be at least 12 characters")
	}
	distinct := make(map[rune]struct{}, len(runes))
	for _, r := range runes {
		distinct[r] = struct{}{}
	}
	if len(distinct) < minDistinctPasswordRunes {
		return Password{}, ErrPasswordTooWeak("password must contain at least 6 distinct characters")
	}
	return Password{value: raw}, nil
}

// Plaintext returns the raw password for handoff to the hash engine.
func (p Password) Plaintext() string {
	return p.value
}

// String redacts the value so a Password can never end up in a log line.
func (p Password) String() string {
	return "[REDACTED]"
}
