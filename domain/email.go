package domain

import "strings"

// maxEmailLength is the maximum total length of an address per RFC 3696
// erratum 1690.
const maxEmailLength = 254

// Email is a validated email address.
type Email string

// ParseEmail validates raw registration/authentication input as an email
// address. Validation is deliberately shallow: surrounding whitespace,
// a missing @, or an over-long address are rejected, and everything else is
// left to the verification mail loop.
func ParseEmail(raw string) (Email, error) {
	if raw == "" {
		return "", ErrInvalidEmail("email must not be empty")
	}
	if strings.TrimSpace(raw) != raw {
		return "", ErrInvalidEmail("email must not have leading or trailing whitespace")
	}
	if !strings.Contains(raw, "@") {
		return "", ErrInvalidEmail("email must contain @")
	}
	if len(raw) > maxEmailLength {
		return "", ErrInvalidEmail("email exceeds 254 characters")
	}
	return Email(raw), nil
}

// String returns the address.
func (e Email) String() string {
	return string(e)
}
