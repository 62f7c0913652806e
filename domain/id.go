package domain

import "github.com/google/uuid"

// ID is a UUID-backed identity value. The zero value is not a valid ID;
// always construct through NewID or ParseID.
type ID string

// NewID generates a new random identity.
func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID validates that s is a well-formed UUID and returns it as an ID.
func ParseID(s string) (ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return "", ErrInvalidRequest("malformed identity: not a valid UUID")
	}
	return ID(parsed.String()), nil
}

// String returns the canonical UUID string form.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == ""
}
