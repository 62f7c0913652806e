package domain

// RefreshToken is the stored view of a live refresh token: just enough to
// honor rotation and reuse checks. The full signed token is never persisted.
type RefreshToken struct {
	JTI string      `json:"jti"`
	Exp NumericDate `json:"exp"`
	Aud string      `json:"aud"` // client id the token was minted for
}

// IsExpired reports whether the token's exp has passed.
func (t RefreshToken) IsExpired(clock Clock) bool {
	return !clock.NowSeconds().Before(t.Exp)
}

// User is the registered resource owner. It exclusively owns its refresh
// token list; at most one live refresh token exists per (user, client) pair.
//
// Revision is the optimistic-concurrency token managed by the user store so
// concurrent rotations cannot silently drop each other's writes.
type User struct {
	ID            ID             `json:"id"`
	Email         Email          `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	PasswordHash  string         `json:"password_hash"`
	RefreshTokens []RefreshToken `json:"refresh_tokens"`
	Revision      int64          `json:"revision"`
}

// NewUser creates a freshly registered user with no refresh tokens.
// Email uniqueness is the caller's (and ultimately the store's) concern.
func NewUser(email Email, passwordHash string) (*User, error) {
	if email == "" {
		return nil, ErrInvalidEmail("email must not be empty")
	}
	if passwordHash == "" {
		return nil, ErrServerError("password hash must not be empty")
	}
	return &User{
		ID:           NewID(),
		Email:        email,
		PasswordHash: passwordHash,
	}, nil
}

// RotateRefreshToken installs tok as the user's sole live refresh token for
// its audience: expired entries are pruned, any prior token for the same
// client is superseded, and tok is appended. Pure in-memory transformation;
// the caller persists the user afterward.
func (u *User) RotateRefreshToken(tok RefreshToken, clock Clock) {
	kept := make([]RefreshToken, 0, len(u.RefreshTokens)+1)
	for _, t := range u.RefreshTokens {
		if t.IsExpired(clock) || t.Aud == tok.Aud {
			continue
		}
		kept = append(kept, t)
	}
	u.RefreshTokens = append(kept, tok)
}

// HasRefreshToken reports whether a live refresh token with the given jti
// exists on the user.
func (u *User) HasRefreshToken(jti string, clock Clock) bool {
	for _, t := range u.RefreshTokens {
		if t.JTI == jti && !t.IsExpired(clock) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share mutable aggregates.
func (u *User) Clone() *User {
	out := *u
	out.RefreshTokens = make([]RefreshToken, len(u.RefreshTokens))
	copy(out.RefreshTokens, u.RefreshTokens)
	return &out
}
