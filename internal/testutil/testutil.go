// Package testutil provides deterministic collaborator implementations:
// a controllable clock, predictable code generators, a transparent password
// hasher. They exist so protocol engine tests stay reproducible.
package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/strandauth/strand/domain"
)

// Clock is a controllable time source implementing domain.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current mock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowSeconds returns the current mock time as epoch seconds.
func (c *Clock) NowSeconds() domain.NumericDate {
	return domain.NumericDateFromTime(c.Now())
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// CodeGenerator returns a fixed sequence of codes, falling back to
// "code-N" once the sequence is exhausted.
type CodeGenerator struct {
	mu    sync.Mutex
	codes []string
	calls int
}

// NewCodeGenerator creates a generator yielding the given codes in order.
func NewCodeGenerator(codes ...string) *CodeGenerator {
	return &CodeGenerator{codes: codes}
}

// GenerateAuthorizationCode implements domain.CodeGenerator.
func (g *CodeGenerator) GenerateAuthorizationCode() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= len(g.codes) {
		return g.codes[g.calls-1]
	}
	return fmt.Sprintf("code-%d", g.calls)
}

// PlainHasher is a transparent domain.PasswordHasher for tests: the "hash"
// is the plaintext with a marker prefix, so failures are readable.
type PlainHasher struct{}

// Hash implements domain.PasswordHasher.
func (PlainHasher) Hash(plaintext string) (string, error) {
	return "plain:" + plaintext, nil
}

// Compare implements domain.PasswordHasher.
func (PlainHasher) Compare(plaintext, hash string) bool {
	return "plain:"+plaintext == hash
}

// GenerateRandomString returns a random base64url string of roughly the
// requested length, suitable for PKCE verifiers in tests.
func GenerateRandomString(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	s := base64.RawURLEncoding.EncodeToString(buf)
	if len(s) > length {
		s = s[:length]
	}
	return s
}

// S256Challenge computes the S256 code challenge for a verifier (RFC 7636).
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
