package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// Capability scopes understood by this server.
const (
	// ScopeAuthenticate must be present in every access token accepted by
	// Authenticate, and in every registered client's scope set.
	ScopeAuthenticate = "token:authenticate"

	// ScopeRefresh marks a grant that may mint refresh tokens. It is carried
	// by refresh tokens themselves and stripped from access tokens.
	ScopeRefresh = "token:refresh"

	// ScopeOpenID marks a grant that receives an ID token on exchange.
	ScopeOpenID = "openid"

	// ScopeProfile marks a grant whose ID token carries profile claims.
	ScopeProfile = "profile"
)

// ScopeSet is a deduplicated set of capability scopes. Sets are structurally
// immutable: Add and Remove return new sets and never touch the receiver, so
// a set stored on an aggregate can be shared freely.
//
// String() is the canonical wire and storage form (scopes sorted
// lexicographically, joined with single spaces) and must stay
// deterministic because signed tokens and stored requests are compared on it.
type ScopeSet struct {
	scopes map[string]struct{}
}

// ParseScopes parses the space-separated wire form. The empty string yields
// the empty set.
func ParseScopes(raw string) (ScopeSet, error) {
	return ScopesFromList(strings.Fields(raw))
}

// ScopesFromList builds a set from individual scope tokens, deduplicating.
func ScopesFromList(scopes []string) (ScopeSet, error) {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if err := validateScopeToken(s); err != nil {
			return ScopeSet{}, err
		}
		set[s] = struct{}{}
	}
	return ScopeSet{scopes: set}, nil
}

// MustScopes is ScopesFromList for trusted, compile-time scope lists.
// It panics on invalid input and is intended for constants and tests.
func MustScopes(scopes ...string) ScopeSet {
	set, err := ScopesFromList(scopes)
	if err != nil {
		panic(err)
	}
	return set
}

func validateScopeToken(s string) error {
	if s == "" {
		return ErrInvalidScope("scope token must not be empty")
	}
	// RFC 6749 §3.3: %x21 / %x23-5B / %x5D-7E, i.e. printable ASCII without
	// space, double quote, and backslash.
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x21 || c > 0x7e || c == '"' || c == '\\' {
			return ErrInvalidScope("scope token contains invalid characters")
		}
	}
	return nil
}

// Has reports whether the set contains scope.
func (s ScopeSet) Has(scope string) bool {
	_, ok := s.scopes[scope]
	return ok
}

// Add returns a new set containing the receiver's scopes plus the given ones.
func (s ScopeSet) Add(scopes ...string) ScopeSet {
	next := make(map[string]struct{}, len(s.scopes)+len(scopes))
	for k := range s.scopes {
		next[k] = struct{}{}
	}
	for _, scope := range scopes {
		next[scope] = struct{}{}
	}
	return ScopeSet{scopes: next}
}

// Remove returns a new set without the given scopes.
func (s ScopeSet) Remove(scopes ...string) ScopeSet {
	next := make(map[string]struct{}, len(s.scopes))
	for k := range s.scopes {
		next[k] = struct{}{}
	}
	for _, scope := range scopes {
		delete(next, scope)
	}
	return ScopeSet{scopes: next}
}

// IsSubsetOf reports whether every scope in s is also in other.
func (s ScopeSet) IsSubsetOf(other ScopeSet) bool {
	for k := range s.scopes {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// Len returns the number of scopes in the set.
func (s ScopeSet) Len() int {
	return len(s.scopes)
}

// List returns the scopes sorted lexicographically.
func (s ScopeSet) List() []string {
	out := make([]string, 0, len(s.scopes))
	for k := range s.scopes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// String returns the canonical space-joined, sorted serialization.
func (s ScopeSet) String() string {
	return strings.Join(s.List(), " ")
}

// MarshalJSON stores the canonical string form.
func (s ScopeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON restores a set from its canonical string form.
func (s *ScopeSet) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseScopes(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
