// Package domain contains the framework-independent OAuth 2.0 protocol and
// token-lifecycle model: validated value objects (identities, emails,
// passwords, scope sets, numeric dates), the authorization-request state
// machine with its single-use authorization code, the user aggregate with
// per-client refresh-token rotation, and the JWT claim model.
//
// Everything in this package is synchronous, deterministic, and free of I/O.
// Persistence, signing, hashing, and time are injected through the small
// collaborator interfaces declared in contracts.go, so the protocol rules can
// be tested without a store or a key.
package domain
