// Package server implements the protocol engine of the identity provider:
// user registration, the authorization-code-with-PKCE flow, token issuance,
// refresh-token rotation, and bearer-token authentication.
//
// Server is transport-agnostic. It wires the domain state machines to their
// collaborators (stores, signer, hasher, clock, code generator) and owns the
// ordering of checks each operation performs; the HTTP layer in the root
// package is a thin adapter over it.
package server
