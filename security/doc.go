// Package security provides the cryptographic and operational building
// blocks of the identity provider: authorization code generation, bcrypt
// password hashing, the system clock with expiry grace handling, audit
// logging with PII protection, per-identifier rate limiting, encryption at
// rest, and HTTP hardening helpers.
package security
