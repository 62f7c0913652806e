package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User
// identifiers and email addresses are hashed before they reach the log
// stream; disabled auditors drop events entirely.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogUserRegistered logs a completed registration. The email is hashed.
func (a *Auditor) LogUserRegistered(userID, email string) {
	a.LogEvent(Event{
		Type:   EventUserRegistered,
		UserID: userID,
		Details: map[string]any{
			"email_hash": hashForLogging(email),
		},
	})
}

// LogAuthorizationStarted logs the creation of an authorization request.
func (a *Auditor) LogAuthorizationStarted(requestID, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventAuthorizationStarted,
		ClientID: clientID,
		Details: map[string]any{
			"request_id": requestID,
			"scope":      scope,
		},
	})
}

// LogCodeIssued logs an issued authorization code. Only the request ID is
// recorded; the code itself is a bearer credential and never logged.
func (a *Auditor) LogCodeIssued(requestID, clientID, userID string) {
	a.LogEvent(Event{
		Type:     EventAuthorizationCodeIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"request_id": requestID,
		},
	})
}

// LogCodeRedeemed logs a successful code exchange.
func (a *Auditor) LogCodeRedeemed(requestID, clientID, userID string) {
	a.LogEvent(Event{
		Type:     EventAuthorizationCodeRedeemed,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"request_id": requestID,
		},
	})
}

// LogTokenIssued logs when an access token is issued.
func (a *Auditor) LogTokenIssued(userID, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRefreshed logs when tokens are minted from a refresh grant.
func (a *Auditor) LogTokenRefreshed(userID, clientID string, rotated bool) {
	a.LogEvent(Event{
		Type:     EventTokenRefreshed,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogAuthFailure logs an authentication or grant failure.
func (a *Auditor) LogAuthFailure(userID, clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventAuthFailure,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(identifier, operation string) {
	a.LogEvent(Event{
		Type: EventRateLimitExceeded,
		Details: map[string]any{
			"identifier_hash": hashForLogging(identifier),
			"operation":       operation,
		},
	})
}

// LogPKCEFailure logs a failed code_verifier check.
func (a *Auditor) LogPKCEFailure(requestID, clientID, method string) {
	a.LogEvent(Event{
		Type:     EventPKCEValidationFailed,
		ClientID: clientID,
		Details: map[string]any{
			"request_id": requestID,
			"method":     method,
		},
	})
}

// hashForLogging creates a truncated SHA256 hash of sensitive data so log
// lines can be correlated without exposing the value itself.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
