package security

// Event type constants for audit logging. Using constants keeps the event
// names consistent across the codebase and greppable in log pipelines.
const (
	// Account lifecycle

	// EventUserRegistered is logged when a new user account is created.
	EventUserRegistered = "user_registered"

	// Authorization flow

	// EventAuthorizationStarted is logged when an authorization request is created.
	EventAuthorizationStarted = "authorization_started"

	// EventAuthorizationCodeIssued is logged when an authorization code is issued.
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeRedeemed is logged when a code is exchanged for tokens.
	EventAuthorizationCodeRedeemed = "authorization_code_redeemed"

	// EventAuthorizationCodeReuseDetected is logged when an already-exchanged
	// code is presented again. Treated as a possible replay attack.
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// Token lifecycle

	// EventTokenIssued is logged when an access token is issued.
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when tokens are minted from a refresh grant.
	EventTokenRefreshed = "token_refreshed"

	// EventRefreshTokenReuseDetected is logged when a rotated-out refresh
	// token is presented, which indicates theft or a stale client.
	EventRefreshTokenReuseDetected = "refresh_token_reuse_detected"

	// Security violations

	// EventAuthFailure is logged when authentication fails.
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded.
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventPKCEValidationFailed is logged when code_verifier validation fails.
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventInvalidRedirect is logged when a redirect URI does not match the
	// client's registration.
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a request asks for scopes
	// beyond what the client was granted.
	EventScopeEscalationAttempt = "scope_escalation_attempt"
)
