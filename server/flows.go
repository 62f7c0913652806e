package server

import (
	"context"
	"errors"
	"strings"

	"github.com/strandauth/strand/domain"
	"github.com/strandauth/strand/internal/util"
	"github.com/strandauth/strand/pkce"
	"github.com/strandauth/strand/security"
	"github.com/strandauth/strand/storage"
)

// rotationRetries bounds the reload-and-retry loop around refresh-token
// rotation when a concurrent writer wins the user CAS.
const rotationRetries = 3

// Tokens is the result of a successful code exchange or refresh grant.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Register creates a new user account. The email must not already be
// registered; the store's unique index is the authoritative guard, the
// CountByEmail pre-check just produces the friendlier error on the common
// path.
func (s *Server) Register(ctx context.Context, rawEmail, rawPassword string) (*domain.User, error) {
	email, err := domain.ParseEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	password, err := domain.ParsePassword(rawPassword)
	if err != nil {
		return nil, err
	}

	count, err := s.users.CountByEmail(ctx, email)
	if err != nil {
		s.Logger.Error("failed to count users by email", "error", err)
		return nil, domain.ErrServerError("registration is temporarily unavailable")
	}
	if count > 0 {
		return nil, domain.ErrUserExists("a user with this email already exists")
	}

	hash, err := s.hasher.Hash(password.Plaintext())
	if err != nil {
		s.Logger.Error("failed to hash password", "error", err)
		return nil, domain.ErrServerError("registration is temporarily unavailable")
	}

	user, err := domain.NewUser(email, hash)
	if err != nil {
		return nil, err
	}

	if err := s.users.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			// Lost the check-then-act race to a concurrent registration.
			return nil, domain.ErrUserExists("a user with this email already exists")
		}
		s.Logger.Error("failed to save user", "error", err)
		return nil, domain.ErrServerError("registration is temporarily unavailable")
	}

	s.Auditor.LogUserRegistered(user.ID.String(), email.String())
	s.Metrics.RecordRegistration(ctx)
	s.Logger.Info("user registered", "user_id", user.ID)

	return user, nil
}

// StartAuthorization validates an authorize request against the client's
// registration and the PKCE policy and persists it in the Created state.
func (s *Server) StartAuthorization(ctx context.Context, clientID string, params domain.AuthorizationParams) (*domain.AuthorizationRequest, error) {
	if err := s.checkPKCEPolicy(&params); err != nil {
		s.Auditor.LogAuthFailure("", clientID, "pkce_policy")
		return nil, err
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.Auditor.LogAuthFailure("", clientID, domain.ErrorCodeInvalidClient)
			return nil, domain.ErrInvalidClient("unknown client")
		}
		s.Logger.Error("failed to load client", "client_id", clientID, "error", err)
		return nil, domain.ErrServerError("authorization is temporarily unavailable")
	}

	req, err := domain.NewAuthorizationRequest(client, params)
	if err != nil {
		s.Auditor.LogAuthFailure("", clientID, errorCode(err))
		return nil, err
	}

	if err := s.requests.SaveRequest(ctx, req); err != nil {
		s.Logger.Error("failed to save authorization request", "request_id", req.ID, "error", err)
		return nil, domain.ErrServerError("authorization is temporarily unavailable")
	}

	s.Auditor.LogAuthorizationStarted(req.ID.String(), clientID, req.Scope.String())
	s.Metrics.RecordAuthorizationStarted(ctx, clientID)
	s.Logger.Info("authorization request created",
		"request_id", req.ID,
		"client_id", clientID,
		"code_challenge_method", req.CodeChallengeMethod)

	return req, nil
}

// checkPKCEPolicy enforces the configured PKCE policy before the request
// reaches the state machine. A request without PKCE is normalized to the
// explicit "none" method so the exchange path has a single code path.
func (s *Server) checkPKCEPolicy(params *domain.AuthorizationParams) error {
	if params.CodeChallenge == "" {
		if s.Config.RequirePKCE {
			return domain.ErrInvalidRequest("code_challenge is required").WithState(params.State)
		}
		if !s.Config.AllowPKCENone {
			return domain.ErrInvalidRequest("authorization without PKCE is not allowed").WithState(params.State)
		}
		params.CodeChallengeMethod = pkce.MethodNone
		return nil
	}

	switch params.CodeChallengeMethod {
	case pkce.MethodS256:
		return nil
	case pkce.MethodPlain:
		if !s.Config.AllowPKCEPlain {
			return domain.ErrInvalidRequest("the plain code_challenge_method is not allowed, use S256").WithState(params.State)
		}
		return nil
	case "":
		return domain.ErrInvalidRequest("code_challenge_method is required when code_challenge is present").WithState(params.State)
	default:
		return domain.ErrInvalidRequest("unsupported code_challenge_method: " + params.CodeChallengeMethod).WithState(params.State)
	}
}

// GetAuthorizationRequest loads a pending authorization request, e.g. for
// rendering the login prompt or building the success redirect.
func (s *Server) GetAuthorizationRequest(ctx context.Context, requestID domain.ID) (*domain.AuthorizationRequest, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.ErrInvalidRequest("unknown authorization request")
		}
		s.Logger.Error("failed to load authorization request", "request_id", requestID, "error", err)
		return nil, domain.ErrServerError("authorization is temporarily unavailable")
	}
	return req, nil
}

// AuthorizationPrompt authenticates the resource owner against a pending
// authorization request and issues the single-use code. Credential failures
// are reported as a uniform access_denied so the endpoint cannot be used to
// enumerate accounts.
func (s *Server) AuthorizationPrompt(ctx context.Context, requestID domain.ID, rawEmail, rawPassword string) (code string, state string, err error) {
	identifier := strings.ToLower(strings.TrimSpace(rawEmail))
	if s.RateLimiter != nil && !s.RateLimiter.Allow(identifier) {
		s.Auditor.LogRateLimitExceeded(identifier, "authorization_prompt")
		s.Metrics.RecordRateLimitExceeded(ctx, "authorization_prompt")
		return "", "", domain.ErrAccessDenied("too many attempts, try again later")
	}

	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", "", domain.ErrInvalidRequest("unknown authorization request")
		}
		s.Logger.Error("failed to load authorization request", "request_id", requestID, "error", err)
		return "", "", domain.ErrServerError("authorization is temporarily unavailable")
	}

	user, err := s.authenticateOwner(ctx, rawEmail, rawPassword)
	if err != nil {
		s.Auditor.LogAuthFailure("", req.ClientID, "bad_credentials")
		s.Metrics.RecordAuthFailure(ctx, "bad_credentials")
		return "", "", err
	}

	issued, err := req.IssueAuthorizationCode(user.ID, s.codeGen, s.clock, s.Config.AuthorizationCodeLifetime())
	if err != nil {
		return "", "", err
	}

	if err := s.requests.SaveRequest(ctx, req); err != nil {
		if errors.Is(err, storage.ErrRevisionConflict) {
			// A concurrent prompt answered first.
			return "", "", domain.ErrInvalidRequest("authorization request was modified concurrently").WithState(req.State)
		}
		s.Logger.Error("failed to save authorization request", "request_id", req.ID, "error", err)
		return "", "", domain.ErrServerError("authorization is temporarily unavailable")
	}

	s.Auditor.LogCodeIssued(req.ID.String(), req.ClientID, user.ID.String())
	s.Metrics.RecordCodeIssued(ctx, req.ClientID)
	s.Logger.Info("authorization code issued",
		"request_id", req.ID,
		"client_id", req.ClientID,
		"code_prefix", util.SafeTruncate(issued.Code, 8))

	return issued.Code, req.State, nil
}

// authenticateOwner resolves and verifies the resource owner's credentials.
// Every failure collapses into the same access_denied.
func (s *Server) authenticateOwner(ctx context.Context, rawEmail, rawPassword string) (*domain.User, error) {
	denied := domain.ErrAccessDenied("invalid email or password")

	email, err := domain.ParseEmail(rawEmail)
	if err != nil {
		return nil, denied
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, denied
		}
		s.Logger.Error("failed to load user by email", "error", err)
		return nil, domain.ErrServerError("authorization is temporarily unavailable")
	}

	if !s.hasher.Compare(rawPassword, user.PasswordHash) {
		return nil, denied
	}
	return user, nil
}

// ExchangeAuthorizationCode redeems an authorization code for tokens. The
// client identity, redirect URI, and PKCE proof are all checked BEFORE the
// code is redeemed, so a failed attempt leaves the code unexchanged and the
// legitimate client can still use it. Redemption itself is arbitrated by the
// request store's revision CAS: of two concurrent exchanges exactly one
// persists, the loser surfaces invalid_grant.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, clientID, code, codeVerifier, redirectURI string) (*Tokens, error) {
	req, err := s.requests.GetRequestByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.Auditor.LogAuthFailure("", clientID, "unknown_code")
			s.Metrics.RecordAuthFailure(ctx, "unknown_code")
			return nil, domain.ErrInvalidGrant("authorization code is invalid")
		}
		s.Logger.Error("failed to load request by code", "error", err)
		return nil, domain.ErrServerError("token issuance is temporarily unavailable")
	}

	if req.ClientID != clientID {
		s.Auditor.LogAuthFailure("", clientID, "client_mismatch")
		s.Metrics.RecordAuthFailure(ctx, "client_mismatch")
		return nil, domain.ErrInvalidGrant("authorization code was issued to a different client")
	}

	if redirectURI != req.RedirectURI {
		s.Auditor.LogEvent(auditEvent(req, security.EventInvalidRedirect))
		s.Metrics.RecordAuthFailure(ctx, "redirect_mismatch")
		return nil, domain.ErrInvalidRedirectURI("redirect_uri does not match the authorization request")
	}

	ok, err := pkce.Verify(codeVerifier, req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.Auditor.LogPKCEFailure(req.ID.String(), clientID, req.CodeChallengeMethod)
		s.Metrics.RecordPKCEValidationFailed(ctx, req.CodeChallengeMethod)
		return nil, domain.ErrInvalidGrant("code verifier does not match the challenge")
	}

	wasExchanged := req.Code != nil && req.Code.IsExchanged()
	subject, err := req.UseAuthorizationCode(code, s.clock)
	if err != nil {
		if wasExchanged {
			s.Auditor.LogEvent(auditEvent(req, security.EventAuthorizationCodeReuseDetected))
		}
		s.Metrics.RecordAuthFailure(ctx, "redemption_failed")
		return nil, err
	}

	if err := s.requests.SaveRequest(ctx, req); err != nil {
		if errors.Is(err, storage.ErrRevisionConflict) {
			// A concurrent exchange won the CAS; this one never happened.
			s.Metrics.RecordAuthFailure(ctx, "concurrent_redemption")
			return nil, domain.ErrInvalidGrant("authorization code has already been used")
		}
		s.Logger.Error("failed to persist redemption", "request_id", req.ID, "error", err)
		return nil, domain.ErrServerError("token issuance is temporarily unavailable")
	}

	user, err := s.users.GetUser(ctx, subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The account vanished between code issuance and exchange.
			return nil, domain.ErrInvalidGrant("authorization code subject no longer exists")
		}
		s.Logger.Error("failed to load user", "user_id", subject, "error", err)
		return nil, domain.ErrServerError("token issuance is temporarily unavailable")
	}

	tokens, err := s.mintTokens(ctx, user, clientID, req.Scope)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogCodeRedeemed(req.ID.String(), clientID, user.ID.String())
	s.Auditor.LogTokenIssued(user.ID.String(), clientID, tokens.Scope)
	s.Metrics.RecordCodeExchanged(ctx, clientID, req.CodeChallengeMethod)
	s.Logger.Info("authorization code exchanged",
		"request_id", req.ID,
		"client_id", clientID,
		"scope", tokens.Scope)

	return tokens, nil
}

// mintTokens signs the token set for a grant: an access token always, a
// refresh token iff the grant includes token:refresh, an ID token iff it
// includes openid. The refresh token carries the full granted scope so a
// later refresh can re-derive the access scope from it.
func (s *Server) mintTokens(ctx context.Context, user *domain.User, clientID string, granted domain.ScopeSet) (*Tokens, error) {
	now := s.clock.NowSeconds()
	accessScope := granted.Remove(domain.ScopeRefresh)

	access, err := domain.NewTokenPayload(
		domain.NewID().String(),
		s.Config.Issuer,
		user.ID.String(),
		now,
		now+domain.NumericDate(s.Config.AccessTokenTTL),
		accessScope,
	)
	if err != nil {
		return nil, err
	}
	access.Audience = clientID

	accessToken, err := s.signer.Sign(access)
	if err != nil {
		s.Logger.Error("failed to sign access token", "error", err)
		return nil, domain.ErrServerError("token issuance is temporarily unavailable")
	}

	tokens := &Tokens{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   s.Config.AccessTokenTTL,
		Scope:       accessScope.String(),
	}

	if granted.Has(domain.ScopeRefresh) {
		refreshToken, err := s.mintAndStoreRefreshToken(ctx, user, clientID, granted)
		if err != nil {
			return nil, err
		}
		tokens.RefreshToken = refreshToken
	}

	if granted.Has(domain.ScopeOpenID) {
		idToken, err := s.mintIDToken(user, clientID, granted, now)
		if err != nil {
			return nil, err
		}
		tokens.IDToken = idToken
	}

	return tokens, nil
}

// mintAndStoreRefreshToken signs a refresh token and rotates it onto the
// user. The save is retried on revision conflicts so a rotation racing an
// unrelated update is not lost.
func (s *Server) mintAndStoreRefreshToken(ctx context.Context, user *domain.User, clientID string, granted domain.ScopeSet) (string, error) {
	now := s.clock.NowSeconds()

	payload, err := domain.NewTokenPayload(
		domain.NewID().String(),
		s.Config.Issuer,
		user.ID.String(),
		now,
		now+domain.NumericDate(s.Config.RefreshTokenTTL),
		granted,
	)
	if err != nil {
		return "", err
	}
	payload.Audience = clientID

	signed, err := s.signer.Sign(payload)
	if err != nil {
		s.Logger.Error("failed to sign refresh token", "error", err)
		return "", domain.ErrServerError("token issuance is temporarily unavailable")
	}

	for attempt := 0; attempt < rotationRetries; attempt++ {
		user.RotateRefreshToken(payload.RefreshTokenValue(), s.clock)

		err := s.users.SaveUser(ctx, user)
		if err == nil {
			return signed, nil
		}
		if !errors.Is(err, storage.ErrRevisionConflict) {
			s.Logger.Error("failed to save user", "user_id", user.ID, "error", err)
			return "", domain.ErrServerError("token issuance is temporarily unavailable")
		}

		fresh, loadErr := s.users.GetUser(ctx, user.ID)
		if loadErr != nil {
			s.Logger.Error("failed to reload user after conflict", "user_id", user.ID, "error", loadErr)
			return "", domain.ErrServerError("token issuance is temporarily unavailable")
		}
		*user = *fresh
	}

	s.Logger.Error("refresh token rotation exhausted retries", "user_id", user.ID)
	return "", domain.ErrServerError("token issuance is temporarily unavailable")
}

// mintIDToken signs the identity token carried alongside an openid grant.
func (s *Server) mintIDToken(user *domain.User, clientID string, granted domain.ScopeSet, now domain.NumericDate) (string, error) {
	idScope := domain.MustScopes(domain.ScopeOpenID)
	if granted.Has(domain.ScopeProfile) {
		idScope = idScope.Add(domain.ScopeProfile)
	}

	payload, err := domain.NewTokenPayload(
		domain.NewID().String(),
		s.Config.Issuer,
		user.ID.String(),
		now,
		now+domain.NumericDate(s.Config.AccessTokenTTL),
		idScope,
	)
	if err != nil {
		return "", err
	}
	payload.Audience = clientID
	payload.Email = user.Email.String()

	signed, err := s.signer.Sign(payload)
	if err != nil {
		s.Logger.Error("failed to sign id token", "error", err)
		return "", domain.ErrServerError("token issuance is temporarily unavailable")
	}
	return signed, nil
}

// Refresh mints a fresh token set from a refresh grant. Every failure maps
// to invalid_grant: a token endpoint must not reveal whether the token was
// malformed, expired, rotated out, or bound to a missing account.
func (s *Server) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	payload, err := s.signer.Verify(refreshToken)
	if err != nil {
		s.Metrics.RecordAuthFailure(ctx, "refresh_bad_signature")
		return nil, domain.ErrInvalidGrant("refresh token is invalid")
	}

	if payload.Issuer != s.Config.Issuer {
		s.Metrics.RecordAuthFailure(ctx, "refresh_wrong_issuer")
		return nil, domain.ErrInvalidGrant("refresh token is invalid")
	}
	if security.ExpiredWithGrace(s.clock.Now(), payload.Exp, s.Config.ClockSkewGrace()) {
		s.Metrics.RecordAuthFailure(ctx, "refresh_expired")
		return nil, domain.ErrInvalidGrant("refresh token has expired")
	}
	if !payload.Scope.Has(domain.ScopeRefresh) {
		s.Metrics.RecordAuthFailure(ctx, "refresh_wrong_scope")
		return nil, domain.ErrInvalidGrant("token cannot be used as a refresh token")
	}

	subject, err := domain.ParseID(payload.Subject)
	if err != nil {
		return nil, domain.ErrInvalidGrant("refresh token is invalid")
	}

	user, err := s.users.GetUser(ctx, subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.ErrInvalidGrant("refresh token is invalid")
		}
		s.Logger.Error("failed to load user", "error", err)
		return nil, domain.ErrServerError("token refresh is temporarily unavailable")
	}

	if !user.HasRefreshToken(payload.JTI, s.clock) {
		// The token verified but is no longer on the user: rotated out,
		// pruned, or stolen and already replaced.
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventRefreshTokenReuseDetected,
			UserID:   user.ID.String(),
			ClientID: payload.Audience,
		})
		s.Metrics.RecordAuthFailure(ctx, "refresh_reuse")
		return nil, domain.ErrInvalidGrant("refresh token is no longer valid")
	}

	rotated := s.Config.RotateRefreshTokens

	var tokens *Tokens
	if rotated {
		tokens, err = s.mintTokens(ctx, user, payload.Audience, payload.Scope)
	} else {
		tokens, err = s.mintTokens(ctx, user, payload.Audience, payload.Scope.Remove(domain.ScopeRefresh))
	}
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenRefreshed(user.ID.String(), payload.Audience, rotated)
	s.Metrics.RecordTokenRefreshed(ctx, payload.Audience, rotated)
	s.Logger.Info("tokens refreshed",
		"user_id", user.ID,
		"client_id", payload.Audience,
		"rotated", rotated)

	return tokens, nil
}

// Authenticate verifies a bearer access token and returns its claims. The
// checks run in a fixed order: signature, issuer, expiry with clock-skew
// grace, then capability scope, so a given bad token always fails the same way.
func (s *Server) Authenticate(ctx context.Context, bearer string) (*domain.TokenPayload, error) {
	payload, err := s.signer.Verify(bearer)
	if err != nil {
		s.Metrics.RecordAuthFailure(ctx, "bad_signature")
		return nil, domain.ErrInvalidToken("token is invalid")
	}

	if payload.Issuer != s.Config.Issuer {
		s.Metrics.RecordAuthFailure(ctx, "wrong_issuer")
		return nil, domain.ErrInvalidToken("token was issued by a different issuer")
	}

	if security.ExpiredWithGrace(s.clock.Now(), payload.Exp, s.Config.ClockSkewGrace()) {
		s.Metrics.RecordAuthFailure(ctx, "expired")
		return nil, domain.ErrTokenExpired("token has expired")
	}

	if !payload.Scope.Has(domain.ScopeAuthenticate) {
		s.Metrics.RecordAuthFailure(ctx, "missing_scope")
		return nil, domain.ErrInvalidScope("token does not carry the " + domain.ScopeAuthenticate + " scope")
	}

	return payload, nil
}

// errorCode extracts the code of a domain error for audit labels.
func errorCode(err error) string {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return derr.Code
	}
	return domain.ErrorCodeServerError
}

func auditEvent(req *domain.AuthorizationRequest, eventType string) security.Event {
	return security.Event{
		Type:     eventType,
		ClientID: req.ClientID,
		Details: map[string]any{
			"request_id": req.ID.String(),
		},
	}
}
