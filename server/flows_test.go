package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/strandauth/strand/domain"
	"github.com/strandauth/strand/internal/testutil"
	"github.com/strandauth/strand/pkce"
	"github.com/strandauth/strand/signer"
	"github.com/strandauth/strand/storage/memory"
)

const (
	testIssuer      = "https://auth.example.com"
	testClientID    = "client-1"
	testRedirectURI = "https://app.example.com/callback"
	testEmail       = "john@test.com"
	testPassword    = "abcdefghijkl"
)

// testServer wires an engine over the memory store with deterministic
// collaborators and one registered client.
func testServer(t *testing.T, cfg *Config) (*Server, *testutil.Clock) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	sign, err := signer.New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}

	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = testIssuer
	}

	srv, err := New(store, store, store, sign, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	srv.SetClock(clock)
	srv.SetPasswordHasher(testutil.PlainHasher{})

	client, err := domain.NewClient(testClientID, "Test App",
		domain.MustScopes(domain.ScopeAuthenticate, domain.ScopeRefresh, domain.ScopeOpenID),
		testRedirectURI)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	return srv, clock
}

// wantErrorCode asserts err is a *domain.Error with the given code.
func wantErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %q, got nil", code)
	}
	var derr *domain.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *domain.Error, got %T: %v", err, err)
	}
	if derr.Code != code {
		t.Fatalf("error code = %q, want %q (%v)", derr.Code, code, err)
	}
}

// authorizeParams returns valid S256 authorize parameters for the verifier.
func authorizeParams(verifier string) domain.AuthorizationParams {
	return domain.AuthorizationParams{
		ResponseType:        "code",
		RedirectURI:         testRedirectURI,
		State:               "xyz",
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: pkce.MethodS256,
	}
}

func TestRegister(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx := context.Background()

	user, err := srv.Register(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email.String() != testEmail {
		t.Errorf("email = %q, want %q", user.Email, testEmail)
	}
	if user.PasswordHash == testPassword {
		t.Error("password stored in the clear")
	}
	if len(user.RefreshTokens) != 0 {
		t.Error("new user has refresh tokens")
	}

	// Same email again fails with user-exists.
	_, err = srv.Register(ctx, testEmail, testPassword)
	wantErrorCode(t, err, domain.ErrorCodeUserExists)
}

func TestRegister_Validation(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		code     string
	}{
		{name: "missing at sign", email: "john.test.com", password: testPassword, code: domain.ErrorCodeInvalidEmail},
		{name: "spaced email", email: " john@test.com", password: testPassword, code: domain.ErrorCodeInvalidEmail},
		{name: "short password", email: testEmail, password: "abcdefghijk", code: domain.ErrorCodePasswordTooWeak},
		{name: "monotonous password", email: testEmail, password: "aaaabbbbccccdd", code: domain.ErrorCodePasswordTooWeak},
		{name: "spaced password", email: testEmail, password: " abcdefghijkl", code: domain.ErrorCodeInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.Register(ctx, tt.email, tt.password)
			wantErrorCode(t, err, tt.code)
		})
	}
}

func TestStartAuthorization(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	req, err := srv.StartAuthorization(ctx, testClientID, authorizeParams(verifier))
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	if req.Status() != domain.StatusCreated {
		t.Errorf("status = %q, want %q", req.Status(), domain.StatusCreated)
	}
	if req.Scope.String() != "openid token:authenticate token:refresh" {
		t.Errorf("defaulted scope = %q", req.Scope.String())
	}
}

func TestStartAuthorization_Failures(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx := context.Background()
	verifier := oauth2.GenerateVerifier()

	tests := []struct {
		name     string
		clientID string
		mutate   func(p *domain.AuthorizationParams)
		code     string
	}{
		{
			name:     "unknown client",
			clientID: "nope",
			mutate:   func(p *domain.AuthorizationParams) {},
			code:     domain.ErrorCodeInvalidClient,
		},
		{
			name:     "missing state",
			clientID: testClientID,
			mutate:   func(p *domain.AuthorizationParams) { p.State = "" },
			code:     domain.ErrorCodeInvalidRequest,
		},
		{
			name:     "wrong response type",
			clientID: testClientID,
			mutate:   func(p *domain.AuthorizationParams) { p.ResponseType = "token" },
			code:     domain.ErrorCodeUnsupportedResponseType,
		},
		{
			name:     "unregistered redirect",
			clientID: testClientID,
			mutate:   func(p *domain.AuthorizationParams) { p.RedirectURI = "https://evil.example.com/cb" },
			code:     domain.ErrorCodeInvalidRedirectURI,
		},
		{
			name:     "scope escalation",
			clientID: testClientID,
			mutate:   func(p *domain.AuthorizationParams) { p.Scope = "token:authenticate admin:all" },
			code:     domain.ErrorCodeInvalidScope,
		},
		{
			name:     "missing pkce",
			clientID: testClientID,
			mutate:   func(p *domain.AuthorizationParams) { p.CodeChallenge = ""; p.CodeChallengeMethod = "" },
			code:     domain.ErrorCodeInvalidRequest,
		},
		{
			name:     "plain pkce rejected by default",
			clientID: testClientID,
			mutate: func(p *domain.AuthorizationParams) {
				p.CodeChallenge = verifier
				p.CodeChallengeMethod = pkce.MethodPlain
			},
			code: domain.ErrorCodeInvalidRequest,
		},
		{
			name:     "unknown pkce method",
			clientID: testClientID,
			mutate:   func(p *domain.AuthorizationParams) { p.CodeChallengeMethod = "S512" },
			code:     domain.ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := authorizeParams(verifier)
			tt.mutate(&params)
			_, err := srv.StartAuthorization(ctx, tt.clientID, params)
			wantErrorCode(t, err, tt.code)
		})
	}
}

func TestAuthorizationPrompt(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	req, err := srv.StartAuthorization(ctx, testClientID, authorizeParams(verifier))
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}

	code, state, err := srv.AuthorizationPrompt(ctx, req.ID, testEmail, testPassword)
	if err != nil {
		t.Fatalf("AuthorizationPrompt: %v", err)
	}
	if code == "" {
		t.Error("empty authorization code")
	}
	if state != "xyz" {
		t.Errorf("state = %q, want %q", state, "xyz")
	}

	// A second prompt over the live code is rejected, not silently re-issued.
	_, _, err = srv.AuthorizationPrompt(ctx, req.ID, testEmail, testPassword)
	wantErrorCode(t, err, domain.ErrorCodeInvalidRequest)
}

func TestAuthorizationPrompt_BadCredentials(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	req, err := srv.StartAuthorization(ctx, testClientID, authorizeParams(verifier))
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}

	// Wrong password and unknown account fail identically.
	_, _, err = srv.AuthorizationPrompt(ctx, req.ID, testEmail, "wrong-password-xyz")
	wantErrorCode(t, err, domain.ErrorCodeAccessDenied)

	_, _, err = srv.AuthorizationPrompt(ctx, req.ID, "jane@test.com", testPassword)
	wantErrorCode(t, err, domain.ErrorCodeAccessDenied)

	_, _, err = srv.AuthorizationPrompt(ctx, "00000000-0000-0000-0000-000000000000", testEmail, testPassword)
	wantErrorCode(t, err, domain.ErrorCodeInvalidRequest)
}

// issueCode drives the flow up to an issued code and returns it.
func issueCode(t *testing.T, srv *Server, verifier string) (code string, requestID domain.ID) {
	t.Helper()
	ctx := context.Background()

	req, err := srv.StartAuthorization(ctx, testClientID, authorizeParams(verifier))
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	code, _, err = srv.AuthorizationPrompt(ctx, req.ID, testEmail, testPassword)
	if err != nil {
		t.Fatalf("AuthorizationPrompt: %v", err)
	}
	return code, req.ID
}

func TestExchangeAuthorizationCode(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	code, _ := issueCode(t, srv, verifier)

	tokens, err := srv.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, testRedirectURI)
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode: %v", err)
	}
	if tokens.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", tokens.TokenType)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" || tokens.IDToken == "" {
		t.Fatalf("missing tokens: %+v", tokens)
	}
	// token:refresh is stripped from the access token scope.
	if tokens.Scope != "openid token:authenticate" {
		t.Errorf("access scope = %q", tokens.Scope)
	}

	// The access token authenticates and carries canonical claims.
	payload, err := srv.Authenticate(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if payload.Issuer != testIssuer {
		t.Errorf("issuer = %q", payload.Issuer)
	}
	if payload.Audience != testClientID {
		t.Errorf("audience = %q", payload.Audience)
	}
	if payload.Scope.Has(domain.ScopeRefresh) {
		t.Error("access token carries token:refresh")
	}

	// Second exchange of the same code fails: single use.
	_, err = srv.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, testRedirectURI)
	wantErrorCode(t, err, domain.ErrorCodeInvalidGrant)
}

func TestExchangeAuthorizationCode_ChecksBeforeRedemption(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	code, _ := issueCode(t, srv, verifier)

	// Each failed attempt must leave the code redeemable.
	otherVerifier := oauth2.GenerateVerifier()

	_, err := srv.ExchangeAuthorizationCode(ctx, "other-client", code, verifier, testRedirectURI)
	wantErrorCode(t, err, domain.ErrorCodeInvalidGrant)

	_, err = srv.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, "https://evil.example.com/cb")
	wantErrorCode(t, err, domain.ErrorCodeInvalidRedirectURI)

	_, err = srv.ExchangeAuthorizationCode(ctx, testClientID, code, otherVerifier, testRedirectURI)
	wantErrorCode(t, err, domain.ErrorCodeInvalidGrant)

	_, err = srv.ExchangeAuthorizationCode(ctx, testClientID, code, "short", testRedirectURI)
	wantErrorCode(t, err, domain.ErrorCodeInvalidRequest)

	// The legitimate exchange still succeeds.
	if _, err := srv.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, testRedirectURI); err != nil {
		t.Fatalf("exchange after failed attempts: %v", err)
	}
}

func TestExchangeAuthorizationCode_UnknownCode(t *testing.T) {
	srv, _ := testServer(t, nil)

	_, err := srv.ExchangeAuthorizationCode(context.Background(), testClientID, "no-such-code", oauth2.GenerateVerifier(), testRedirectURI)
	wantErrorCode(t, err, domain.ErrorCodeInvalidGrant)
}

func TestExchangeAuthorizationCode_ExpiredCode(t *testing.T) {
	srv, clock := testServer(t, nil)
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	code, _ := issueCode(t, srv, verifier)

	clock.Advance(11 * time.Minute) // past the 600s default TTL

	_, err := srv.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, testRedirectURI)
	wantErrorCode(t, err, domain.ErrorCodeInvalidGrant)
}

func TestExchangeAuthorizationCode_ConcurrentOneWinner(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	code, _ := issueCode(t, srv, verifier)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = srv.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, testRedirectURI)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			wantErrorCode(t, err, domain.ErrorCodeInvalidGrant)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestRefresh(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	code, _ := issueCode(t, srv, verifier)
	tokens, err := srv.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, testRedirectURI)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	refreshed, err := srv.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.AccessToken == "" {
		t.Error("refresh produced no access token")
	}
	if refreshed.RefreshToken == "" {
		t.Error("rotation enabled but no new refresh token returned")
	}
	if refreshed.RefreshToken == tokens.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	// The new access token authenticates.
	if _, err := srv.Authenticate(ctx, refreshed.AccessToken); err != nil {
		t.Fatalf("Authenticate after refresh: %v", err)
	}

	// The superseded refresh token is dead: rotation replaced it.
	_, err = srv.Refresh(ctx, tokens.RefreshToken)
	wantErrorCode(t, err, domain.ErrorCodeInvalidGrant)

	// The rotated token still works.
	if _, err := srv.Refresh(ctx, refreshed.RefreshToken); err != nil {
		t.Fatalf("Refresh with rotated token: %v", err)
	}
}

func TestRefresh_RotationDisabled(t *testing.T) {
	srv, _ := testServer(t, &Config{
		RotateRefreshTokens: false,
		RequirePKCE:         true,
	})
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	code, _ := issueCode(t, srv, verifier)
	tokens, err := srv.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, testRedirectURI)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	refreshed, err := srv.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken != "" {
		t.Error("rotation disabled but a new refresh token was returned")
	}

	// The original refresh token remains usable.
	if _, err := srv.Refresh(ctx, tokens.RefreshToken); err != nil {
		t.Fatalf("second Refresh with same token: %v", err)
	}
}

func TestRefresh_Failures(t *testing.T) {
	srv, clock := testServer(t, nil)
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	code, _ := issueCode(t, srv, verifier)
	tokens, err := srv.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, testRedirectURI)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	// Garbage token.
	_, err = srv.Refresh(ctx, "not.a.token")
	wantErrorCode(t, err, domain.ErrorCodeInvalidGrant)

	// An access token is not a refresh token: wrong scope.
	_, err = srv.Refresh(ctx, tokens.AccessToken)
	wantErrorCode(t, err, domain.ErrorCodeInvalidGrant)

	// Expired refresh token.
	clock.Advance(91 * 24 * time.Hour)
	_, err = srv.Refresh(ctx, tokens.RefreshToken)
	wantErrorCode(t, err, domain.ErrorCodeInvalidGrant)
}

func TestAuthenticate_Failures(t *testing.T) {
	srv, clock := testServer(t, nil)
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	code, _ := issueCode(t, srv, verifier)
	tokens, err := srv.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, testRedirectURI)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	// Garbage bearer.
	_, err = srv.Authenticate(ctx, "garbage")
	wantErrorCode(t, err, domain.ErrorCodeInvalidToken)

	// A refresh token lacks token:authenticate.
	_, err = srv.Authenticate(ctx, tokens.RefreshToken)
	wantErrorCode(t, err, domain.ErrorCodeInvalidScope)

	// Within clock-skew grace the token still authenticates.
	clock.Advance(time.Hour + 2*time.Second)
	if _, err := srv.Authenticate(ctx, tokens.AccessToken); err != nil {
		t.Fatalf("Authenticate within grace: %v", err)
	}

	// Beyond grace it is expired.
	clock.Advance(10 * time.Second)
	_, err = srv.Authenticate(ctx, tokens.AccessToken)
	wantErrorCode(t, err, domain.ErrorCodeTokenExpired)
}

func TestAuthenticate_WrongIssuer(t *testing.T) {
	srv, _ := testServer(t, nil)
	other, _ := testServer(t, &Config{Issuer: "https://other.example.com"})
	ctx := context.Background()

	if _, err := other.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()

	req, err := other.StartAuthorization(ctx, testClientID, authorizeParams(verifier))
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	code, _, err := other.AuthorizationPrompt(ctx, req.ID, testEmail, testPassword)
	if err != nil {
		t.Fatalf("AuthorizationPrompt: %v", err)
	}
	tokens, err := other.ExchangeAuthorizationCode(ctx, testClientID, code, verifier, testRedirectURI)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	// Same signing key, different issuer: rejected on the issuer claim.
	_, err = srv.Authenticate(ctx, tokens.AccessToken)
	wantErrorCode(t, err, domain.ErrorCodeInvalidToken)
}

func TestAuthorizationPrompt_RetryAfterCodeExpiry(t *testing.T) {
	srv, clock := testServer(t, nil)
	ctx := context.Background()

	if _, err := srv.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verifier := oauth2.GenerateVerifier()
	code, requestID := issueCode(t, srv, verifier)

	// Let the code expire unredeemed; the request may be prompted again.
	clock.Advance(11 * time.Minute)

	newCode, _, err := srv.AuthorizationPrompt(ctx, requestID, testEmail, testPassword)
	if err != nil {
		t.Fatalf("re-prompt after expiry: %v", err)
	}
	if newCode == code {
		t.Error("expired code was reused")
	}

	if _, err := srv.ExchangeAuthorizationCode(ctx, testClientID, newCode, verifier, testRedirectURI); err != nil {
		t.Fatalf("exchange of re-issued code: %v", err)
	}
}
