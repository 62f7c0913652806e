package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/strandauth/strand/domain"
	"github.com/strandauth/strand/internal/testutil"
	"github.com/strandauth/strand/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	t.Cleanup(s.Stop)
	return s
}

func newRequest(t *testing.T) *domain.AuthorizationRequest {
	t.Helper()
	client, err := domain.NewClient("client-1", "Test Client",
		domain.MustScopes(domain.ScopeAuthenticate), "https://app.example.com/cb")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	req, err := domain.NewAuthorizationRequest(client, domain.AuthorizationParams{
		ResponseType:        "code",
		RedirectURI:         client.RedirectURI,
		State:               "state-1",
		CodeChallenge:       testutil.S256Challenge(testutil.GenerateRandomString(50)),
		CodeChallengeMethod: "S256",
	})
	if err != nil {
		t.Fatalf("NewAuthorizationRequest() error = %v", err)
	}
	return req
}

func newUser(t *testing.T, email string) *domain.User {
	t.Helper()
	parsed, err := domain.ParseEmail(email)
	if err != nil {
		t.Fatalf("ParseEmail() error = %v", err)
	}
	user, err := domain.NewUser(parsed, "$2a$10$hash")
	if err != nil {
		t.Fatalf("NewUser() error = %v", err)
	}
	return user
}

func TestStore_ClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	client, _ := domain.NewClient("client-1", "CRM",
		domain.MustScopes(domain.ScopeAuthenticate), "https://crm.example.com/cb")
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.Name != "CRM" || got.RedirectURI != client.RedirectURI {
		t.Errorf("GetClient() = %+v, want saved client", got)
	}

	if _, err := store.GetClient(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClient(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestStore_RequestRevisionCAS(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	req := newRequest(t)

	if err := store.SaveRequest(ctx, req); err != nil {
		t.Fatalf("initial SaveRequest() error = %v", err)
	}
	if req.Revision != 1 {
		t.Errorf("Revision after first save = %d, want 1", req.Revision)
	}

	// Two copies loaded at the same revision: only one save may win.
	a, err := store.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	b, err := store.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}

	if err := store.SaveRequest(ctx, a); err != nil {
		t.Fatalf("SaveRequest(a) error = %v", err)
	}
	if err := store.SaveRequest(ctx, b); !errors.Is(err, storage.ErrRevisionConflict) {
		t.Errorf("SaveRequest(b) error = %v, want ErrRevisionConflict", err)
	}
}

func TestStore_ConcurrentRedemption_OneWinner(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	clock := testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	req := newRequest(t)
	if _, err := req.IssueAuthorizationCode(domain.NewID(), testutil.NewCodeGenerator("the-code"), clock, 10*time.Minute); err != nil {
		t.Fatalf("IssueAuthorizationCode() error = %v", err)
	}
	if err := store.SaveRequest(ctx, req); err != nil {
		t.Fatalf("SaveRequest() error = %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loaded, err := store.GetRequestByCode(ctx, "the-code")
			if err != nil {
				return
			}
			if _, err := loaded.UseAuthorizationCode("the-code", clock); err != nil {
				return
			}
			if err := store.SaveRequest(ctx, loaded); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Errorf("concurrent redemptions: %d winners, want exactly 1", winners)
	}
}

func TestStore_GetRequestByCode(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	clock := testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	req := newRequest(t)
	if _, err := req.IssueAuthorizationCode(domain.NewID(), testutil.NewCodeGenerator("lookup-code"), clock, time.Minute); err != nil {
		t.Fatalf("IssueAuthorizationCode() error = %v", err)
	}
	if err := store.SaveRequest(ctx, req); err != nil {
		t.Fatalf("SaveRequest() error = %v", err)
	}

	got, err := store.GetRequestByCode(ctx, "lookup-code")
	if err != nil {
		t.Fatalf("GetRequestByCode() error = %v", err)
	}
	if got.ID != req.ID {
		t.Errorf("GetRequestByCode() id = %s, want %s", got.ID, req.ID)
	}

	if _, err := store.GetRequestByCode(ctx, "unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetRequestByCode(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestStore_UserUniqueEmail(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	first := newUser(t, "john@test.com")
	if err := store.SaveUser(ctx, first); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	second := newUser(t, "john@test.com")
	if err := store.SaveUser(ctx, second); !errors.Is(err, storage.ErrDuplicateEmail) {
		t.Errorf("SaveUser(duplicate) error = %v, want ErrDuplicateEmail", err)
	}

	n, err := store.CountByEmail(ctx, "john@test.com")
	if err != nil {
		t.Fatalf("CountByEmail() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountByEmail() = %d, want 1", n)
	}

	got, err := store.GetUserByEmail(ctx, "john@test.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("GetUserByEmail() id = %s, want %s", got.ID, first.ID)
	}
}

func TestStore_UserRevisionCAS(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	clock := testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	user := newUser(t, "jane@test.com")
	if err := store.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	a, _ := store.GetUser(ctx, user.ID)
	b, _ := store.GetUser(ctx, user.ID)

	a.RotateRefreshToken(domain.RefreshToken{JTI: "a", Exp: clock.NowSeconds() + 3600, Aud: "client-1"}, clock)
	b.RotateRefreshToken(domain.RefreshToken{JTI: "b", Exp: clock.NowSeconds() + 3600, Aud: "client-1"}, clock)

	if err := store.SaveUser(ctx, a); err != nil {
		t.Fatalf("SaveUser(a) error = %v", err)
	}
	if err := store.SaveUser(ctx, b); !errors.Is(err, storage.ErrRevisionConflict) {
		t.Errorf("SaveUser(b) error = %v, want ErrRevisionConflict", err)
	}

	// The losing rotation is not silently dropped: reload and retry.
	fresh, _ := store.GetUser(ctx, user.ID)
	fresh.RotateRefreshToken(domain.RefreshToken{JTI: "b", Exp: clock.NowSeconds() + 3600, Aud: "client-1"}, clock)
	if err := store.SaveUser(ctx, fresh); err != nil {
		t.Fatalf("retried SaveUser() error = %v", err)
	}
	final, _ := store.GetUser(ctx, user.ID)
	if !final.HasRefreshToken("b", clock) || final.HasRefreshToken("a", clock) {
		t.Errorf("retried rotation lost: tokens = %+v", final.RefreshTokens)
	}
}

func TestStore_CleanupDropsFinishedRequests(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	clock := testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	redeemed := newRequest(t)
	if _, err := redeemed.IssueAuthorizationCode(domain.NewID(), testutil.NewCodeGenerator("done"), clock, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := redeemed.UseAuthorizationCode("done", clock); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRequest(ctx, redeemed); err != nil {
		t.Fatal(err)
	}

	pending := newRequest(t)
	if _, err := pending.IssueAuthorizationCode(domain.NewID(), testutil.NewCodeGenerator("live"), clock, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRequest(ctx, pending); err != nil {
		t.Fatal(err)
	}

	store.cleanup(clock.Now())

	if _, err := store.GetRequestByCode(ctx, "done"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("redeemed request survived cleanup: %v", err)
	}
	if _, err := store.GetRequestByCode(ctx, "live"); err != nil {
		t.Errorf("pending request reaped by cleanup: %v", err)
	}
}

func TestStore_CleanupReapsAbandonedRequests(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	abandoned := newRequest(t)
	if err := store.SaveRequest(ctx, abandoned); err != nil {
		t.Fatal(err)
	}

	store.cleanup(time.Now())
	if _, err := store.GetRequest(ctx, abandoned.ID); err != nil {
		t.Fatalf("fresh created-state request reaped by cleanup: %v", err)
	}

	store.cleanup(time.Now().Add(2 * time.Hour))
	if _, err := store.GetRequest(ctx, abandoned.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("created-state request survived cleanup past its TTL: %v", err)
	}
	if len(store.created) != 0 {
		t.Errorf("creation timestamps leaked: %d entries", len(store.created))
	}
}
