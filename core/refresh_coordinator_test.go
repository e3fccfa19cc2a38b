package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingEndpoint struct {
	mu       sync.Mutex
	calls    int32
	delay    time.Duration
	grant    TokenGrant
	failWith error
}

func (e *countingEndpoint) RefreshGrant(ctx context.Context, _ MarketplaceConfig, _ Credential) (TokenGrant, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return TokenGrant{}, ctx.Err()
		case <-time.After(e.delay):
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failWith != nil {
		return TokenGrant{}, e.failWith
	}
	return e.grant, nil
}

func (e *countingEndpoint) callCount() int32 {
	return atomic.LoadInt32(&e.calls)
}

func expiringCredential(userID int64, expiresIn time.Duration) Credential {
	cred := activeCredential(userID, MarketplaceEbay, EnvironmentProduction, CredentialScopeUser)
	cred.RefreshToken = "refresh-token"
	expiresAt := time.Now().UTC().Add(expiresIn)
	cred.AccessTokenExpiresAt = &expiresAt
	return cred
}

func newTestCoordinator(t *testing.T, vault *CredentialVault, endpoint TokenEndpointCaller) *TokenRefreshCoordinator {
	t.Helper()
	coordinator, err := NewTokenRefreshCoordinator(vault, endpoint, nil, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new refresh coordinator: %v", err)
	}
	return coordinator
}

func TestRefreshCoordinatorSingleFlight(t *testing.T) {
	persistence := newMemoryPersistence()
	vault := newTestVault(t, persistence)
	ctx := context.Background()

	cred := expiringCredential(42, time.Minute)
	if _, err := vault.Save(ctx, cred, EnvironmentProduction, CredentialScopeUser); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	endpoint := &countingEndpoint{
		delay: 50 * time.Millisecond,
		grant: TokenGrant{AccessToken: "fresh-token", ExpiresIn: 3600},
	}
	coordinator := newTestCoordinator(t, vault, endpoint)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]Credential, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coordinator.Refresh(ctx, 42, MarketplaceEbay, EnvironmentProduction)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i].AccessToken != "fresh-token" {
			t.Fatalf("caller %d got stale token %q", i, results[i].AccessToken)
		}
	}
	if got := endpoint.callCount(); got != 1 {
		t.Fatalf("expected one token endpoint call, got %d", got)
	}
}

func TestRefreshCoordinatorDistinctSlotsRefreshIndependently(t *testing.T) {
	persistence := newMemoryPersistence()
	vault := newTestVault(t, persistence)
	ctx := context.Background()

	for _, userID := range []int64{1, 2} {
		if _, err := vault.Save(ctx, expiringCredential(userID, time.Minute), EnvironmentProduction, CredentialScopeUser); err != nil {
			t.Fatalf("save credential for user %d: %v", userID, err)
		}
	}

	endpoint := &countingEndpoint{grant: TokenGrant{AccessToken: "fresh-token", ExpiresIn: 3600}}
	coordinator := newTestCoordinator(t, vault, endpoint)

	if _, err := coordinator.Refresh(ctx, 1, MarketplaceEbay, EnvironmentProduction); err != nil {
		t.Fatalf("refresh user 1: %v", err)
	}
	if _, err := coordinator.Refresh(ctx, 2, MarketplaceEbay, EnvironmentProduction); err != nil {
		t.Fatalf("refresh user 2: %v", err)
	}
	if got := endpoint.callCount(); got != 2 {
		t.Fatalf("expected independent refreshes, got %d calls", got)
	}
}

func TestEnsureFreshSkipsNetworkWhenTokenIsFresh(t *testing.T) {
	persistence := newMemoryPersistence()
	vault := newTestVault(t, persistence)
	ctx := context.Background()

	if _, err := vault.Save(ctx, expiringCredential(42, time.Hour), EnvironmentProduction, CredentialScopeUser); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	endpoint := &countingEndpoint{grant: TokenGrant{AccessToken: "fresh-token", ExpiresIn: 3600}}
	coordinator := newTestCoordinator(t, vault, endpoint)

	resolved, err := coordinator.EnsureFresh(ctx, 42, MarketplaceEbay, EnvironmentProduction)
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if resolved.Credential.AccessToken != "token" {
		t.Fatalf("expected existing token, got %q", resolved.Credential.AccessToken)
	}
	if got := endpoint.callCount(); got != 0 {
		t.Fatalf("expected no endpoint calls for fresh token, got %d", got)
	}
}

func TestEnsureFreshRefreshesInsideSafetyMargin(t *testing.T) {
	persistence := newMemoryPersistence()
	vault := newTestVault(t, persistence)
	ctx := context.Background()

	// Expires in one minute, margin is five: must refresh.
	if _, err := vault.Save(ctx, expiringCredential(42, time.Minute), EnvironmentProduction, CredentialScopeUser); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	endpoint := &countingEndpoint{grant: TokenGrant{
		AccessToken:  "fresh-token",
		RefreshToken: "rotated-refresh",
		ExpiresIn:    3600,
	}}
	coordinator := newTestCoordinator(t, vault, endpoint)

	resolved, err := coordinator.EnsureFresh(ctx, 42, MarketplaceEbay, EnvironmentProduction)
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if resolved.Credential.AccessToken != "fresh-token" {
		t.Fatalf("expected refreshed token, got %q", resolved.Credential.AccessToken)
	}
	if resolved.Credential.RefreshToken != "rotated-refresh" {
		t.Fatalf("expected rotated refresh token, got %q", resolved.Credential.RefreshToken)
	}

	// The refreshed credential must be durable, not just in-memory.
	reloaded, err := vault.Get(ctx, 42, MarketplaceEbay, EnvironmentProduction)
	if err != nil {
		t.Fatalf("reload credential: %v", err)
	}
	if reloaded.Credential.AccessToken != "fresh-token" {
		t.Fatalf("expected persisted refresh, got %q", reloaded.Credential.AccessToken)
	}
}

func TestRefreshCoordinatorNotifiesObservers(t *testing.T) {
	persistence := newMemoryPersistence()
	vault := newTestVault(t, persistence)
	ctx := context.Background()

	if _, err := vault.Save(ctx, expiringCredential(42, time.Minute), EnvironmentProduction, CredentialScopeUser); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	endpoint := &countingEndpoint{grant: TokenGrant{AccessToken: "fresh-token", ExpiresIn: 3600}}
	coordinator := newTestCoordinator(t, vault, endpoint)

	var observed []string
	var mu sync.Mutex
	coordinator.RegisterOnUpdate(func(cred Credential) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, cred.AccessToken)
	})

	if _, err := coordinator.Refresh(ctx, 42, MarketplaceEbay, EnvironmentProduction); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 || observed[0] != "fresh-token" {
		t.Fatalf("expected one observer call with new token, got %#v", observed)
	}
}

func TestRefreshCoordinatorExpiredRefreshTokenFailsFast(t *testing.T) {
	persistence := newMemoryPersistence()
	vault := newTestVault(t, persistence)
	ctx := context.Background()

	cred := expiringCredential(42, time.Minute)
	expired := time.Now().UTC().Add(-time.Hour)
	cred.RefreshTokenExpiresAt = &expired
	if _, err := vault.Save(ctx, cred, EnvironmentProduction, CredentialScopeUser); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	endpoint := &countingEndpoint{grant: TokenGrant{AccessToken: "fresh-token"}}
	coordinator := newTestCoordinator(t, vault, endpoint)

	_, err := coordinator.Refresh(ctx, 42, MarketplaceEbay, EnvironmentProduction)
	if err == nil {
		t.Fatalf("expected expired refresh token to fail")
	}
	if got := endpoint.callCount(); got != 0 {
		t.Fatalf("expected no endpoint call for expired refresh token, got %d", got)
	}
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	margin := 5 * time.Minute

	fresh := Credential{AccessToken: "t"}
	at := now.Add(time.Hour)
	fresh.AccessTokenExpiresAt = &at
	if NeedsRefresh(fresh, margin, now) {
		t.Fatalf("expected token expiring in an hour to be fresh")
	}

	soon := Credential{AccessToken: "t"}
	soonAt := now.Add(time.Minute)
	soon.AccessTokenExpiresAt = &soonAt
	if !NeedsRefresh(soon, margin, now) {
		t.Fatalf("expected token inside margin to need refresh")
	}

	noExpiry := Credential{AccessToken: "t"}
	if NeedsRefresh(noExpiry, margin, now) {
		t.Fatalf("expected token without expiry to be trusted")
	}

	empty := Credential{RefreshToken: "r"}
	if !NeedsRefresh(empty, margin, now) {
		t.Fatalf("expected refreshable credential without access token to need refresh")
	}
}
