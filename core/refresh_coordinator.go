package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// NeedsRefresh reports whether a credential's access token is missing or will
// expire within the safety margin. A token without a recorded expiry is
// trusted until the marketplace rejects it.
func NeedsRefresh(cred Credential, margin time.Duration, now time.Time) bool {
	if strings.TrimSpace(cred.AccessToken) == "" {
		return strings.TrimSpace(cred.RefreshToken) != ""
	}
	if cred.AccessTokenExpiresAt == nil {
		return false
	}
	return !now.Add(margin).Before(cred.AccessTokenExpiresAt.UTC())
}

// RefreshTokenExpired reports whether the refresh token itself is past its
// recorded expiry, in which case the user must re-authorize.
func RefreshTokenExpired(cred Credential, now time.Time) bool {
	if cred.RefreshTokenExpiresAt == nil {
		return false
	}
	return now.After(cred.RefreshTokenExpiresAt.UTC())
}

// directExecutor runs the token-endpoint call with no resilience wrapper.
type directExecutor struct{}

func (directExecutor) Execute(ctx context.Context, _ string, op func(context.Context) error) error {
	return op(ctx)
}

// TokenRefreshCoordinator guarantees at most one in-flight token-endpoint
// call per credential slot. Concurrent callers for the same slot share the
// result of the winning call; distinct slots refresh independently.
type TokenRefreshCoordinator struct {
	vault    *CredentialVault
	endpoint TokenEndpointCaller
	executor RefreshExecutor
	config   Config
	logger   Logger
	now      func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	observers []CredentialUpdateObserver
}

func NewTokenRefreshCoordinator(
	vault *CredentialVault,
	endpoint TokenEndpointCaller,
	executor RefreshExecutor,
	cfg Config,
	logger Logger,
) (*TokenRefreshCoordinator, error) {
	if vault == nil {
		return nil, fmt.Errorf("core: credential vault is required")
	}
	if endpoint == nil {
		return nil, fmt.Errorf("core: token endpoint caller is required")
	}
	if executor == nil {
		executor = directExecutor{}
	}
	return &TokenRefreshCoordinator{
		vault:    vault,
		endpoint: endpoint,
		executor: executor,
		config:   cfg,
		logger:   glog.Ensure(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// RegisterOnUpdate adds an observer called after every successful refresh,
// once the new credential is persisted. Observers run synchronously and must
// not block.
func (c *TokenRefreshCoordinator) RegisterOnUpdate(observer CredentialUpdateObserver) {
	if c == nil || observer == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

// EnsureFresh resolves the credential and refreshes it when the access token
// is inside the safety margin. Fresh credentials return without any network
// call.
func (c *TokenRefreshCoordinator) EnsureFresh(
	ctx context.Context,
	userID int64,
	marketplaceID string,
	environment Environment,
) (ResolvedCredential, error) {
	if c == nil {
		return ResolvedCredential{}, fmt.Errorf("core: refresh coordinator is nil")
	}
	resolved, err := c.vault.Get(ctx, userID, marketplaceID, environment)
	if err != nil {
		return ResolvedCredential{}, err
	}
	if !NeedsRefresh(resolved.Credential, c.config.RefreshSafetyMargin(), c.now()) {
		return resolved, nil
	}

	refreshed, err := c.Refresh(ctx, userID, marketplaceID, environment)
	if err != nil {
		return ResolvedCredential{}, err
	}
	resolved.Credential = refreshed
	return resolved, nil
}

// Refresh performs the token-endpoint exchange for one credential slot,
// deduplicating concurrent callers through a single flight keyed by
// user, marketplace, and environment.
func (c *TokenRefreshCoordinator) Refresh(
	ctx context.Context,
	userID int64,
	marketplaceID string,
	environment Environment,
) (Credential, error) {
	if c == nil {
		return Credential{}, fmt.Errorf("core: refresh coordinator is nil")
	}
	marketplaceID = strings.TrimSpace(strings.ToLower(marketplaceID))
	flightKey := fmt.Sprintf("%d|%s|%s", userID, marketplaceID, environment)

	result, err, _ := c.group.Do(flightKey, func() (any, error) {
		return c.refreshSlot(ctx, userID, marketplaceID, environment)
	})
	if err != nil {
		return Credential{}, err
	}
	cred, ok := result.(Credential)
	if !ok {
		return Credential{}, MapError(fmt.Errorf("core: unexpected refresh result type"))
	}
	return cred.Clone(), nil
}

func (c *TokenRefreshCoordinator) refreshSlot(
	ctx context.Context,
	userID int64,
	marketplaceID string,
	environment Environment,
) (Credential, error) {
	resolved, err := c.vault.Get(ctx, userID, marketplaceID, environment)
	if err != nil {
		return Credential{}, err
	}
	cred := resolved.Credential

	// A caller that queued behind the winning flight sees the refreshed
	// credential here and skips the endpoint entirely.
	now := c.now()
	if !NeedsRefresh(cred, c.config.RefreshSafetyMargin(), now) {
		return cred, nil
	}
	if strings.TrimSpace(cred.RefreshToken) == "" {
		return Credential{}, MapError(fmt.Errorf(
			"core: refresh token is missing for user %d marketplace %q", userID, marketplaceID,
		))
	}
	if RefreshTokenExpired(cred, now) {
		return Credential{}, MapError(fmt.Errorf(
			"core: refresh token expired for user %d marketplace %q; re-authorization required",
			userID, marketplaceID,
		))
	}

	marketplaceCfg, ok := c.config.Marketplace(marketplaceID)
	if !ok {
		return Credential{}, MapError(fmt.Errorf("core: marketplace %q is not configured", marketplaceID))
	}

	var grant TokenGrant
	execErr := c.executor.Execute(ctx, marketplaceID, func(ctx context.Context) error {
		var callErr error
		grant, callErr = c.endpoint.RefreshGrant(ctx, marketplaceCfg, cred)
		return callErr
	})
	if execErr != nil {
		c.logger.Error("token refresh failed",
			"user_id", userID,
			"marketplace_id", marketplaceID,
			"environment", string(cred.Environment),
			"error", execErr.Error(),
		)
		return Credential{}, MapError(fmt.Errorf("core: refresh token exchange: %w", execErr))
	}

	updated := applyTokenGrant(cred, grant, c.now())
	stored, err := c.vault.Save(ctx, updated, updated.Environment, updated.Scope)
	if err != nil {
		return Credential{}, err
	}

	c.logger.Info("token refreshed",
		"user_id", userID,
		"marketplace_id", marketplaceID,
		"environment", string(stored.Environment),
	)
	c.notify(stored)
	return stored, nil
}

func (c *TokenRefreshCoordinator) notify(cred Credential) {
	c.mu.RLock()
	observers := make([]CredentialUpdateObserver, len(c.observers))
	copy(observers, c.observers)
	c.mu.RUnlock()
	for _, observer := range observers {
		observer(cred.Clone())
	}
}

// applyTokenGrant folds a grant into the credential. The refresh token only
// rotates when the marketplace sends a replacement; expiries are computed
// from the grant's relative lifetimes.
func applyTokenGrant(cred Credential, grant TokenGrant, now time.Time) Credential {
	cred = cred.Clone()
	cred.AccessToken = strings.TrimSpace(grant.AccessToken)
	if rotated := strings.TrimSpace(grant.RefreshToken); rotated != "" {
		cred.RefreshToken = rotated
	}
	if grant.ExpiresIn > 0 {
		expiresAt := now.Add(time.Duration(grant.ExpiresIn) * time.Second)
		cred.AccessTokenExpiresAt = &expiresAt
	} else {
		cred.AccessTokenExpiresAt = nil
	}
	if grant.RefreshExpiresIn > 0 {
		refreshExpiresAt := now.Add(time.Duration(grant.RefreshExpiresIn) * time.Second)
		cred.RefreshTokenExpiresAt = &refreshExpiresAt
	}
	return cred
}
