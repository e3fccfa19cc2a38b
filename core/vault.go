package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const credentialCacheKeyPrefix = "go-marketauth::credential::v1"

// CredentialVault resolves, normalizes, and persists marketplace credentials.
// The cache in front of the persistence collaborator is the only shared
// mutable state; Save is the sole writer and invalidates synchronously, so a
// save is visible to the very next Get from any caller.
type CredentialVault struct {
	persistence CredentialPersistence
	cache       repositorycache.CacheService
	config      Config
	logger      Logger
	now         func() time.Time
}

func NewCredentialVault(
	persistence CredentialPersistence,
	cacheService repositorycache.CacheService,
	cfg Config,
	logger Logger,
) (*CredentialVault, error) {
	if persistence == nil {
		return nil, fmt.Errorf("core: credential persistence is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("core: credential cache service is required")
	}
	return &CredentialVault{
		persistence: persistence,
		cache:       cacheService,
		config:      cfg,
		logger:      glog.Ensure(logger),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// CredentialCacheKey returns the deterministic cache key for one credential
// slot: go-marketauth::credential::v1::<user>::<marketplace>::<env>::<scope>
// with each segment URL-path escaped.
func CredentialCacheKey(key CredentialKey) string {
	segments := []string{
		strconv.FormatInt(key.UserID, 10),
		strings.TrimSpace(strings.ToLower(key.MarketplaceID)),
		string(key.Environment),
		string(key.Scope),
	}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{credentialCacheKeyPrefix}, segments...), "::")
}

// Get resolves the best usable credential for a user and marketplace.
//
// The preferred environment is the explicit argument, else the environment of
// any credential the user already has for this marketplace, else the
// configured default. Candidates are tried preferred-first then the other
// environment; within each environment user scope is tried before global.
// Fallbacks never fail silently: they attach warnings instead.
func (v *CredentialVault) Get(
	ctx context.Context,
	userID int64,
	marketplaceID string,
	environment Environment,
) (ResolvedCredential, error) {
	if v == nil {
		return ResolvedCredential{}, fmt.Errorf("core: credential vault is nil")
	}
	marketplaceID = strings.TrimSpace(strings.ToLower(marketplaceID))
	if marketplaceID == "" {
		return ResolvedCredential{}, MapError(fmt.Errorf("core: marketplace id is required"))
	}
	if userID <= 0 {
		return ResolvedCredential{}, MapError(fmt.Errorf("core: user id is required"))
	}

	preferred, err := v.preferredEnvironment(ctx, userID, marketplaceID, environment)
	if err != nil {
		return ResolvedCredential{}, MapError(err)
	}

	var (
		accepted Credential
		found    bool
	)
	for _, candidateEnv := range []Environment{preferred, preferred.Other()} {
		for _, scope := range []CredentialScope{CredentialScopeUser, CredentialScopeGlobal} {
			owner := userID
			if scope == CredentialScopeGlobal {
				owner = GlobalCredentialUserID
			}
			key := CredentialKey{
				UserID:        owner,
				MarketplaceID: marketplaceID,
				Environment:   candidateEnv,
				Scope:         scope,
			}
			cred, loadErr := v.loadCached(ctx, key)
			if loadErr != nil {
				if isNotFound(loadErr) {
					continue
				}
				return ResolvedCredential{}, MapError(loadErr)
			}
			if !cred.IsActive || !cred.HasSecretMaterial() {
				continue
			}
			accepted = cred
			found = true
			break
		}
		if found {
			break
		}
	}
	if !found {
		return ResolvedCredential{}, MapError(fmt.Errorf(
			"%w: user %d marketplace %q", ErrCredentialNotFound, userID, marketplaceID,
		))
	}

	var warnings []CredentialWarning
	if accepted.Environment != preferred {
		warnings = append(warnings, CredentialWarning{
			Code: WarningEnvironmentFallback,
			Message: fmt.Sprintf(
				"no %s credential found; falling back to %s", preferred, accepted.Environment,
			),
		})
	}
	if accepted.Scope == CredentialScopeGlobal {
		warnings = append(warnings, CredentialWarning{
			Code:    WarningSharedCredential,
			Message: "using shared global credential instead of a user-owned one",
		})
	}

	normalized, issues, normalizationWarnings := NormalizeCredential(marketplaceID, accepted)
	warnings = append(warnings, normalizationWarnings...)

	return ResolvedCredential{
		Credential: normalized,
		Issues:     issues,
		Warnings:   warnings,
	}, nil
}

// Save writes through to persistence and then synchronously invalidates the
// cache entries for both environments of the (user, marketplace) pair. The
// environment flag embedded in the credential always matches the environment
// it is filed under.
func (v *CredentialVault) Save(
	ctx context.Context,
	credential Credential,
	environment Environment,
	scope CredentialScope,
) (Credential, error) {
	if v == nil {
		return Credential{}, fmt.Errorf("core: credential vault is nil")
	}
	credential.MarketplaceID = strings.TrimSpace(strings.ToLower(credential.MarketplaceID))
	credential.Environment = environment
	credential.Scope = scope
	if scope == CredentialScopeGlobal {
		credential.UserID = GlobalCredentialUserID
	}
	if err := credential.Key().Validate(); err != nil {
		return Credential{}, MapError(err)
	}
	if !credential.HasSecretMaterial() {
		return Credential{}, MapError(fmt.Errorf("core: credential secret material is required"))
	}

	now := v.now()
	credential.IsActive = true
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}
	credential.UpdatedAt = now

	stored, err := v.persistence.StoreCredential(ctx, credential.Clone())
	if err != nil {
		return Credential{}, MapError(err)
	}
	if err := v.invalidate(ctx, credential.UserID, credential.MarketplaceID); err != nil {
		return Credential{}, MapError(err)
	}

	v.logger.Info("credential saved",
		"user_id", credential.UserID,
		"marketplace_id", credential.MarketplaceID,
		"environment", string(environment),
		"scope", string(scope),
	)
	v.logger.Debug("credential material stored",
		"marketplace_id", credential.MarketplaceID,
		"fields", RedactSecretMaterial(credential.SecretMaterial),
	)
	return stored, nil
}

// Deactivate marks the active credential for a key inactive, preserving the
// row for audit history.
func (v *CredentialVault) Deactivate(ctx context.Context, key CredentialKey) error {
	if v == nil {
		return fmt.Errorf("core: credential vault is nil")
	}
	if err := key.Validate(); err != nil {
		return MapError(err)
	}
	cred, err := v.loadCached(ctx, key)
	if err != nil {
		return MapError(err)
	}
	cred.IsActive = false
	cred.UpdatedAt = v.now()
	if _, err := v.persistence.StoreCredential(ctx, cred); err != nil {
		return MapError(err)
	}
	if err := v.invalidate(ctx, key.UserID, key.MarketplaceID); err != nil {
		return MapError(err)
	}
	return nil
}

func (v *CredentialVault) preferredEnvironment(
	ctx context.Context,
	userID int64,
	marketplaceID string,
	explicit Environment,
) (Environment, error) {
	if strings.TrimSpace(string(explicit)) != "" {
		return ParseEnvironment(string(explicit))
	}
	existing, err := v.persistence.ListCredentials(ctx, CredentialFilter{
		UserID:        userID,
		MarketplaceID: marketplaceID,
		ActiveOnly:    true,
	})
	if err != nil && !isNotFound(err) {
		return "", err
	}
	for _, cred := range existing {
		if cred.Environment.Validate() == nil {
			return cred.Environment, nil
		}
	}
	return ParseEnvironment(v.config.DefaultEnvironment)
}

func (v *CredentialVault) loadCached(ctx context.Context, key CredentialKey) (Credential, error) {
	cred, err := repositorycache.GetOrFetch(ctx, v.cache, CredentialCacheKey(key),
		func(ctx context.Context) (Credential, error) {
			fetched, fetchErr := v.persistence.LoadCredential(ctx, key)
			if fetchErr != nil {
				return Credential{}, fetchErr
			}
			return fetched.Clone(), nil
		})
	if err != nil {
		return Credential{}, err
	}
	return cred.Clone(), nil
}

func (v *CredentialVault) invalidate(ctx context.Context, userID int64, marketplaceID string) error {
	for _, environment := range []Environment{EnvironmentSandbox, EnvironmentProduction} {
		for _, scoped := range []CredentialKey{
			{UserID: userID, MarketplaceID: marketplaceID, Environment: environment, Scope: CredentialScopeUser},
			{UserID: GlobalCredentialUserID, MarketplaceID: marketplaceID, Environment: environment, Scope: CredentialScopeGlobal},
		} {
			if err := v.cache.Delete(ctx, CredentialCacheKey(scoped)); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCredentialNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
