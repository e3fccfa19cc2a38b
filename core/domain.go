package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidEnvironment     = errors.New("core: invalid environment")
	ErrInvalidCredentialScope = errors.New("core: invalid credential scope")
	ErrInvalidMarketplace     = errors.New("core: invalid marketplace id")
	ErrCredentialNotFound     = errors.New("core: credential not found")
)

// Environment selects the sandbox or production API surface of a marketplace.
// Credentials are filed per environment.
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

func ParseEnvironment(raw string) (Environment, error) {
	switch Environment(strings.TrimSpace(strings.ToLower(raw))) {
	case EnvironmentSandbox:
		return EnvironmentSandbox, nil
	case EnvironmentProduction:
		return EnvironmentProduction, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEnvironment, raw)
}

// Other returns the counterpart environment, used for fallback resolution.
func (e Environment) Other() Environment {
	if e == EnvironmentSandbox {
		return EnvironmentProduction
	}
	return EnvironmentSandbox
}

func (e Environment) Validate() error {
	_, err := ParseEnvironment(string(e))
	return err
}

// CredentialScope distinguishes a user-owned credential from a shared/global
// fallback configured by an administrator.
type CredentialScope string

const (
	CredentialScopeUser   CredentialScope = "user"
	CredentialScopeGlobal CredentialScope = "global"
)

func (s CredentialScope) Validate() error {
	switch s {
	case CredentialScopeUser, CredentialScopeGlobal:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidCredentialScope, string(s))
}

// GlobalCredentialUserID is the sentinel owner of shared/global credentials.
const GlobalCredentialUserID int64 = 0

const (
	MarketplaceEbay         = "ebay"
	MarketplaceMercadoLibre = "mercadolibre"
	MarketplaceAmazon       = "amazon"
	MarketplaceAliexpress   = "aliexpress"
)

// CredentialKey identifies exactly one credential slot. At most one active
// credential exists per key.
type CredentialKey struct {
	UserID        int64
	MarketplaceID string
	Environment   Environment
	Scope         CredentialScope
}

func (k CredentialKey) Validate() error {
	if strings.TrimSpace(k.MarketplaceID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMarketplace)
	}
	if err := k.Environment.Validate(); err != nil {
		return err
	}
	if err := k.Scope.Validate(); err != nil {
		return err
	}
	if k.Scope == CredentialScopeUser && k.UserID <= 0 {
		return fmt.Errorf("core: user id is required for user-scoped credentials")
	}
	return nil
}

func (k CredentialKey) String() string {
	return strconv.FormatInt(k.UserID, 10) + "|" +
		strings.TrimSpace(k.MarketplaceID) + "|" +
		string(k.Environment) + "|" +
		string(k.Scope)
}

// Credential carries the secret material and OAuth token lifecycle state for
// one (user, marketplace, environment, scope) slot. Deactivated credentials
// are kept for audit history, never deleted.
type Credential struct {
	UserID                int64
	MarketplaceID         string
	Environment           Environment
	Scope                 CredentialScope
	SecretMaterial        map[string]string
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  *time.Time
	RefreshTokenExpiresAt *time.Time
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (c Credential) Key() CredentialKey {
	return CredentialKey{
		UserID:        c.UserID,
		MarketplaceID: strings.TrimSpace(c.MarketplaceID),
		Environment:   c.Environment,
		Scope:         c.Scope,
	}
}

func (c Credential) HasSecretMaterial() bool {
	for _, value := range c.SecretMaterial {
		if strings.TrimSpace(value) != "" {
			return true
		}
	}
	return false
}

func (c Credential) HasToken() bool {
	return strings.TrimSpace(c.AccessToken) != "" || strings.TrimSpace(c.RefreshToken) != ""
}

func (c Credential) Clone() Credential {
	cloned := c
	cloned.SecretMaterial = copyStringMap(c.SecretMaterial)
	cloned.AccessTokenExpiresAt = cloneTimePointer(c.AccessTokenExpiresAt)
	cloned.RefreshTokenExpiresAt = cloneTimePointer(c.RefreshTokenExpiresAt)
	return cloned
}

// SecretField returns a trimmed value from the secret material, trying each
// alias in order.
func (c Credential) SecretField(keys ...string) string {
	for _, key := range keys {
		if value, ok := c.SecretMaterial[key]; ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// CredentialIssue is a blocking problem: the credential cannot be used for
// marketplace calls until resolved.
type CredentialIssue struct {
	Field   string
	Message string
}

type WarningCode string

const (
	WarningEnvironmentFallback  WarningCode = "environment_fallback"
	WarningSharedCredential     WarningCode = "shared_credential"
	WarningMissingAuthorization WarningCode = "missing_authorization"
)

// CredentialWarning is a non-blocking signal: the credential is degraded but
// usable. Callers decide whether to surface or hard-fail.
type CredentialWarning struct {
	Code    WarningCode
	Message string
}

// ResolvedCredential is the result of a vault lookup: the credential plus any
// issues and warnings attached as side metadata, never raised as errors.
type ResolvedCredential struct {
	Credential Credential
	Issues     []CredentialIssue
	Warnings   []CredentialWarning
}

func (r ResolvedCredential) Usable() bool {
	return len(r.Issues) == 0
}

func (r ResolvedCredential) HasWarning(code WarningCode) bool {
	for _, warning := range r.Warnings {
		if warning.Code == code {
			return true
		}
	}
	return false
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}
