package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-marketauth/core"
)

type marketplaceCredentialRecord struct {
	bun.BaseModel `bun:"table:marketplace_credentials,alias:mc"`

	ID                    string            `bun:"id,pk"`
	UserID                int64             `bun:"user_id,notnull"`
	MarketplaceID         string            `bun:"marketplace_id,notnull"`
	Environment           string            `bun:"environment,notnull"`
	Scope                 string            `bun:"scope,notnull"`
	SecretMaterial        map[string]string `bun:"secret_material,type:jsonb,notnull"`
	AccessToken           string            `bun:"access_token"`
	RefreshToken          string            `bun:"refresh_token"`
	AccessTokenExpiresAt  *time.Time        `bun:"access_token_expires_at,nullzero"`
	RefreshTokenExpiresAt *time.Time        `bun:"refresh_token_expires_at,nullzero"`
	IsActive              bool              `bun:"is_active,notnull"`
	CreatedAt             time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newMarketplaceCredentialRecord(cred core.Credential, now time.Time) *marketplaceCredentialRecord {
	material := cred.SecretMaterial
	if material == nil {
		material = map[string]string{}
	}
	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &marketplaceCredentialRecord{
		UserID:                cred.UserID,
		MarketplaceID:         cred.MarketplaceID,
		Environment:           string(cred.Environment),
		Scope:                 string(cred.Scope),
		SecretMaterial:        material,
		AccessToken:           cred.AccessToken,
		RefreshToken:          cred.RefreshToken,
		AccessTokenExpiresAt:  cred.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: cred.RefreshTokenExpiresAt,
		IsActive:              cred.IsActive,
		CreatedAt:             createdAt,
		UpdatedAt:             now,
	}
}

func (r *marketplaceCredentialRecord) toDomain() core.Credential {
	if r == nil {
		return core.Credential{}
	}
	return core.Credential{
		UserID:                r.UserID,
		MarketplaceID:         r.MarketplaceID,
		Environment:           core.Environment(r.Environment),
		Scope:                 core.CredentialScope(r.Scope),
		SecretMaterial:        r.SecretMaterial,
		AccessToken:           r.AccessToken,
		RefreshToken:          r.RefreshToken,
		AccessTokenExpiresAt:  r.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: r.RefreshTokenExpiresAt,
		IsActive:              r.IsActive,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}.Clone()
}
