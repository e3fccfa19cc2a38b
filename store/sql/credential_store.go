package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-marketauth/core"
)

// CredentialStore persists marketplace credentials. Exactly one active row
// exists per (user, marketplace, environment, scope) slot; storing a new
// credential deactivates its predecessor inside the same transaction.
type CredentialStore struct {
	db   *bun.DB
	repo repository.Repository[*marketplaceCredentialRecord]
}

var _ core.CredentialPersistence = (*CredentialStore)(nil)

func NewCredentialStore(db *bun.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*marketplaceCredentialRecord](db, marketplaceCredentialHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	return &CredentialStore{db: db, repo: repo}, nil
}

func (s *CredentialStore) StoreCredential(ctx context.Context, credential core.Credential) (core.Credential, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	credential.MarketplaceID = strings.TrimSpace(strings.ToLower(credential.MarketplaceID))
	if err := credential.Key().Validate(); err != nil {
		return core.Credential{}, err
	}
	now := time.Now().UTC()

	var stored core.Credential
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if credential.IsActive {
			_, updateErr := tx.NewUpdate().
				Model((*marketplaceCredentialRecord)(nil)).
				Set("is_active = ?", false).
				Set("updated_at = ?", now).
				Where("user_id = ?", credential.UserID).
				Where("marketplace_id = ?", credential.MarketplaceID).
				Where("environment = ?", string(credential.Environment)).
				Where("scope = ?", string(credential.Scope)).
				Where("is_active = ?", true).
				Exec(ctx)
			if updateErr != nil {
				return updateErr
			}
		}

		record := newMarketplaceCredentialRecord(credential, now)
		inserted, createErr := s.repo.CreateTx(ctx, tx, record)
		if createErr != nil {
			return createErr
		}
		stored = inserted.toDomain()
		return nil
	})
	if err != nil {
		return core.Credential{}, err
	}
	return stored, nil
}

func (s *CredentialStore) LoadCredential(ctx context.Context, key core.CredentialKey) (core.Credential, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	if err := key.Validate(); err != nil {
		return core.Credential{}, err
	}
	var records []*marketplaceCredentialRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("user_id = ?", key.UserID).
		Where("marketplace_id = ?", strings.TrimSpace(strings.ToLower(key.MarketplaceID))).
		Where("environment = ?", string(key.Environment)).
		Where("scope = ?", string(key.Scope)).
		Where("is_active = ?", true).
		Order("updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Credential{}, err
	}
	if len(records) == 0 {
		return core.Credential{}, fmt.Errorf("%w: %s", core.ErrCredentialNotFound, key.String())
	}
	return records[0].toDomain(), nil
}

func (s *CredentialStore) ListCredentials(ctx context.Context, filter core.CredentialFilter) ([]core.Credential, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	var records []*marketplaceCredentialRecord
	query := s.db.NewSelect().
		Model(&records).
		Order("updated_at DESC")
	if filter.UserID > 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if marketplaceID := strings.TrimSpace(strings.ToLower(filter.MarketplaceID)); marketplaceID != "" {
		query = query.Where("marketplace_id = ?", marketplaceID)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	credentials := make([]core.Credential, 0, len(records))
	for _, record := range records {
		credentials = append(credentials, record.toDomain())
	}
	return credentials, nil
}
